package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"hlsrelay/config"
	"hlsrelay/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewMinioClient 创建 MinIO 客户端，未配置 endpoint 时返回 nil
func NewMinioClient(cfg *config.Config) (*minio.Client, error) {
	if cfg.MinioEndpoint == "" {
		return nil, nil
	}

	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("region", cfg.MinioRegion),
		logger.Bool("ssl", cfg.MinioUseSSL))

	// Region 固定后预签名不需要查询 bucket location
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return client, nil
}

// CheckBucket 检查存储桶是否可访问，供启动自检使用
func CheckBucket(ctx context.Context, client *minio.Client, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		return fmt.Errorf("存储桶不存在: %s", bucket)
	}
	return nil
}

// ListPlaylists 列出前缀下所有 .m3u8 对象，返回 minio://bucket/object 形式的定位符
func ListPlaylists(ctx context.Context, client *minio.Client, bucket, prefix string) ([]string, error) {
	// 提前返回时取消，让 minio 的列举 goroutine 退出
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectCh := client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var locators []string
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("列出对象失败: %w", object.Err)
		}
		if strings.HasSuffix(strings.ToLower(object.Key), ".m3u8") {
			locators = append(locators, "minio://"+bucket+"/"+object.Key)
		}
	}
	sort.Strings(locators)
	return locators, nil
}
