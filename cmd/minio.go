package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hlsrelay/config"
	"hlsrelay/storage"
)

var minioPrefix string

var minioCmd = &cobra.Command{
	Use:   "minio <bucket>",
	Short: "列出存储桶中可用的 minio:// 定位符",
	Long:  `检查存储桶是否可访问，并列出前缀下的 .m3u8 播放列表，输出可直接传给 /download 的定位符。`,
	Args:  cobra.ExactArgs(1),
	Example: `  hlsrelay minio audio
  hlsrelay minio audio -p "albums/2024/"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, args[0])

		client, err := storage.NewMinioClient(cfg)
		if err != nil {
			return err
		}
		if client == nil {
			return errors.New("MINIO_ENDPOINT is not set")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := storage.CheckBucket(ctx, client, args[0]); err != nil {
			return err
		}
		fmt.Println("MinIO连接成功！")

		locators, err := storage.ListPlaylists(ctx, client, args[0], minioPrefix)
		if err != nil {
			return err
		}
		for _, l := range locators {
			fmt.Println(l)
		}
		fmt.Printf("\n共 %d 个播放列表\n", len(locators))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤对象")
}
