package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Presigner is satisfied by *minio.Client.
type Presigner interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// MinioResolver 将 minio://bucket/path/playlist.m3u8 解析为预签名地址
type MinioResolver struct {
	client Presigner
	ttl    time.Duration
}

func NewMinioResolver(client Presigner, ttl time.Duration) *MinioResolver {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MinioResolver{client: client, ttl: ttl}
}

// ResolveManifestURL implements manifest.Resolver.
func (r *MinioResolver) ResolveManifestURL(ctx context.Context, locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse locator: %w", err)
	}
	bucket := u.Host
	object := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != SchemeMinio || bucket == "" || object == "" {
		return "", fmt.Errorf("locator %q is not minio://bucket/object", locator)
	}

	presigned, err := r.client.PresignedGetObject(ctx, bucket, object, r.ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, object, err)
	}
	return presigned.String(), nil
}
