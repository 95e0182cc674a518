package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"pixelforge/pkg/config"
	"pixelforge/pkg/errutil"

	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
)

var Module = fx.Module("storage",
	fx.Provide(NewMinioStore),
)

// MinioStore backs ObjectStore with a MinIO (S3-compatible) server.
type MinioStore struct {
	client  *minio.Client
	baseURL string
}

type MinioParams struct {
	fx.In
	Client *minio.Client
	Cfg    *config.Config
}

func NewMinioStore(p MinioParams) ObjectStore {
	baseURL := p.Cfg.Minio.PublicURL
	if baseURL == "" {
		scheme := "http"
		if p.Cfg.Minio.Secure {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, p.Cfg.Minio.Endpoint)
	}

	return &MinioStore{
		client:  p.Client,
		baseURL: baseURL,
	}
}

func (s *MinioStore) Download(ctx context.Context, bucket, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", errutil.Storage(err, "get object %s/%s", bucket, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", errutil.Storage(err, "read object %s/%s", bucket, key)
	}

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", errutil.Storage(err, "stat object %s/%s", bucket, key)
	}

	return data, stat.ContentType, nil
}

func (s *MinioStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", errutil.Storage(err, "put object %s/%s", bucket, key)
	}

	return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, key), nil
}
