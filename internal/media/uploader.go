// Package media offloads inline base64 media from outgoing records to
// S3-compatible storage, replacing it with media:// references. When no
// bucket is configured the NoopUploader is used and inline media is
// stripped instead of uploaded, keeping push payloads small either way.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/greenhouse-labs/sprig/internal/config"
)

// ErrNotConfigured is returned when media storage is not configured.
var ErrNotConfigured = errors.New("media storage not configured")

// Uploader stores one media blob and returns its media:// reference.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// objectStore defines the minimal minio.Client surface used by
// S3Uploader, so tests can substitute a fake.
type objectStore interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

type minioStore struct {
	client *minio.Client
}

func (m *minioStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return err
}

// S3Uploader stores media in an S3-compatible bucket.
type S3Uploader struct {
	store  objectStore
	bucket string
}

// Upload writes the blob and returns its reference.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := u.store.PutObject(ctx, u.bucket, key, data, contentType); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	return "media://" + u.bucket + "/" + key, nil
}

// NoopUploader is used when media storage is not configured.
type NoopUploader struct{}

// Upload reports ErrNotConfigured; callers strip the media instead.
func (NoopUploader) Upload(context.Context, string, []byte, string) (string, error) {
	return "", ErrNotConfigured
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.MediaConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return NoopUploader{}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create media client: %w", err)
	}

	return &S3Uploader{
		store:  &minioStore{client: client},
		bucket: cfg.Bucket,
	}, nil
}
