package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
)

// MinioUploader puts recordings into an S3-compatible bucket.
type MinioUploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
	maxBytes  int64
}

// NewMinioUploader connects to MinIO and creates the bucket if missing.
func NewMinioUploader(ctx context.Context, cfg *config.Config) (*MinioUploader, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinioBucket, err)
		}
		log.Info().Str("bucket", cfg.MinioBucket).Msg("Created recordings bucket")
	}

	public := cfg.MinioPublicURL
	if public == "" {
		scheme := "http"
		if cfg.MinioUseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.MinioEndpoint
	}
	return &MinioUploader{
		client:    client,
		bucket:    cfg.MinioBucket,
		publicURL: strings.TrimRight(public, "/"),
		maxBytes:  cfg.MaxRecordingBytes,
	}, nil
}

// Upload stores the blob and returns its public object URL.
func (u *MinioUploader) Upload(ctx context.Context, name string, blob attempt.Blob) (string, error) {
	ext, err := validate(blob, u.maxBytes)
	if err != nil {
		return "", err
	}

	object := "recordings/" + uuid.New().String() + "-" + objectName(name, ext)
	_, err = u.client.PutObject(ctx, u.bucket, object, bytes.NewReader(blob.Data), int64(len(blob.Data)), minio.PutObjectOptions{
		ContentType: baseMIME(blob.MimeType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return u.publicURL + "/" + u.bucket + "/" + object, nil
}
