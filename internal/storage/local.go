package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-attempt/internal/attempt"
)

// LocalUploader writes recordings to a directory served under /uploads.
type LocalUploader struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewLocalUploader creates a new LocalUploader. baseURL is the public
// origin of the gateway.
func NewLocalUploader(dir, baseURL string, maxBytes int64) *LocalUploader {
	return &LocalUploader{dir: dir, baseURL: baseURL, maxBytes: maxBytes}
}

// Upload saves the blob under a UUID-prefixed name and returns its URL.
func (u *LocalUploader) Upload(ctx context.Context, name string, blob attempt.Blob) (string, error) {
	ext, err := validate(blob, u.maxBytes)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	filename := uuid.New().String() + "-" + objectName(name, ext)
	if err := os.WriteFile(filepath.Join(u.dir, filename), blob.Data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return u.baseURL + "/uploads/" + filename, nil
}
