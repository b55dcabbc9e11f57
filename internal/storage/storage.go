package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/metrics"
)

// Sentinel errors for recording uploads.
var (
	ErrUnsupportedType = errors.New("unsupported recording type")
	ErrTooLarge        = errors.New("recording too large")
	ErrEmpty           = errors.New("recording is empty")
)

// Allowed recording MIME types and their file extensions.
var allowedMIMETypes = map[string]string{
	"video/webm": ".webm",
	"video/mp4":  ".mp4",
	"video/ogg":  ".ogv",
	"audio/webm": ".weba",
	"audio/ogg":  ".oga",
}

// validate checks a blob against the allowed types and the size cap.
// maxBytes <= 0 disables the cap.
func validate(blob attempt.Blob, maxBytes int64) (string, error) {
	mime := baseMIME(blob.MimeType)
	ext, ok := allowedMIMETypes[mime]
	if !ok {
		return "", fmt.Errorf("%w: %s (allowed: %s)",
			ErrUnsupportedType, blob.MimeType, strings.Join(allowedTypes(), ", "))
	}
	if len(blob.Data) == 0 {
		return "", ErrEmpty
	}
	if maxBytes > 0 && int64(len(blob.Data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes (max: %d)", ErrTooLarge, len(blob.Data), maxBytes)
	}
	return ext, nil
}

// objectName keeps the caller's base name and forces the extension that
// matches the validated type.
func objectName(name, ext string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "recording"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

// baseMIME strips parameters such as ";codecs=vp9".
func baseMIME(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

func allowedTypes() []string {
	types := make([]string, 0, len(allowedMIMETypes))
	for t := range allowedMIMETypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Instrument counts uploads per backend and outcome.
func Instrument(backend string, u attempt.Uploader) attempt.Uploader {
	return &instrumented{backend: backend, next: u}
}

type instrumented struct {
	backend string
	next    attempt.Uploader
}

func (i *instrumented) Upload(ctx context.Context, name string, blob attempt.Blob) (string, error) {
	url, err := i.next.Upload(ctx, name, blob)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordingUploads.WithLabelValues(i.backend, status).Inc()
	return url, err
}
