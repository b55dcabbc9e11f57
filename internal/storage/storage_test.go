package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stemsi/exstem-attempt/internal/attempt"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		blob attempt.Blob
		max  int64
		ext  string
		err  error
	}{
		{"webm with codecs", attempt.Blob{Data: []byte("x"), MimeType: "video/webm;codecs=vp9"}, 0, ".webm", nil},
		{"mp4", attempt.Blob{Data: []byte("x"), MimeType: "video/mp4"}, 10, ".mp4", nil},
		{"image rejected", attempt.Blob{Data: []byte("x"), MimeType: "image/png"}, 0, "", ErrUnsupportedType},
		{"empty", attempt.Blob{MimeType: "video/webm"}, 0, "", ErrEmpty},
		{"too large", attempt.Blob{Data: []byte("12345"), MimeType: "video/webm"}, 4, "", ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ext, err := validate(tc.blob, tc.max)
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if ext != tc.ext {
				t.Errorf("ext = %q, want %q", ext, tc.ext)
			}
		})
	}
}

func TestObjectNameStripsDirectories(t *testing.T) {
	if got := objectName("../../etc/answer-q1.bin", ".webm"); got != "answer-q1.webm" {
		t.Errorf("got %q", got)
	}
	if got := objectName("", ".mp4"); got != "recording.mp4" {
		t.Errorf("got %q", got)
	}
}

func TestLocalUploader(t *testing.T) {
	dir := t.TempDir()
	u := NewLocalUploader(dir, "http://gw:8080", 1024)

	url, err := u.Upload(context.Background(), "answer-q1-1.webm", attempt.Blob{Data: []byte("clip"), MimeType: "video/webm"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "http://gw:8080/uploads/") || !strings.HasSuffix(url, "-answer-q1-1.webm") {
		t.Fatalf("url = %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "http://gw:8080/uploads/")))
	if err != nil || string(data) != "clip" {
		t.Fatalf("stored %q, err %v", data, err)
	}
}

type stubUploader struct{ err error }

func (s stubUploader) Upload(context.Context, string, attempt.Blob) (string, error) {
	return "u", s.err
}

func TestInstrumentPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Instrument("test", stubUploader{err: boom}).Upload(context.Background(), "n", attempt.Blob{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if u, err := Instrument("test", stubUploader{}).Upload(context.Background(), "n", attempt.Blob{}); err != nil || u != "u" {
		t.Fatalf("url %q err %v", u, err)
	}
}
