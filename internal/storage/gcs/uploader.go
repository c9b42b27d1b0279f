// Package gcs uploads staging folders to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader writes each file of a staging folder under <prefix>/<run_id>/.
type Uploader struct {
	client *storage.Client
	fs     afero.Fs
	bucket string
	prefix string
}

// New creates a GCS-backed uploader reading staging folders from fs.
func New(client *storage.Client, fs afero.Fs, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Uploader{
		client: client,
		fs:     fs,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Upload copies every file under dir and returns gs://bucket/<prefix>/<run_id>.
func (u *Uploader) Upload(ctx context.Context, runID string, dir string) (string, error) {
	if strings.TrimSpace(runID) == "" || strings.Contains(runID, "/") {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	root := path.Join(u.prefix, runID)

	err := afero.Walk(u.fs, dir, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		return u.putObject(ctx, path.Join(root, filepath.ToSlash(rel)), p)
	})
	if err != nil {
		return "", fmt.Errorf("upload staging folder: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, root), nil
}

func (u *Uploader) putObject(ctx context.Context, object, src string) error {
	in, err := u.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() {
		_ = in.Close()
	}()

	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	if contentType := mime.TypeByExtension(path.Ext(object)); contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, in); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object %s: %w (close writer: %v)", object, err, closeErr)
		}
		return fmt.Errorf("copy object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer %s: %w", object, err)
	}
	return nil
}
