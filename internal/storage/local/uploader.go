// Package local implements an archive uploader that copies staging folders
// into a directory on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Config captures the parameters for the local filesystem uploader.
type Config struct {
	// BaseDir is the root directory where archives will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Uploader copies finished staging folders to BaseDir/<run_id>.
type Uploader struct {
	fs      afero.Fs
	baseDir string
}

// New creates a local uploader, creating BaseDir when missing.
func New(fs afero.Fs, cfg Config) (*Uploader, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := fs.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := fs.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := afero.WriteFile(fs, testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := fs.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Uploader{fs: fs, baseDir: cfg.BaseDir}, nil
}

// Upload copies dir into BaseDir/runID and returns a file:// URI for it.
func (u *Uploader) Upload(ctx context.Context, runID string, dir string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	dest := filepath.Join(u.baseDir, runID)
	if _, err := u.fs.Stat(dest); err == nil {
		return "", fmt.Errorf("archive %s already exists", runID)
	}

	err := afero.Walk(u.fs, dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return u.fs.MkdirAll(target, 0o750)
		}
		return u.copyFile(path, target)
	})
	if err != nil {
		_ = u.fs.RemoveAll(dest)
		return "", fmt.Errorf("copy staging folder: %w", err)
	}
	return "file://" + dest, nil
}

func (u *Uploader) copyFile(src, dst string) error {
	in, err := u.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := u.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
