package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vbonduro/memelib/internal/disk"
)

// LocalDisk stores blobs as files under a root directory and serves them
// from a URL prefix mapped onto that directory by the HTTP layer.
type LocalDisk struct {
	root    string
	baseURL string
}

func NewLocalDisk(root, baseURL string) *LocalDisk {
	return &LocalDisk{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// Root returns the directory blobs are written to.
func (d *LocalDisk) Root() string { return d.root }

// BaseURL returns the URL prefix without a trailing slash.
func (d *LocalDisk) BaseURL() string { return d.baseURL }

func (d *LocalDisk) Ensure(ctx context.Context) error {
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return fmt.Errorf("%w: failed to create storage directory: %v", disk.ErrUnavailable, err)
	}
	return nil
}

func (d *LocalDisk) Save(ctx context.Context, key string, r io.Reader) error {
	filePath, err := d.safeJoin(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write next to the destination and rename, so a reader never observes
	// a half-written blob and an overwrite is all-or-nothing.
	f, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmpPath := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(tmpPath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(tmpPath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		slog.Warn("failed to set blob permissions", "key", key, "error", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		if rerr := os.Remove(tmpPath); rerr != nil {
			slog.Error("failed to remove file after rename error", "error", rerr)
		}
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// Open returns the blob stored under key. Callers must close it.
func (d *LocalDisk) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := d.safeJoin(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func (d *LocalDisk) Delete(ctx context.Context, key string) error {
	filePath, err := d.safeJoin(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (d *LocalDisk) URL(key string) string {
	return d.baseURL + "/" + key
}

// safeJoin resolves key relative to root and rejects directory traversal.
func (d *LocalDisk) safeJoin(key string) (string, error) {
	if err := disk.ValidKey(key); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(d.root)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(d.root, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal attempt", disk.ErrInvalidKey)
	}
	return absPath, nil
}
