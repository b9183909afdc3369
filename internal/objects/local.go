package objects

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"tigsync/internal/metrics"
)

// LocalBackend implements Backend on the local filesystem.
type LocalBackend struct {
	rootPath string
}

// NewLocalBackend creates a filesystem backend rooted at rootPath, creating
// the directory if needed.
func NewLocalBackend(rootPath string) (*LocalBackend, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("create root path %s: %w", rootPath, err)
	}
	return &LocalBackend{rootPath: rootPath}, nil
}

func (b *LocalBackend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(key))
}

// Put writes data through a temp file in the target directory and renames it
// into place, so readers never observe a partially written chunk.
func (b *LocalBackend) Put(_ context.Context, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { metrics.RecordBackendOperation("local", "put", time.Since(start), err == nil) }()

	if err := validateKey(key); err != nil {
		return err
	}
	path := b.fullPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Get reads the file at key.
func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, error) {
	start := time.Now()
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.fullPath(key))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			metrics.RecordBackendOperation("local", "get", time.Since(start), true)
			return nil, ErrNotFound
		}
		metrics.RecordBackendOperation("local", "get", time.Since(start), false)
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	metrics.RecordBackendOperation("local", "get", time.Since(start), true)
	return data, nil
}

// Exists reports whether a regular file exists at key.
func (b *LocalBackend) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes the file at key.
func (b *LocalBackend) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(b.fullPath(key)); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }
