package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kebairia/bakctl/internal/backup"
	"github.com/kebairia/bakctl/internal/config"
)

func init() {
	Register("local", func(_ context.Context, cfg config.StorageConfig) (Backend, error) {
		return NewLocal(cfg.Path, cfg.Prefix)
	})
}

// Local stores artifacts on the local filesystem under a base directory.
type Local struct {
	basePath string
	prefix   string
}

var _ Backend = (*Local)(nil)

// NewLocal creates the base directory if needed and returns the backend.
func NewLocal(basePath, prefix string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(basePath, prefix), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Local{basePath: basePath, prefix: prefix}, nil
}

func (l *Local) fullPath(key string) string {
	return filepath.Join(l.basePath, l.prefix, key)
}

func (l *Local) Upload(_ context.Context, localPath, key string, _ map[string]string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", localPath, err)
	}
	defer src.Close()

	dest := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
	}

	// Write to a temp name then rename, so a torn upload never leaves a
	// half-written object under the final key.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write object %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close object %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize object %q: %w", key, err)
	}
	return key, nil
}

func (l *Local) Download(_ context.Context, key, localPath string) error {
	src, err := os.Open(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: object %q", backup.ErrNotFound, key)
		}
		return fmt.Errorf("open object %q: %w", key, err)
	}
	defer src.Close()

	dest, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return fmt.Errorf("download object %q: %w", key, err)
	}
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	err := os.Remove(l.fullPath(key))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: object %q", backup.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (l *Local) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	root := filepath.Join(l.basePath, l.prefix)
	searchPath := filepath.Join(root, prefix)

	var objects []ObjectInfo
	err := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects under %q: %w", prefix, err)
	}
	return objects, nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.fullPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %q: %w", key, err)
	}
	return true, nil
}
