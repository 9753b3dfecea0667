// Package storage abstracts durable artifact storage behind one capability
// set: upload, download, delete, list. Concrete backends register
// themselves in a small registry keyed by a backend-type tag; the pipeline
// and retention engine never branch on backend identity.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kebairia/bakctl/internal/config"
)

// ErrUnknownBackend indicates a storage type no factory is registered for.
var ErrUnknownBackend = errors.New("unknown storage backend")

// ObjectInfo describes one stored artifact.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Backend is the storage capability set. Uploads are idempotent per key:
// re-uploading the same key with the same bytes is a no-op change, which is
// what makes retries safe.
type Backend interface {
	// Upload stores the file at localPath under key and returns the key.
	Upload(ctx context.Context, localPath, key string, tags map[string]string) (string, error)

	// Download fetches key into localPath.
	Download(ctx context.Context, key, localPath string) error

	// Delete removes the object at key. Deleting a missing key is an error
	// wrapped around backup.ErrNotFound.
	Delete(ctx context.Context, key string) error

	// List returns objects under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// Factory builds a backend from its configuration section.
type Factory func(ctx context.Context, cfg config.StorageConfig) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a backend factory under a type tag. Called from the
// backend implementations' init functions.
func Register(typeTag string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeTag] = f
}

// Open builds the backend named by cfg.Type.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, cfg.Type, registered())
	}
	return factory(ctx, cfg)
}

func registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
