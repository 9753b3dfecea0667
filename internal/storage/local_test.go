package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/bakctl/internal/backup"
	"github.com/kebairia/bakctl/internal/config"
)

func stageFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir(), "backups")
	require.NoError(t, err)

	src := stageFile(t, []byte("payload"))
	key, err := backend.Upload(ctx, src, "orders/full/2026-01-01-v1.zst", nil)
	require.NoError(t, err)
	assert.Equal(t, "orders/full/2026-01-01-v1.zst", key)

	exists, err := backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	dest := filepath.Join(t.TempDir(), "fetched")
	require.NoError(t, backend.Download(ctx, key, dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	require.NoError(t, backend.Delete(ctx, key))
	exists, err = backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalUploadOverwritesSameKey(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	_, err = backend.Upload(ctx, stageFile(t, []byte("one")), "key", nil)
	require.NoError(t, err)
	_, err = backend.Upload(ctx, stageFile(t, []byte("two")), "key", nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "fetched")
	require.NoError(t, backend.Download(ctx, "key", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestLocalMissingKey(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	err = backend.Download(ctx, "missing", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, backup.ErrNotFound)

	err = backend.Delete(ctx, "missing")
	assert.ErrorIs(t, err, backup.ErrNotFound)
}

func TestLocalList(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir(), "prefix")
	require.NoError(t, err)

	for _, key := range []string{
		"orders/full/a.zst",
		"orders/full/b.zst",
		"invoices/full/c.zst",
	} {
		_, err := backend.Upload(ctx, stageFile(t, []byte("x")), key, nil)
		require.NoError(t, err)
	}

	objects, err := backend.List(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	for _, obj := range objects {
		assert.Contains(t, obj.Key, "orders/full/")
		assert.Equal(t, int64(1), obj.Size)
		assert.False(t, obj.LastModified.IsZero())
	}

	objects, err = backend.List(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestOpenRegistry(t *testing.T) {
	ctx := context.Background()

	backend, err := Open(ctx, config.StorageConfig{Type: "local", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, backend)

	_, err = Open(ctx, config.StorageConfig{Type: "tape"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
