package rotation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/bakctl/internal/backup"
	"github.com/kebairia/bakctl/internal/metadata"
	"github.com/kebairia/bakctl/internal/storage"
)

// brokenDeleteBackend fails every physical delete.
type brokenDeleteBackend struct {
	storage.Backend
}

func (b *brokenDeleteBackend) Delete(ctx context.Context, key string) error {
	return errors.New("remote unavailable")
}

func seedOp(t *testing.T, ctx context.Context, store metadata.Store, op *backup.Operation) {
	t.Helper()
	require.NoError(t, store.CreateOperation(ctx, op))
}

func seedBackend(t *testing.T, ctx context.Context, backend storage.Backend, key string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "obj")
	require.NoError(t, os.WriteFile(path, []byte("artifact bytes"), 0o644))
	_, err := backend.Upload(ctx, path, key, nil)
	require.NoError(t, err)
}

func TestApplyRotationSoftThenPhysicalDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := metadata.NewMemoryStore()
	backend, err := storage.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	engine := NewEngine(store, backend, WithEngineClock(func() time.Time { return now }))

	keep := opAgedDays("orders", backup.TypeFull, now, 1, 2)
	prune := opAgedDays("orders", backup.TypeFull, now, 2, 1)
	keep.SizeBytes, prune.SizeBytes = 100, 250
	keep.StorageKey, prune.StorageKey = "orders/full/keep", "orders/full/prune"
	seedOp(t, ctx, store, keep)
	seedOp(t, ctx, store, prune)
	seedBackend(t, ctx, backend, keep.StorageKey)
	seedBackend(t, ctx, backend, prune.StorageKey)

	policy := &backup.RetentionPolicy{Name: "tight", KeepDaily: 1}
	result, err := engine.ApplyRotation(ctx, "orders", policy)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalBefore)
	assert.Equal(t, 1, result.TotalAfter)
	assert.Equal(t, []uuid.UUID{prune.ID}, result.Deleted)
	assert.Equal(t, int64(250), result.FreedSpace, "freed space counts the logical size")

	got, err := store.GetOperation(ctx, prune.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(now))

	exists, err := backend.Exists(ctx, prune.StorageKey)
	require.NoError(t, err)
	assert.False(t, exists, "the pruned artifact must be physically removed")

	exists, err = backend.Exists(ctx, keep.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestApplyRotationDeletesOldestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := metadata.NewMemoryStore()
	backend, err := storage.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	engine := NewEngine(store, backend, WithEngineClock(func() time.Time { return now }))

	oldest := opAgedDays("orders", backup.TypeFull, now, 6, 1)
	middle := opAgedDays("orders", backup.TypeFull, now, 4, 2)
	newer := opAgedDays("orders", backup.TypeFull, now, 3, 3)
	keep := opAgedDays("orders", backup.TypeFull, now, 1, 4)
	for _, op := range []*backup.Operation{newer, oldest, keep, middle} {
		seedOp(t, ctx, store, op)
	}

	result, err := engine.ApplyRotation(ctx, "orders",
		&backup.RetentionPolicy{Name: "tight", KeepDaily: 1})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{oldest.ID, middle.ID, newer.ID}, result.Deleted,
		"the batch report lists deletions oldest first")
}

func TestApplyRotationPhysicalDeleteFailureKeepsSoftDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := metadata.NewMemoryStore()
	local, err := storage.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	engine := NewEngine(store, &brokenDeleteBackend{Backend: local},
		WithEngineClock(func() time.Time { return now }))

	keep := opAgedDays("orders", backup.TypeFull, now, 1, 2)
	prune := opAgedDays("orders", backup.TypeFull, now, 2, 1)
	prune.StorageKey = "orders/full/prune"
	seedOp(t, ctx, store, keep)
	seedOp(t, ctx, store, prune)

	result, err := engine.ApplyRotation(ctx, "orders",
		&backup.RetentionPolicy{Name: "tight", KeepDaily: 1})
	require.NoError(t, err)

	// The record stays retired even though the object lingers.
	assert.Equal(t, []uuid.UUID{prune.ID}, result.Deleted)
	got, err := store.GetOperation(ctx, prune.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
}

func TestApplyRotationParentProtection(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := metadata.NewMemoryStore()
	backend, err := storage.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	engine := NewEngine(store, backend, WithEngineClock(func() time.Time { return now }))

	parent := opAgedDays("orders", backup.TypeFull, now, 3, 1)
	newest := opAgedDays("orders", backup.TypeFull, now, 1, 2)
	diff := opAgedDays("orders", backup.TypeDifferential, now, 2, 1)
	diff.ParentID = &parent.ID
	seedOp(t, ctx, store, parent)
	seedOp(t, ctx, store, newest)
	seedOp(t, ctx, store, diff)

	result, err := engine.ApplyRotation(ctx, "orders",
		&backup.RetentionPolicy{Name: "tight", KeepDaily: 1})
	require.NoError(t, err)

	assert.NotContains(t, result.Deleted, parent.ID)
	assert.NotEmpty(t, result.Warnings)

	got, err := store.GetOperation(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
}

func TestApplyRotationIgnoresInflightAndFailed(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := metadata.NewMemoryStore()
	backend, err := storage.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	engine := NewEngine(store, backend, WithEngineClock(func() time.Time { return now }))

	running := opAgedDays("orders", backup.TypeFull, now, 5, 1)
	running.Status = backup.StatusRunning
	failed := opAgedDays("orders", backup.TypeFull, now, 4, 2)
	failed.Status = backup.StatusFailed
	completed := opAgedDays("orders", backup.TypeFull, now, 3, 3)
	seedOp(t, ctx, store, running)
	seedOp(t, ctx, store, failed)
	seedOp(t, ctx, store, completed)

	result, err := engine.ApplyRotation(ctx, "orders",
		&backup.RetentionPolicy{Name: "tight", KeepDaily: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalBefore, "only completed, non-deleted records count")
	assert.Empty(t, result.Deleted)
}

func TestApplyRotationNoPolicy(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	backend, err := storage.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	engine := NewEngine(store, backend)

	_, err = engine.ApplyRotation(ctx, "orders", nil)
	assert.ErrorIs(t, err, backup.ErrValidation)

	// With an active policy stored, nil means "use it".
	require.NoError(t, store.SavePolicy(ctx, &backup.RetentionPolicy{
		Name: "standard", KeepDaily: 7, IsActive: true,
	}))
	result, err := engine.ApplyRotation(ctx, "orders", nil)
	require.NoError(t, err)
	assert.Zero(t, result.TotalBefore)
}

func TestRotateAll(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := metadata.NewMemoryStore()
	backend, err := storage.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	engine := NewEngine(store, backend, WithEngineClock(func() time.Time { return now }))

	for _, db := range []string{"orders", "invoices"} {
		seedOp(t, ctx, store, opAgedDays(db, backup.TypeFull, now, 2, 1))
		seedOp(t, ctx, store, opAgedDays(db, backup.TypeFull, now, 1, 2))
	}

	results, err := engine.RotateAll(ctx, &backup.RetentionPolicy{Name: "tight", KeepDaily: 1})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Len(t, r.Deleted, 1, "database %s", r.DatabaseID)
	}
}

func TestRestoreDeletedReactivates(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := metadata.NewMemoryStore()
	backend, err := storage.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	engine := NewEngine(store, backend, WithEngineClock(func() time.Time { return now }))

	op := opAgedDays("orders", backup.TypeFull, now, 1, 1)
	seedOp(t, ctx, store, op)
	require.NoError(t, store.MarkDeleted(ctx, op.ID, now))

	require.NoError(t, engine.RestoreDeleted(ctx, op.ID))
	got, err := store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
	assert.Nil(t, got.DeletedAt)
}
