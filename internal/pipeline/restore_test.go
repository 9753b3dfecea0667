package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/bakctl/internal/backup"
)

func TestRestoreBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newTestOrchestrator(t)
	producer := &fakeProducer{id: "orders", payload: []byte("create table orders (...)")}
	o.Register(producer)

	op, err := o.CreateBackup(ctx, "orders", backup.TypeFull, Options{
		Compression: backup.CompressionZstd,
	})
	require.NoError(t, err)

	require.NoError(t, o.RestoreBackup(ctx, op.ID, ""))
	require.Len(t, producer.restored, 1)
	assert.Equal(t, string(producer.payload), producer.restored[0])
}

func TestRestoreBackupEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newTestOrchestrator(t)
	producer := &fakeProducer{id: "orders", payload: []byte("sensitive rows")}
	o.Register(producer)

	op, err := o.CreateBackup(ctx, "orders", backup.TypeFull, Options{
		Encrypt:       true,
		Passphrase:    "s3cret",
		KDFIterations: 10_000,
	})
	require.NoError(t, err)

	// Without the passphrase the restore must not even start.
	err = o.RestoreBackup(ctx, op.ID, "")
	assert.ErrorIs(t, err, backup.ErrValidation)

	require.NoError(t, o.RestoreBackup(ctx, op.ID, "s3cret"))
	require.Len(t, producer.restored, 1)
	assert.Equal(t, "sensitive rows", producer.restored[0])
}

func TestRestoreBackupTamperedArtifact(t *testing.T) {
	ctx := context.Background()
	o, _, backend := newTestOrchestrator(t)
	producer := &fakeProducer{id: "orders", payload: []byte("rows")}
	o.Register(producer)

	op, err := o.CreateBackup(ctx, "orders", backup.TypeFull, Options{})
	require.NoError(t, err)

	// Corrupt the stored object behind the pipeline's back.
	scratch := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, backend.Download(ctx, op.StorageKey, scratch))
	data, err := os.ReadFile(scratch)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(scratch, data, 0o644))
	_, err = backend.Upload(ctx, scratch, op.StorageKey, nil)
	require.NoError(t, err)

	err = o.RestoreBackup(ctx, op.ID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrIntegrity)
	assert.Empty(t, producer.restored, "a corrupt artifact must never reach the database")

	err = o.VerifyBackup(ctx, op.ID)
	assert.ErrorIs(t, err, backup.ErrIntegrity)
}

func TestRestoreBackupRejectsNonRestorable(t *testing.T) {
	ctx := context.Background()
	o, store, _ := newTestOrchestrator(t)
	producer := &fakeProducer{id: "orders", payload: []byte("rows")}
	o.Register(producer)

	op, err := o.CreateBackup(ctx, "orders", backup.TypeFull, Options{})
	require.NoError(t, err)

	// Soft-deleted records are invisible to restore until undeleted.
	require.NoError(t, store.MarkDeleted(ctx, op.ID, op.StartTime))
	err = o.RestoreBackup(ctx, op.ID, "")
	assert.ErrorIs(t, err, backup.ErrValidation)

	require.NoError(t, store.RestoreDeleted(ctx, op.ID))
	require.NoError(t, o.RestoreBackup(ctx, op.ID, ""))

	failed := &fakeProducer{id: "invoices", dumpErr: os.ErrClosed}
	o.Register(failed)
	failedOp, err := o.CreateBackup(ctx, "invoices", backup.TypeFull, Options{})
	require.Error(t, err)
	err = o.RestoreBackup(ctx, failedOp.ID, "")
	assert.ErrorIs(t, err, backup.ErrValidation, "only completed backups are restorable")
}

func TestVerifyBackup(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newTestOrchestrator(t)
	o.Register(&fakeProducer{id: "orders", payload: []byte("rows")})

	op, err := o.CreateBackup(ctx, "orders", backup.TypeFull, Options{})
	require.NoError(t, err)
	assert.NoError(t, o.VerifyBackup(ctx, op.ID))
}
