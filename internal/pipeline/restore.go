package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kebairia/bakctl/internal/backup"
)

// RestoreBackup fetches a completed backup, verifies it end to end and
// loads it back into its database. The recorded checksum is verified
// before anything else touches the artifact; a mismatch aborts the whole
// restore, never a partial one.
func (o *Orchestrator) RestoreBackup(ctx context.Context, id uuid.UUID, passphrase string) error {
	op, err := o.store.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.Status != backup.StatusCompleted {
		return fmt.Errorf("%w: operation %s is %s, only completed backups can be restored",
			backup.ErrValidation, id, op.Status)
	}
	if op.IsDeleted {
		return fmt.Errorf("%w: operation %s is soft-deleted; restore the record first",
			backup.ErrValidation, id)
	}
	restorer, ok := o.restorers[op.DatabaseID]
	if !ok {
		return fmt.Errorf("%w: no restorer for database %q", backup.ErrValidation, op.DatabaseID)
	}
	if op.EncryptionKeyRef != "" && passphrase == "" {
		return fmt.Errorf("%w: backup %s is encrypted, passphrase required",
			backup.ErrValidation, id)
	}

	workDir, err := os.MkdirTemp(o.workDir, "bakctl-restore-")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	artifactPath := filepath.Join(workDir, "artifact")
	if err := o.backend.Download(ctx, op.StorageKey, artifactPath); err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}

	if err := VerifyChecksum(artifactPath, op.Checksum); err != nil {
		return err
	}

	if op.EncryptionKeyRef != "" {
		decPath := filepath.Join(workDir, "artifact.dec")
		if err := Decrypt(artifactPath, passphrase, decPath); err != nil {
			return err
		}
		artifactPath = decPath
	}

	dumpPath, err := Decompress(artifactPath, op.Compression, filepath.Join(workDir, "dump"))
	if err != nil {
		return err
	}

	o.log.Info("restore starting",
		"operation", op.ID.String(),
		"database", op.DatabaseID,
		"key", op.StorageKey,
	)
	if err := restorer.Restore(ctx, dumpPath); err != nil {
		return fmt.Errorf("restore into %q: %w", op.DatabaseID, err)
	}
	return nil
}

// VerifyBackup re-downloads a completed backup and re-hashes it against
// the recorded checksum, without restoring anything.
func (o *Orchestrator) VerifyBackup(ctx context.Context, id uuid.UUID) error {
	op, err := o.store.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.Status != backup.StatusCompleted {
		return fmt.Errorf("%w: operation %s is %s, nothing to verify",
			backup.ErrValidation, id, op.Status)
	}

	workDir, err := os.MkdirTemp(o.workDir, "bakctl-verify-")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	artifactPath := filepath.Join(workDir, "artifact")
	if err := o.backend.Download(ctx, op.StorageKey, artifactPath); err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}
	return VerifyChecksum(artifactPath, op.Checksum)
}
