// Package pipeline turns raw database dumps into durable, verifiable,
// optionally encrypted artifacts and records their provenance.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/bakctl/internal/backup"
	"github.com/kebairia/bakctl/internal/logger"
	"github.com/kebairia/bakctl/internal/metadata"
	"github.com/kebairia/bakctl/internal/metrics"
	"github.com/kebairia/bakctl/internal/storage"
)

// Options tunes one CreateBackup call.
type Options struct {
	// Compression selects the stage algorithm; empty means ZSTD.
	Compression backup.Compression

	// Encrypt enables the encryption stage with the given passphrase.
	Encrypt    bool
	Passphrase string

	// KeyRef, when set, is recorded instead of the derived KDF descriptor
	// (e.g. the Vault path the passphrase came from).
	KeyRef string

	// KDFIterations overrides the default PBKDF2 cost. Zero keeps it.
	KDFIterations int

	// Since requests a differential baseline explicitly; by default the
	// parent's start time is used.
	Since *time.Time

	Labels []string
}

// Orchestrator drives one backup request through
// Dump -> Compress -> Encrypt -> Checksum -> Upload -> Record.
type Orchestrator struct {
	store     metadata.Store
	backend   storage.Backend
	log       logger.Logger
	workDir   string
	now       func() time.Time
	producers map[string]Producer
	restorers map[string]Restorer
}

// Option overrides an Orchestrator default.
type Option func(*Orchestrator)

// WithWorkDir sets the directory for per-operation scratch space.
func WithWorkDir(dir string) Option {
	return func(o *Orchestrator) {
		if dir != "" {
			o.workDir = dir
		}
	}
}

// WithLogger overrides the global logger.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an Orchestrator on top of a metadata store and a storage
// backend. Producers are registered separately.
func New(store metadata.Store, backend storage.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		backend:   backend,
		log:       logger.Global(),
		workDir:   os.TempDir(),
		now:       time.Now,
		producers: make(map[string]Producer),
		restorers: make(map[string]Restorer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register makes a database known to the orchestrator. p may additionally
// implement Restorer to enable restores.
func (o *Orchestrator) Register(p Producer) {
	o.producers[p.DatabaseID()] = p
	if r, ok := p.(Restorer); ok {
		o.restorers[p.DatabaseID()] = r
	}
}

// CreateBackup runs the full pipeline for one database and returns the
// finalized operation record. Stage failures are written into the record
// (FAILED plus error message) and returned as a wrapped error; partial
// local and remote artifacts are cleaned up before returning. Cancellation
// finalizes the record as CANCELLED.
func (o *Orchestrator) CreateBackup(ctx context.Context, databaseID string, t backup.Type, opts Options) (*backup.Operation, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown backup type %q", backup.ErrValidation, t)
	}
	producer, ok := o.producers[databaseID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown database %q", backup.ErrValidation, databaseID)
	}
	if opts.Compression == "" {
		opts.Compression = backup.CompressionZstd
	}
	if opts.Encrypt && opts.Passphrase == "" {
		return nil, fmt.Errorf("%w: encryption requested without a passphrase", backup.ErrValidation)
	}

	meta := map[string]string{}
	if host, err := os.Hostname(); err == nil {
		meta[backup.MetaHostname] = host
	}

	// Differential chaining: resolve the parent before any record exists,
	// so a missing parent creates nothing.
	var parent *backup.Operation
	if t == backup.TypeDifferential {
		var err error
		parent, err = o.store.LatestCompleted(ctx, databaseID, backup.TypeFull)
		if err != nil {
			if errors.Is(err, backup.ErrNotFound) {
				return nil, fmt.Errorf("%w: no full backup found for %q", backup.ErrValidation, databaseID)
			}
			return nil, fmt.Errorf("resolve differential parent: %w", err)
		}
		meta[backup.MetaParentStartTime] = parent.StartTime.UTC().Format(time.RFC3339)
		if opts.Since == nil {
			since := parent.StartTime
			opts.Since = &since
		}
	}
	if opts.Since != nil {
		meta[backup.MetaRequestedSince] = opts.Since.UTC().Format(time.RFC3339)
	}

	version, err := o.store.AllocateVersion(ctx, databaseID, t)
	if err != nil {
		return nil, fmt.Errorf("allocate version: %w", err)
	}

	op := &backup.Operation{
		ID:         uuid.New(),
		DatabaseID: databaseID,
		Type:       t,
		Status:     backup.StatusRunning,
		StartTime:  o.now().UTC(),
		Version:    version,
		Labels:     opts.Labels,
		Meta:       meta,
	}
	if parent != nil {
		parentID := parent.ID
		op.ParentID = &parentID
	}
	if err := o.store.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("create operation record: %w", err)
	}

	log := o.log.With("operation", op.ID.String(), "database", databaseID, "type", t)
	log.Info("backup started", "version", version)

	runErr := o.execute(ctx, op, producer, opts)
	endTime := o.now().UTC()
	op.EndTime = &endTime

	switch {
	case runErr == nil:
		op.Status = backup.StatusCompleted
	case errors.Is(runErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		op.Status = backup.StatusCancelled
	default:
		op.Status = backup.StatusFailed
		op.ErrorMessage = runErr.Error()
	}

	// The request context may already be dead here, cancellation being one
	// of the outcomes we finalize. The record write must still land.
	if err := o.store.UpdateOperation(context.WithoutCancel(ctx), op); err != nil {
		// The artifact may exist without a finalized record; surface both.
		log.Error("finalize operation record", "error", err.Error())
		if runErr == nil {
			runErr = fmt.Errorf("finalize operation record: %w", err)
		}
	}
	metrics.BackupsTotal.WithLabelValues(string(t), string(op.Status)).Inc()

	if runErr != nil {
		log.Error("backup finished", "status", op.Status, "error", op.ErrorMessage)
		return op, runErr
	}

	metrics.BackupBytes.Observe(float64(op.CompressedSize))
	metrics.CompressionRatio.Observe(Ratio(op.CompressedSize, op.SizeBytes))
	log.Info("backup completed",
		"key", op.StorageKey,
		"size_bytes", op.SizeBytes,
		"compressed_size", op.CompressedSize,
		"checksum", op.Checksum,
	)
	return op, nil
}

// execute runs the stage sequence, filling op's artifact fields on
// success. All scratch files live in a per-operation temp directory that
// is always removed; a partially uploaded remote object is deleted on
// failure.
func (o *Orchestrator) execute(ctx context.Context, op *backup.Operation, producer Producer, opts Options) (err error) {
	workDir, err := os.MkdirTemp(o.workDir, "bakctl-op-")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	var uploadedKey string
	defer func() {
		if err != nil && uploadedKey != "" {
			// Best effort; an orphan is reported, not fatal.
			if delErr := o.backend.Delete(context.WithoutCancel(ctx), uploadedKey); delErr != nil {
				o.log.Warn("remove partial upload",
					"key", uploadedKey, "error", delErr.Error())
			}
		}
	}()

	// Dump
	dumpPath, err := producer.Dump(ctx, workDir, opts.Since)
	if err != nil {
		return fmt.Errorf("dump stage: %w", err)
	}
	dumpInfo, err := os.Stat(dumpPath)
	if err != nil {
		return fmt.Errorf("stat dump %q: %w", dumpPath, err)
	}
	op.SizeBytes = dumpInfo.Size()

	// Compress
	artifactPath, used, err := Compress(dumpPath, opts.Compression)
	if err != nil {
		return fmt.Errorf("compress stage: %w", err)
	}
	op.Compression = used
	if used != opts.Compression {
		op.Meta[backup.MetaCompressionNote] = fmt.Sprintf("requested %s, used %s", opts.Compression, used)
	}

	// Encrypt (optional)
	if opts.Encrypt {
		encPath, keyRef, err := Encrypt(artifactPath, opts.Passphrase, opts.KDFIterations)
		if err != nil {
			return fmt.Errorf("encrypt stage: %w", err)
		}
		artifactPath = encPath
		op.EncryptionKeyRef = keyRef
		if opts.KeyRef != "" {
			op.EncryptionKeyRef = opts.KeyRef
		}
	}

	artifactInfo, err := os.Stat(artifactPath)
	if err != nil {
		return fmt.Errorf("stat artifact %q: %w", artifactPath, err)
	}
	op.CompressedSize = artifactInfo.Size()

	// Checksum the final bytes, after compression and encryption.
	checksum, err := Checksum(artifactPath)
	if err != nil {
		return fmt.Errorf("checksum stage: %w", err)
	}
	op.Checksum = checksum

	if err := ctx.Err(); err != nil {
		return err
	}

	// Upload
	key := o.storageKey(op, filepath.Ext(artifactPath))
	storedKey, err := o.backend.Upload(ctx, artifactPath, key, map[string]string{
		"database": op.DatabaseID,
		"type":     string(op.Type),
		"version":  fmt.Sprintf("%d", op.Version),
	})
	if err != nil {
		return fmt.Errorf("upload stage: %w", err)
	}
	uploadedKey = storedKey
	op.StorageKey = storedKey
	return nil
}

func (o *Orchestrator) storageKey(op *backup.Operation, ext string) string {
	timestamp := op.StartTime.Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s/%s/%s-v%d%s",
		op.DatabaseID, strings.ToLower(string(op.Type)), timestamp, op.Version, ext)
}
