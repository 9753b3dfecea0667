package rotation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/kebairia/bakctl/internal/backup"
	"github.com/kebairia/bakctl/internal/logger"
	"github.com/kebairia/bakctl/internal/metadata"
	"github.com/kebairia/bakctl/internal/metrics"
	"github.com/kebairia/bakctl/internal/storage"
)

// Engine applies retention policies: soft-deletes surplus operations in
// the metadata store, then best-effort deletes their artifacts from the
// storage backend.
type Engine struct {
	store   metadata.Store
	backend storage.Backend
	log     logger.Logger
	now     func() time.Time

	// Rotation passes for the same database are mutually exclusive;
	// different databases rotate in parallel.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption overrides an Engine default.
type EngineOption func(*Engine)

// WithEngineLogger overrides the global logger.
func WithEngineLogger(log logger.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithEngineClock overrides time.Now, for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds a retention engine over a metadata store and a storage
// backend.
func NewEngine(store metadata.Store, backend storage.Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		backend: backend,
		log:     logger.Global(),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(databaseID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[databaseID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[databaseID] = lock
	}
	return lock
}

// ApplyRotation prunes one database under the given policy. A nil policy
// falls back to the store's active policy. The three strategies run in
// fixed order, each over the set still active after the previous one.
func (e *Engine) ApplyRotation(ctx context.Context, databaseID string, policy *backup.RetentionPolicy) (*backup.RotationResult, error) {
	if policy == nil {
		var err error
		policy, err = e.store.ActivePolicy(ctx)
		if err != nil {
			if errors.Is(err, backup.ErrNotFound) {
				return nil, fmt.Errorf("%w: no policy given and none active", backup.ErrValidation)
			}
			return nil, err
		}
	}

	lock := e.lockFor(databaseID)
	lock.Lock()
	defer lock.Unlock()

	// Rotation only ever sees COMPLETED, non-deleted records; an inflight
	// backup is invisible until it reaches a terminal status.
	active, err := e.store.ListOperations(ctx, metadata.Filter{
		DatabaseID: databaseID,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list active backups for %q: %w", databaseID, err)
	}

	result := &backup.RotationResult{
		DatabaseID:  databaseID,
		TotalBefore: len(active),
	}
	now := e.now().UTC()
	protected := parentIDs(active)
	byID := make(map[uuid.UUID]*backup.Operation, len(active))
	for _, op := range active {
		byID[op.ID] = op
	}

	surplus, warnings := timeTieredSurplus(active, policy, now, protected)
	result.Warnings = append(result.Warnings, warnings...)

	left := remaining(active, surplus)
	sizeSurplus, warnings := sizeCapSurplus(left, policy.MaxTotalSizeBytes, protected)
	result.Warnings = append(result.Warnings, warnings...)
	for id := range sizeSurplus {
		surplus[id] = struct{}{}
	}

	left = remaining(left, sizeSurplus)
	versionSurplus, warnings := versionCapSurplus(left, policy.MaxVersions, protected)
	result.Warnings = append(result.Warnings, warnings...)
	for id := range versionSurplus {
		surplus[id] = struct{}{}
	}
	left = remaining(left, versionSurplus)

	result.Warnings = append(result.Warnings, capacityWarnings(active, left, databaseID)...)

	// Oldest first, so batch reports read the same way every run.
	doomed := make([]*backup.Operation, 0, len(surplus))
	for id := range surplus {
		doomed = append(doomed, byID[id])
	}
	sort.Slice(doomed, func(i, j int) bool {
		if !doomed[i].StartTime.Equal(doomed[j].StartTime) {
			return doomed[i].StartTime.Before(doomed[j].StartTime)
		}
		return doomed[i].Version < doomed[j].Version
	})

	// Soft delete first, physical delete after. A failed physical delete
	// never rolls the soft delete back; the record is logically retired
	// either way and the orphan is left to external garbage collection.
	for _, op := range doomed {
		id := op.ID
		if err := e.store.MarkDeleted(ctx, id, now); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("soft delete %s failed: %v", id, err))
			continue
		}
		result.Deleted = append(result.Deleted, id)
		result.FreedSpace += op.SizeBytes
		metrics.RotationDeletedTotal.Inc()
		metrics.RotationFreedBytes.Add(float64(op.SizeBytes))

		if op.StorageKey != "" {
			if err := e.backend.Delete(ctx, op.StorageKey); err != nil {
				e.log.Warn("physical delete failed, object orphaned",
					"database", databaseID,
					"key", op.StorageKey,
					"error", err.Error(),
				)
			}
		}
	}

	result.TotalAfter = result.TotalBefore - len(result.Deleted)
	e.log.Info("rotation finished",
		"database", databaseID,
		"policy", policy.Name,
		"before", result.TotalBefore,
		"after", result.TotalAfter,
		"freed_bytes", result.FreedSpace,
	)
	return result, nil
}

// capacityWarnings flags types whose last backup the pass removed. The
// engine proceeds; the caller decides whether an unprotected database is
// acceptable.
func capacityWarnings(before, after []*backup.Operation, databaseID string) []string {
	had := make(map[backup.Type]bool)
	for _, op := range before {
		had[op.Type] = true
	}
	still := make(map[backup.Type]bool)
	for _, op := range after {
		still[op.Type] = true
	}
	var warnings []string
	for _, t := range backup.Types {
		if had[t] && !still[t] {
			warnings = append(warnings, fmt.Sprintf(
				"%v: policy removed the last %s backup of %q", backup.ErrCapacity, t, databaseID))
		}
	}
	return warnings
}

// RotateAll rotates every known database under one policy. Failures are
// isolated per database: one backend error never aborts the others, and
// all outcomes are aggregated into the returned batch report.
func (e *Engine) RotateAll(ctx context.Context, policy *backup.RetentionPolicy) ([]*backup.RotationResult, error) {
	ids, err := e.store.DatabaseIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*backup.RotationResult
		errs    *multierror.Error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(databaseID string) {
			defer wg.Done()
			result, err := e.ApplyRotation(ctx, databaseID, policy)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Error("rotation failed",
					"database", databaseID,
					"error", err.Error(),
				)
				errs = multierror.Append(errs, fmt.Errorf("rotate %q: %w", databaseID, err))
				return
			}
			results = append(results, result)
		}(id)
	}
	wg.Wait()

	return results, errs.ErrorOrNil()
}

// RestoreDeleted clears an operation's soft-delete marker, making it
// eligible for restores and future rotation passes again.
func (e *Engine) RestoreDeleted(ctx context.Context, id uuid.UUID) error {
	return e.store.RestoreDeleted(ctx, id)
}
