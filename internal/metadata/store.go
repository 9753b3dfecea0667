// Package metadata defines the durable record store for backup operations
// and retention policies. It is the single source of truth for operation
// and version state; artifacts live elsewhere, in the storage backend.
package metadata

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/bakctl/internal/backup"
)

// Filter narrows ListOperations results. Zero values mean "any".
type Filter struct {
	DatabaseID string
	Type       backup.Type
	Status     backup.Status

	// ActiveOnly restricts to COMPLETED, non-deleted operations, the set
	// rotation works on.
	ActiveOnly bool

	// IncludeDeleted also returns soft-deleted records. Ignored when
	// ActiveOnly is set.
	IncludeDeleted bool

	Limit int
}

// Stats summarizes the operation population of one database, or of every
// database at once. Counts cover live (non-deleted) records; soft-deleted
// ones are tallied separately. The size sums cover active operations only,
// since those are the bytes an operator can still fetch.
type Stats struct {
	Total   int
	Deleted int

	ByType   map[backup.Type]int
	ByStatus map[backup.Status]int

	SizeBytes   int64
	StoredBytes int64
}

func aggregateStats(ops []*backup.Operation) *Stats {
	stats := &Stats{
		ByType:   make(map[backup.Type]int),
		ByStatus: make(map[backup.Status]int),
	}
	for _, op := range ops {
		stats.Total++
		if op.IsDeleted {
			stats.Deleted++
			continue
		}
		stats.ByType[op.Type]++
		stats.ByStatus[op.Status]++
		if op.Active() {
			stats.SizeBytes += op.SizeBytes
			stats.StoredBytes += op.CompressedSize
		}
	}
	return stats
}

// Store is the metadata persistence contract. Implementations must keep
// the model invariants: versions are allocated atomically per
// (databaseID, type) and never reused, status transitions are
// one-directional, and records are only ever soft-deleted.
type Store interface {
	CreateOperation(ctx context.Context, op *backup.Operation) error

	// UpdateOperation persists op. Implementations reject status changes
	// that are not allowed from the stored status.
	UpdateOperation(ctx context.Context, op *backup.Operation) error

	GetOperation(ctx context.Context, id uuid.UUID) (*backup.Operation, error)
	ListOperations(ctx context.Context, f Filter) ([]*backup.Operation, error)

	// LatestCompleted returns the newest COMPLETED, non-deleted operation
	// of the given type, or backup.ErrNotFound.
	LatestCompleted(ctx context.Context, databaseID string, t backup.Type) (*backup.Operation, error)

	// AllocateVersion atomically increments and returns the next version
	// for (databaseID, type). Two concurrent callers never observe the
	// same value.
	AllocateVersion(ctx context.Context, databaseID string, t backup.Type) (int64, error)

	// MarkDeleted soft-deletes an operation: IsDeleted true, DeletedAt set.
	MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) error

	// RestoreDeleted clears the soft-delete marker, making the operation
	// eligible for restores and future rotation passes again.
	RestoreDeleted(ctx context.Context, id uuid.UUID) error

	// DatabaseIDs lists every database that has at least one operation.
	DatabaseIDs(ctx context.Context) ([]string, error)

	// Stats aggregates counts and sizes for one database, or for all of
	// them when databaseID is empty.
	Stats(ctx context.Context, databaseID string) (*Stats, error)

	SavePolicy(ctx context.Context, p *backup.RetentionPolicy) error
	GetPolicy(ctx context.Context, name string) (*backup.RetentionPolicy, error)

	// ActivePolicy returns the single active policy, or backup.ErrNotFound.
	ActivePolicy(ctx context.Context) (*backup.RetentionPolicy, error)
}
