package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/bakctl/internal/backup"
)

// MemoryStore is a Store kept entirely in process memory. It backs tests
// and dry runs; durability is the gorm store's job.
type MemoryStore struct {
	mu       sync.RWMutex
	ops      map[uuid.UUID]*backup.Operation
	versions map[string]int64
	policies map[string]*backup.RetentionPolicy
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops:      make(map[uuid.UUID]*backup.Operation),
		versions: make(map[string]int64),
		policies: make(map[string]*backup.RetentionPolicy),
	}
}

func versionKey(databaseID string, t backup.Type) string {
	return databaseID + "/" + string(t)
}

func (s *MemoryStore) CreateOperation(_ context.Context, op *backup.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ops[op.ID]; exists {
		return fmt.Errorf("%w: operation %s already exists", backup.ErrValidation, op.ID)
	}
	clone := *op
	s.ops[op.ID] = &clone
	return nil
}

func (s *MemoryStore) UpdateOperation(_ context.Context, op *backup.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.ops[op.ID]
	if !ok {
		return fmt.Errorf("%w: operation %s", backup.ErrNotFound, op.ID)
	}
	if stored.Status != op.Status && !stored.Status.CanTransition(op.Status) {
		return fmt.Errorf("%w: illegal status transition %s -> %s",
			backup.ErrValidation, stored.Status, op.Status)
	}
	clone := *op
	s.ops[op.ID] = &clone
	return nil
}

func (s *MemoryStore) GetOperation(_ context.Context, id uuid.UUID) (*backup.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, fmt.Errorf("%w: operation %s", backup.ErrNotFound, id)
	}
	clone := *op
	return &clone, nil
}

func matches(op *backup.Operation, f Filter) bool {
	if f.DatabaseID != "" && op.DatabaseID != f.DatabaseID {
		return false
	}
	if f.Type != "" && op.Type != f.Type {
		return false
	}
	if f.Status != "" && op.Status != f.Status {
		return false
	}
	if f.ActiveOnly {
		return op.Active()
	}
	if !f.IncludeDeleted && op.IsDeleted {
		return false
	}
	return true
}

func (s *MemoryStore) ListOperations(_ context.Context, f Filter) ([]*backup.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*backup.Operation
	for _, op := range s.ops {
		if matches(op, f) {
			clone := *op
			out = append(out, &clone)
		}
	}
	// Newest first, stable for callers that slice off the top.
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) LatestCompleted(ctx context.Context, databaseID string, t backup.Type) (*backup.Operation, error) {
	ops, err := s.ListOperations(ctx, Filter{
		DatabaseID: databaseID,
		Type:       t,
		ActiveOnly: true,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: no completed %s backup for %q",
			backup.ErrNotFound, t, databaseID)
	}
	return ops[0], nil
}

func (s *MemoryStore) AllocateVersion(_ context.Context, databaseID string, t backup.Type) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := versionKey(databaseID, t)
	s.versions[key]++
	return s.versions[key], nil
}

func (s *MemoryStore) MarkDeleted(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return fmt.Errorf("%w: operation %s", backup.ErrNotFound, id)
	}
	op.IsDeleted = true
	deletedAt := at
	op.DeletedAt = &deletedAt
	return nil
}

func (s *MemoryStore) RestoreDeleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return fmt.Errorf("%w: operation %s", backup.ErrNotFound, id)
	}
	op.IsDeleted = false
	op.DeletedAt = nil
	return nil
}

func (s *MemoryStore) DatabaseIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, op := range s.ops {
		seen[op.DatabaseID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Stats(_ context.Context, databaseID string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ops []*backup.Operation
	for _, op := range s.ops {
		if databaseID == "" || op.DatabaseID == databaseID {
			ops = append(ops, op)
		}
	}
	return aggregateStats(ops), nil
}

func (s *MemoryStore) SavePolicy(_ context.Context, p *backup.RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.IsActive {
		for _, other := range s.policies {
			if other.Name != p.Name && other.IsActive {
				return fmt.Errorf("%w: policy %q is already active",
					backup.ErrValidation, other.Name)
			}
		}
	}
	clone := *p
	s.policies[p.Name] = &clone
	return nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, name string) (*backup.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: policy %q", backup.ErrNotFound, name)
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryStore) ActivePolicy(_ context.Context) (*backup.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies {
		if p.IsActive {
			clone := *p
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: no active retention policy", backup.ErrNotFound)
}
