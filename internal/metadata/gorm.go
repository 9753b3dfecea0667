package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kebairia/bakctl/internal/backup"
)

// versionCounter backs AllocateVersion. One row per (databaseID, type),
// bumped inside a locking transaction so versions are never shared.
type versionCounter struct {
	Key     string `gorm:"column:key;primaryKey"`
	Current int64  `gorm:"column:current;not null"`
}

func (versionCounter) TableName() string { return "version_counters" }

// GormStore is the durable Store implementation on top of gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// OpenSQLite opens (and migrates) a sqlite-backed store at dsn.
func OpenSQLite(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open metadata store %q: %w", dsn, err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an existing gorm handle and runs migrations.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(
		&backup.Operation{},
		&backup.RetentionPolicy{},
		&versionCounter{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate metadata schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) CreateOperation(ctx context.Context, op *backup.Operation) error {
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return fmt.Errorf("create operation %s: %w", op.ID, err)
	}
	return nil
}

func (s *GormStore) UpdateOperation(ctx context.Context, op *backup.Operation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored backup.Operation
		if err := tx.First(&stored, "id = ?", op.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: operation %s", backup.ErrNotFound, op.ID)
			}
			return err
		}
		if stored.Status != op.Status && !stored.Status.CanTransition(op.Status) {
			return fmt.Errorf("%w: illegal status transition %s -> %s",
				backup.ErrValidation, stored.Status, op.Status)
		}
		return tx.Save(op).Error
	})
}

func (s *GormStore) GetOperation(ctx context.Context, id uuid.UUID) (*backup.Operation, error) {
	var op backup.Operation
	err := s.db.WithContext(ctx).First(&op, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: operation %s", backup.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", id, err)
	}
	return &op, nil
}

func (s *GormStore) ListOperations(ctx context.Context, f Filter) ([]*backup.Operation, error) {
	q := s.db.WithContext(ctx).Model(&backup.Operation{})
	if f.DatabaseID != "" {
		q = q.Where("database_id = ?", f.DatabaseID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ActiveOnly {
		q = q.Where("status = ? AND is_deleted = ?", backup.StatusCompleted, false)
	} else if !f.IncludeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	q = q.Order("start_time DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var ops []*backup.Operation
	if err := q.Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

func (s *GormStore) LatestCompleted(ctx context.Context, databaseID string, t backup.Type) (*backup.Operation, error) {
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

func (s *GormStore) AllocateVersion(ctx context.Context, databaseID string, t backup.Type) (int64, error) {
	key := versionKey(databaseID, t)
	var allocated int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter versionCounter
		err := tx.First(&counter, "key = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			counter = versionCounter{Key: key}
		case err != nil:
			return err
		}
		counter.Current++
		allocated = counter.Current
		return tx.Save(&counter).Error
	})
	if err != nil {
		return 0, fmt.Errorf("allocate version for %s: %w", key, err)
	}
	return allocated, nil
}

func (s *GormStore) MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&backup.Operation{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at})
	if res.Error != nil {
		return fmt.Errorf("mark deleted %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: operation %s", backup.ErrNotFound, id)
	}
	return nil
}

func (s *GormStore) RestoreDeleted(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&backup.Operation{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": false, "deleted_at": nil})
	if res.Error != nil {
		return fmt.Errorf("restore deleted %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: operation %s", backup.ErrNotFound, id)
	}
	return nil
}

func (s *GormStore) DatabaseIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&backup.Operation{}).
		Distinct("database_id").
		Order("database_id").
		Pluck("database_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list database ids: %w", err)
	}
	return ids, nil
}

func (s *GormStore) Stats(ctx context.Context, databaseID string) (*Stats, error) {
	q := s.db.WithContext(ctx).Model(&backup.Operation{}).
		Select("type", "status", "is_deleted", "size_bytes", "compressed_size")
	if databaseID != "" {
		q = q.Where("database_id = ?", databaseID)
	}
	var ops []*backup.Operation
	if err := q.Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	return aggregateStats(ops), nil
}

func (s *GormStore) SavePolicy(ctx context.Context, p *backup.RetentionPolicy) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.IsActive {
			var count int64
			err := tx.Model(&backup.RetentionPolicy{}).
				Where("is_active = ? AND name <> ?", true, p.Name).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: another retention policy is already active",
					backup.ErrValidation)
			}
		}
		return tx.Save(p).Error
	})
}

func (s *GormStore) GetPolicy(ctx context.Context, name string) (*backup.RetentionPolicy, error) {
	var p backup.RetentionPolicy
	err := s.db.WithContext(ctx).First(&p, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: policy %q", backup.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy %q: %w", name, err)
	}
	return &p, nil
}

func (s *GormStore) ActivePolicy(ctx context.Context) (*backup.RetentionPolicy, error) {
	var p backup.RetentionPolicy
	err := s.db.WithContext(ctx).First(&p, "is_active = ?", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no active retention policy", backup.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active policy: %w", err)
	}
	return &p, nil
}
