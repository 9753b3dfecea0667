package backup

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what a backup captures.
type Type string

const (
	TypeFull         Type = "FULL"
	TypeDifferential Type = "DIFFERENTIAL"
	TypeIncremental  Type = "INCREMENTAL"
	TypeWAL          Type = "WAL"
)

// Types lists every valid backup type.
var Types = []Type{TypeFull, TypeDifferential, TypeIncremental, TypeWAL}

// Valid reports whether t is a known backup type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status tracks an operation through its lifecycle. Transitions are
// one-directional: PENDING and RUNNING are the only non-terminal states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Compression names the algorithm an artifact was compressed with.
// Decompression dispatches strictly on this tag, never on a guess.
type Compression string

const (
	CompressionNone Compression = "NONE"
	CompressionGzip Compression = "GZIP"
	CompressionZstd Compression = "ZSTD"
	CompressionLZ4  Compression = "LZ4"
)

// Operation is the full lifecycle record of one backup artifact.
// Records are only ever soft-deleted; IsDeleted toggles, rows stay.
type Operation struct {
	ID         uuid.UUID `json:"id"         gorm:"column:id;type:uuid;primaryKey"`
	DatabaseID string    `json:"databaseId" gorm:"column:database_id;not null;index"`
	Type       Type      `json:"type"       gorm:"column:type;not null"`
	Status     Status    `json:"status"     gorm:"column:status;not null"`

	StartTime time.Time  `json:"startTime" gorm:"column:start_time;not null"`
	EndTime   *time.Time `json:"endTime"   gorm:"column:end_time"`

	// Populated once Status is COMPLETED, zero otherwise.
	SizeBytes      int64  `json:"sizeBytes"      gorm:"column:size_bytes"`
	CompressedSize int64  `json:"compressedSize" gorm:"column:compressed_size"`
	Checksum       string `json:"checksum"       gorm:"column:checksum"`

	StorageKey  string      `json:"storageKey"  gorm:"column:storage_key"`
	Compression Compression `json:"compression" gorm:"column:compression"`

	// Opaque key-derivation descriptor or Vault path. Never the passphrase.
	EncryptionKeyRef string `json:"encryptionKeyRef,omitempty" gorm:"column:encryption_key_ref"`

	// Set only for DIFFERENTIAL; must reference a COMPLETED FULL backup.
	ParentID *uuid.UUID `json:"parentBackupId,omitempty" gorm:"column:parent_id;type:uuid"`

	// Monotonic per (DatabaseID, Type), assigned at creation, never reused.
	Version int64 `json:"version" gorm:"column:version;not null"`

	Labels []string          `json:"labels,omitempty" gorm:"column:labels;serializer:json"`
	Meta   map[string]string `json:"metadata,omitempty" gorm:"column:meta;serializer:json"`

	IsDeleted bool       `json:"isDeleted" gorm:"column:is_deleted;not null;default:false"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"column:deleted_at"`

	ErrorMessage string `json:"errorMessage,omitempty" gorm:"column:error_message"`
}

// TableName keeps the table name stable regardless of the struct name.
func (Operation) TableName() string { return "backup_operations" }

// Active reports whether the operation is a live, usable artifact:
// completed and not soft-deleted. Rotation only ever considers active
// operations.
func (o *Operation) Active() bool {
	return o.Status == StatusCompleted && !o.IsDeleted
}

// Meta keys written by the pipeline.
const (
	MetaParentStartTime = "parent_start_time"
	MetaRequestedSince  = "requested_since"
	MetaHostname        = "hostname"
	MetaCompressionNote = "compression_note"
)
