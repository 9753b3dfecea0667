package backup

import "github.com/google/uuid"

// RetentionPolicy is a named rotation configuration. At most one policy is
// active at a time; the active one drives automatic rotation.
type RetentionPolicy struct {
	Name string `json:"name" gorm:"column:name;primaryKey" mapstructure:"name"`

	KeepDaily   int `json:"keepDaily"   gorm:"column:keep_daily"   mapstructure:"keep_daily"`
	KeepWeekly  int `json:"keepWeekly"  gorm:"column:keep_weekly"  mapstructure:"keep_weekly"`
	KeepMonthly int `json:"keepMonthly" gorm:"column:keep_monthly" mapstructure:"keep_monthly"`
	KeepYearly  int `json:"keepYearly"  gorm:"column:keep_yearly"  mapstructure:"keep_yearly"`

	// Zero means the cap is not set.
	MaxTotalSizeBytes int64 `json:"maxTotalSizeBytes,omitempty" gorm:"column:max_total_size_bytes" mapstructure:"max_total_size_bytes"`
	MaxVersions       int   `json:"maxVersions,omitempty"       gorm:"column:max_versions"         mapstructure:"max_versions"`

	IsActive bool `json:"isActive" gorm:"column:is_active" mapstructure:"is_active"`
}

// TableName keeps the table name stable regardless of the struct name.
func (RetentionPolicy) TableName() string { return "retention_policies" }

// RotationResult reports one retention pass over a single database.
type RotationResult struct {
	DatabaseID string      `json:"databaseId"`
	Deleted    []uuid.UUID `json:"deletedBackups"`

	// FreedSpace sums the logical SizeBytes of every operation whose
	// IsDeleted flag flipped during this pass, regardless of whether the
	// physical delete succeeded.
	FreedSpace int64 `json:"freedSpace"`

	TotalBefore int `json:"totalBefore"`
	TotalAfter  int `json:"totalAfter"`

	// Warnings flag anomalies the engine proceeded through, such as a
	// policy that wanted to remove the last backup of a type or a
	// differential parent that had to be kept.
	Warnings []string `json:"warnings,omitempty"`
}
