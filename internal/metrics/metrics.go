// Package metrics exposes prometheus instruments for the backup pipeline
// and the retention engine. Exposition (HTTP handler, push, ...) is the
// caller's concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackupsTotal counts finished backup operations by type and outcome.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bakctl",
		Name:      "backups_total",
		Help:      "Finished backup operations by type and terminal status.",
	}, []string{"type", "status"})

	// BackupBytes records the stored (post-transform) artifact sizes.
	BackupBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bakctl",
		Name:      "backup_artifact_bytes",
		Help:      "Stored artifact size in bytes.",
		Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 10),
	})

	// CompressionRatio records compressedSize / originalSize per backup.
	CompressionRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bakctl",
		Name:      "backup_compression_ratio",
		Help:      "Compressed over original size per backup.",
		Buckets:   prometheus.LinearBuckets(0.05, 0.05, 20),
	})

	// RotationDeletedTotal counts backups soft-deleted by rotation.
	RotationDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bakctl",
		Name:      "rotation_deleted_total",
		Help:      "Backups soft-deleted by retention rotation.",
	})

	// RotationFreedBytes sums the logical bytes retired by rotation.
	RotationFreedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bakctl",
		Name:      "rotation_freed_bytes_total",
		Help:      "Logical bytes freed by retention rotation.",
	})
)
