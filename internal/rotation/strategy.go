// Package rotation enforces retention policies over the population of
// backup artifacts: time-tiered, size-capped and version-capped pruning,
// applied in that fixed order.
package rotation

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/bakctl/internal/backup"
)

// idSet marks operations selected as surplus by a strategy.
type idSet map[uuid.UUID]struct{}

func (s idSet) has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// tier buckets a backup by its age relative to "now".
type tier int

const (
	tierDaily tier = iota
	tierWeekly
	tierMonthly
	tierYearly
)

func classifyTier(age time.Duration) tier {
	days := age.Hours() / 24
	switch {
	case days <= 7:
		return tierDaily
	case days <= 30:
		return tierWeekly
	case days <= 365:
		return tierMonthly
	default:
		return tierYearly
	}
}

func keepCount(t tier, p *backup.RetentionPolicy) int {
	switch t {
	case tierDaily:
		return p.KeepDaily
	case tierWeekly:
		return p.KeepWeekly
	case tierMonthly:
		return p.KeepMonthly
	default:
		return p.KeepYearly
	}
}

// parentIDs returns the FULL backups that active DIFFERENTIAL backups
// still reference. Deleting one of these would strand its chain, so every
// strategy leaves them alone.
func parentIDs(active []*backup.Operation) idSet {
	protected := make(idSet)
	for _, op := range active {
		if op.Type == backup.TypeDifferential && op.ParentID != nil {
			protected[*op.ParentID] = struct{}{}
		}
	}
	return protected
}

// timeTieredSurplus groups active backups by type, buckets each by age and
// keeps only the newest keepDaily/Weekly/Monthly/Yearly entries per
// bucket. Everything else is surplus.
func timeTieredSurplus(active []*backup.Operation, p *backup.RetentionPolicy, now time.Time, protected idSet) (idSet, []string) {
	surplus := make(idSet)
	var warnings []string

	byTypeAndTier := make(map[backup.Type]map[tier][]*backup.Operation)
	for _, op := range active {
		t := classifyTier(now.Sub(op.StartTime))
		if byTypeAndTier[op.Type] == nil {
			byTypeAndTier[op.Type] = make(map[tier][]*backup.Operation)
		}
		byTypeAndTier[op.Type][t] = append(byTypeAndTier[op.Type][t], op)
	}

	for _, tiers := range byTypeAndTier {
		for t, bucket := range tiers {
			keep := keepCount(t, p)
			if len(bucket) <= keep {
				continue
			}
			// Newest first; ties broken by start time, newest wins.
			sort.Slice(bucket, func(i, j int) bool {
				return bucket[i].StartTime.After(bucket[j].StartTime)
			})
			for _, op := range bucket[keep:] {
				if protected.has(op.ID) {
					warnings = append(warnings, fmt.Sprintf(
						"kept %s v%d: it is the parent of a live differential", op.Type, op.Version))
					continue
				}
				surplus[op.ID] = struct{}{}
			}
		}
	}
	return surplus, warnings
}

// sizeCapSurplus deletes oldest-first until the summed logical size of the
// remaining backups fits under maxTotal, or nothing deletable remains.
func sizeCapSurplus(active []*backup.Operation, maxTotal int64, protected idSet) (idSet, []string) {
	surplus := make(idSet)
	var warnings []string
	if maxTotal <= 0 {
		return surplus, warnings
	}

	var total int64
	for _, op := range active {
		total += op.SizeBytes
	}
	if total <= maxTotal {
		return surplus, warnings
	}

	oldestFirst := make([]*backup.Operation, len(active))
	copy(oldestFirst, active)
	sort.Slice(oldestFirst, func(i, j int) bool {
		return oldestFirst[i].StartTime.Before(oldestFirst[j].StartTime)
	})

	for _, op := range oldestFirst {
		if total <= maxTotal {
			break
		}
		if protected.has(op.ID) {
			warnings = append(warnings, fmt.Sprintf(
				"size cap kept %s v%d: it is the parent of a live differential", op.Type, op.Version))
			continue
		}
		surplus[op.ID] = struct{}{}
		total -= op.SizeBytes
	}
	if total > maxTotal {
		warnings = append(warnings, fmt.Sprintf(
			"size cap not reachable: %d bytes remain over a %d byte cap", total, maxTotal))
	}
	return surplus, warnings
}

// versionCapSurplus groups by type and deletes the oldest-by-version
// surplus entries of any group larger than maxVersions.
func versionCapSurplus(active []*backup.Operation, maxVersions int, protected idSet) (idSet, []string) {
	surplus := make(idSet)
	var warnings []string
	if maxVersions <= 0 {
		return surplus, warnings
	}

	byType := make(map[backup.Type][]*backup.Operation)
	for _, op := range active {
		byType[op.Type] = append(byType[op.Type], op)
	}

	for _, group := range byType {
		if len(group) <= maxVersions {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].Version < group[j].Version
		})
		for _, op := range group[:len(group)-maxVersions] {
			if protected.has(op.ID) {
				warnings = append(warnings, fmt.Sprintf(
					"version cap kept %s v%d: it is the parent of a live differential", op.Type, op.Version))
				continue
			}
			surplus[op.ID] = struct{}{}
		}
	}
	return surplus, warnings
}

// remaining filters out operations already marked surplus, so each
// strategy only ever sees the still-active set. No double-counting, no
// double-freeing.
func remaining(active []*backup.Operation, surplus idSet) []*backup.Operation {
	var out []*backup.Operation
	for _, op := range active {
		if !surplus.has(op.ID) {
			out = append(out, op)
		}
	}
	return out
}
