package domain

import (
	"sort"
	"time"
)

// MergeStats summarises the effect of merging one batch into the combined
// table.
type MergeStats struct {
	Inserted  int
	Replaced  int
	Unchanged int

	// Conflicts counts keys where an equal-vintage batch carried a
	// different count. The stored row is kept; the count is surfaced in
	// the run summary so stale republications are visible to operators.
	Conflicts int
}

// RollUp sums canonical records into one row per natural key, collapsing
// ward and LSOA granularity onto their parent borough. The result is sorted
// by key for deterministic merges.
func RollUp(records []CanonicalRecord) []CanonicalRecord {
	sums := make(map[Key]int, len(records))
	for _, rec := range records {
		sums[rec.Key()] += rec.Count
	}
	out := make([]CanonicalRecord, 0, len(sums))
	for k, count := range sums {
		out = append(out, CanonicalRecord{
			Borough:   k.Borough,
			Geography: k.Borough,
			Major:     k.Major,
			Minor:     k.Minor,
			Date:      k.Date,
			Count:     count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Borough != b.Borough {
			return a.Borough < b.Borough
		}
		if a.Major != b.Major {
			return a.Major < b.Major
		}
		if a.Minor != b.Minor {
			return a.Minor < b.Minor
		}
		return a.Date.Before(b.Date)
	})
	return out
}

// Merge rolls a batch up to borough level and merges it into the table under
// the replace-on-newer-vintage policy: a stored key is overwritten only when
// the batch's vintage is strictly newer than the vintage that wrote it.
// Merging the same batch twice with the same vintage is a no-op the second
// time.
func Merge(table *CombinedTable, batch []CanonicalRecord, vintage time.Time) MergeStats {
	var stats MergeStats
	for _, rec := range RollUp(batch) {
		existing, ok := table.Get(rec.Key())
		switch {
		case !ok:
			table.Put(CombinedRow{
				Borough: rec.Borough,
				Major:   rec.Major,
				Minor:   rec.Minor,
				Date:    rec.Date,
				Count:   rec.Count,
				Vintage: vintage,
			})
			stats.Inserted++
		case vintage.After(existing.Vintage):
			table.Put(CombinedRow{
				Borough: rec.Borough,
				Major:   rec.Major,
				Minor:   rec.Minor,
				Date:    rec.Date,
				Count:   rec.Count,
				Vintage: vintage,
			})
			stats.Replaced++
		case rec.Count != existing.Count:
			stats.Conflicts++
		default:
			stats.Unchanged++
		}
	}
	return stats
}
