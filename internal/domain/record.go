package domain

import (
	"context"
	"sort"
	"time"
)

// SourceKind identifies the geographic granularity of a source resource.
type SourceKind string

const (
	KindBorough SourceKind = "borough"
	KindWard    SourceKind = "ward"
	KindLSOA    SourceKind = "lsoa"
)

// Format identifies the file format of a source resource.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Candidate is a downloadable resource discovered on the dataset listing page.
type Candidate struct {
	URL      string
	Filename string
	Kind     SourceKind
	Format   Format

	// PeriodEnd is the end of the declared temporal coverage range, zero
	// when the listing page did not expose one.
	PeriodEnd time.Time

	// RequiresRender marks resources that are only reachable through a
	// rendered-page download trigger rather than a plain GET.
	RequiresRender bool
}

// SourceResource describes one fetched resource. Identity is the content
// hash; a re-fetch produces a new SourceResource rather than mutating an
// old one.
type SourceResource struct {
	URL         string
	Filename    string
	Kind        SourceKind
	Format      Format
	FetchedAt   time.Time
	ContentHash string

	// Vintage is the declared period end, falling back to the fetch time
	// when the listing page declared none. It decides whether this
	// resource's figures supersede what is already stored.
	Vintage time.Time
}

// PeriodCount is one period column's raw cell value for a wide-format row.
type PeriodCount struct {
	Period string // raw column header, e.g. "202003" or "Jan-20"
	Value  string // raw cell text, may be blank
}

// RawRecord is one parsed row, still carrying the source's own labels.
// Produced by the format parsers, consumed by the Reconciler, never stored.
type RawRecord struct {
	Kind      SourceKind
	Geography string // label at source granularity (borough, ward or LSOA name)
	Borough   string // parent borough label; equals Geography for borough rows
	Major     string
	Minor     string
	Counts    []PeriodCount

	// Provenance for error reporting.
	Sheet string
	Line  int
}

// CanonicalRecord is one borough/category/month observation with all labels
// resolved to their canonical forms.
type CanonicalRecord struct {
	Borough   string
	Geography string // fine-granularity name retained for the audit tables
	Major     string
	Minor     string
	Date      time.Time // first of month, UTC
	Count     int
}

// Key is the natural key of the combined table.
type Key struct {
	Borough string
	Major   string
	Minor   string
	Date    time.Time
}

// Key returns the record's natural key.
func (r CanonicalRecord) Key() Key {
	return Key{Borough: r.Borough, Major: r.Major, Minor: r.Minor, Date: r.Date}
}

// CombinedRow is one stored row of the combined table, tagged with the
// vintage of the batch that last wrote it.
type CombinedRow struct {
	Borough string
	Major   string
	Minor   string
	Date    time.Time
	Count   int
	Vintage time.Time
}

// CombinedTable holds the canonical borough/category/month series keyed by
// natural key. At most one row exists per key.
type CombinedTable struct {
	rows map[Key]CombinedRow
}

// NewCombinedTable returns an empty table.
func NewCombinedTable() *CombinedTable {
	return &CombinedTable{rows: make(map[Key]CombinedRow)}
}

// Len reports the number of rows.
func (t *CombinedTable) Len() int { return len(t.rows) }

// Get returns the row for a key, if present.
func (t *CombinedTable) Get(k Key) (CombinedRow, bool) {
	row, ok := t.rows[k]
	return row, ok
}

// Put inserts or replaces the row for its key.
func (t *CombinedTable) Put(row CombinedRow) {
	t.rows[Key{Borough: row.Borough, Major: row.Major, Minor: row.Minor, Date: row.Date}] = row
}

// Rows returns all rows sorted by borough, major, minor, date. The sort is
// for stable output and diffable tests; consumers must not rely on it.
func (t *CombinedTable) Rows() []CombinedRow {
	out := make([]CombinedRow, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row)
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

// Renderer fetches a resource by driving a rendered page, for downloads that
// are only reachable through browser interaction. Implementations live
// outside the core pipeline; the fetcher treats a missing renderer as a
// skippable condition, not a fault.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// RunResult summarises one pipeline run for the scheduler and the optional
// notifier.
type RunResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ResourcesDiscovered int      `json:"resources_discovered"`
	ResourcesProcessed  int      `json:"resources_processed"`
	SkippedResources    []string `json:"skipped_resources,omitempty"`

	RecordsReconciled int      `json:"records_reconciled"`
	RecordsSkipped    int      `json:"records_skipped"`
	UnmappedLabels    []string `json:"unmapped_labels,omitempty"`

	Inserted         int `json:"inserted"`
	Replaced         int `json:"replaced"`
	VintageConflicts int `json:"vintage_conflicts"`
	RecordsWritten   int `json:"records_written"`

	Errors []string `json:"errors,omitempty"`
}
