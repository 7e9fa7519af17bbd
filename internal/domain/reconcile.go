package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// yyyymmRe matches six-digit period headers like "202003".
var yyyymmRe = regexp.MustCompile(`^\d{6}$`)

// monYYLayouts are the textual period header layouts seen across vintages.
var monYYLayouts = []string{"Jan-06", "Jan 06", "2006-01", "January 2006"}

// ParsePeriod converts a period column header to the first day of its month
// in UTC. Accepted forms: "YYYYMM", "Mon-YY", "Mon YY", "YYYY-MM" and
// "Month YYYY".
func ParsePeriod(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if yyyymmRe.MatchString(s) {
		year, _ := strconv.Atoi(s[:4])
		month, _ := strconv.Atoi(s[4:])
		if month < 1 || month > 12 {
			return time.Time{}, fmt.Errorf("period %q: month out of range", s)
		}
		return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range monYYLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("period %q: unrecognized format", s)
}

// IsPeriodHeader reports whether a column header denotes a month, used by the
// parsers to split identity columns from period columns.
func IsPeriodHeader(s string) bool {
	_, err := ParsePeriod(s)
	return err == nil
}

// Reconciler maps raw records onto the canonical schema. It is the single
// place alias tables are consulted: parsing and merging never see raw labels.
type Reconciler struct {
	geography *AliasMap
	major     *AliasMap
	minor     *AliasMap
	excluded  map[string]struct{} // normalized labels dropped by policy
}

// NewReconciler builds a Reconciler over the given alias maps and exclusion
// list.
func NewReconciler(geography, major, minor *AliasMap, exclude []string) *Reconciler {
	excluded := make(map[string]struct{}, len(exclude))
	for _, label := range exclude {
		excluded[NormalizeLabel(label)] = struct{}{}
	}
	return &Reconciler{
		geography: geography,
		major:     major,
		minor:     minor,
		excluded:  excluded,
	}
}

// Reconcile expands one raw row into zero or more canonical records: one per
// non-blank period column, with labels resolved and counts validated.
//
// Returns ErrGeographyExcluded for rows on the exclusion list, and a
// *ReconciliationError when a label cannot be resolved or a count is
// negative or non-numeric. A failed row produces no records at all; partial
// rows would corrupt the roll-up sums.
func (r *Reconciler) Reconcile(raw RawRecord) ([]CanonicalRecord, error) {
	if _, drop := r.excluded[NormalizeLabel(raw.Borough)]; drop {
		return nil, ErrGeographyExcluded
	}

	borough, ok := r.geography.Resolve(raw.Borough)
	if !ok {
		return nil, &ReconciliationError{
			Field: "geography", Value: raw.Borough,
			Reason: "no alias maps to a canonical borough", Unmapped: true,
		}
	}
	major, ok := r.major.Resolve(raw.Major)
	if !ok {
		return nil, &ReconciliationError{
			Field: "category", Value: raw.Major,
			Reason: "no alias maps to a canonical major category", Unmapped: true,
		}
	}
	minor, ok := r.minor.Resolve(raw.Minor)
	if !ok {
		return nil, &ReconciliationError{
			Field: "category", Value: raw.Minor,
			Reason: "no alias maps to a canonical minor category", Unmapped: true,
		}
	}

	geography := strings.TrimSpace(raw.Geography)
	if geography == "" {
		geography = borough
	}

	records := make([]CanonicalRecord, 0, len(raw.Counts))
	for _, pc := range raw.Counts {
		value := strings.TrimSpace(pc.Value)
		if value == "" {
			continue // month not published for this row
		}
		date, err := ParsePeriod(pc.Period)
		if err != nil {
			return nil, &ReconciliationError{Field: "period", Value: pc.Period, Reason: err.Error()}
		}
		count, err := parseCount(value)
		if err != nil {
			return nil, &ReconciliationError{Field: "count", Value: value, Reason: err.Error()}
		}
		if count == 0 {
			continue // combined series records only months with offences
		}
		records = append(records, CanonicalRecord{
			Borough:   borough,
			Geography: geography,
			Major:     major,
			Minor:     minor,
			Date:      date,
			Count:     count,
		})
	}
	return records, nil
}

// parseCount parses a non-negative integer count. Some vintages export counts
// as floats ("5.0"); those are accepted when integral.
func parseCount(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative count")
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if f < 0 {
		return 0, fmt.Errorf("negative count")
	}
	n := int(f)
	if float64(n) != f {
		return 0, fmt.Errorf("not an integer")
	}
	return n, nil
}
