package domain

import (
	"errors"
	"fmt"
)

// ErrRendererUnavailable is returned by the fetcher when a resource requires
// a rendered-page download but no renderer is configured. The pipeline skips
// the resource and continues.
var ErrRendererUnavailable = errors.New("resource requires rendering but no renderer is configured")

// ErrGeographyExcluded is returned by the reconciler for rows whose geography
// is on the exclusion list (non-territorial policing units). Such rows are
// dropped by policy and counted in the run summary, not treated as failures.
var ErrGeographyExcluded = errors.New("geography excluded by policy")

// FetchError reports a failed resource download. Status is zero for
// transport-level failures.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt. Client
// errors are not: the URL is wrong or gone, and re-requesting it only delays
// the run.
func (e *FetchError) Retryable() bool {
	if e.Status == 0 {
		return !errors.Is(e.Err, ErrRendererUnavailable)
	}
	return e.Status >= 500 || e.Status == 429
}

// ParseError reports a resource whose shape did not match any known layout.
// It is fatal for the resource, not the run.
type ParseError struct {
	Resource string
	Sheet    string // empty for CSV
	Line     int    // 1-based, 0 when unknown
	Msg      string
	Err      error
}

func (e *ParseError) Error() string {
	loc := e.Resource
	if e.Sheet != "" {
		loc = fmt.Sprintf("%s sheet %q", loc, e.Sheet)
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s line %d", loc, e.Line)
	}
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", loc, e.Msg, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", loc, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReconciliationError reports a row that could not be mapped onto the
// canonical schema. The row is skipped and surfaced in the run summary.
type ReconciliationError struct {
	Field  string // "geography", "category", "count" or "period"
	Value  string
	Reason string

	// Unmapped marks label-resolution failures, which are counted against
	// the stale-alias-map threshold.
	Unmapped bool
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s %q: %s", e.Field, e.Value, e.Reason)
}

// StoreError reports a durable-store failure. Fatal for the run; the
// previously published database is left untouched.
type StoreError struct {
	Path string
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
