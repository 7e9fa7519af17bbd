// Package pipeline orchestrates one discover-fetch-parse-reconcile-merge-write
// run over the portal's crime resources. Stages are interfaces so transports
// and stores stay swappable; the orchestration itself owns error isolation,
// escalation thresholds and the run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
	"github.com/boroughwatch/london-crime-etl/internal/observability"
	"github.com/boroughwatch/london-crime-etl/internal/parser"
)

// Discoverer lists candidate resources on the dataset listing page.
type Discoverer interface {
	Discover(ctx context.Context) ([]domain.Candidate, error)
}

// Fetcher downloads one candidate and fingerprints the bytes.
type Fetcher interface {
	Fetch(ctx context.Context, c domain.Candidate) (domain.SourceResource, []byte, error)
}

// Reconciler maps one raw row onto zero or more canonical records.
type Reconciler interface {
	Reconcile(raw domain.RawRecord) ([]domain.CanonicalRecord, error)
}

// Store persists the combined series with run-level locking.
type Store interface {
	Lock(ctx context.Context) error
	Unlock() error
	ReadCombined(ctx context.Context) (*domain.CombinedTable, error)
	Write(ctx context.Context, table *domain.CombinedTable, audit map[domain.SourceKind][]domain.CanonicalRecord) error
}

// Notifier publishes a run summary. Optional.
type Notifier interface {
	NotifyRun(ctx context.Context, result domain.RunResult) error
}

// parseFunc matches parser.Parse; injectable for tests.
type parseFunc func(data []byte, res domain.SourceResource) (parser.Rows, error)

// Options tune a Pipeline beyond its collaborators.
type Options struct {
	// FetchConcurrency bounds parallel downloads. Zero means 1.
	FetchConcurrency int

	// UnmappedLabelLimit aborts the run when more distinct labels fail to
	// resolve, on the assumption that the alias maps are stale rather than
	// the data noisy. Zero disables the check.
	UnmappedLabelLimit int
}

// Pipeline runs the ETL cycle. One Pipeline serves many runs; each Run call
// is independent.
type Pipeline struct {
	discoverer Discoverer
	fetcher    Fetcher
	reconciler Reconciler
	store      Store
	notifier   Notifier
	parse      parseFunc

	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	ready atomic.Bool
}

// New creates a Pipeline. notifier may be nil.
func New(d Discoverer, f Fetcher, r Reconciler, s Store, n Notifier, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 1
	}
	return &Pipeline{
		discoverer: d,
		fetcher:    f,
		reconciler: r,
		store:      s,
		notifier:   n,
		parse:      parser.Parse,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once at least one run has published a database.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no run has published a database yet")
	}
	return nil
}

// resourceBatch is one resource's reconciled output, held until the
// serialized merge phase.
type resourceBatch struct {
	resource domain.SourceResource
	records  []domain.CanonicalRecord
}

// runState accumulates cross-resource tallies. Guarded by mu during the
// parallel phase.
type runState struct {
	mu       sync.Mutex
	batches  []resourceBatch
	skipped  []string
	errs     []string
	unmapped map[string]struct{}

	reconciled int
	rowsSkip   int
}

// Run executes one complete ETL cycle and returns its summary. The returned
// error is non-nil only for run-fatal conditions; per-resource failures are
// carried in the summary instead.
func (p *Pipeline) Run(ctx context.Context) (domain.RunResult, error) {
	result := domain.RunResult{
		RunID:     uuid.NewString(),
		StartedAt: domain.Now(),
	}
	logger := p.logger.With("run_id", result.RunID)
	logger.Info("run started")

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	start := time.Now()

	err := p.run(ctx, logger, &result)

	result.FinishedAt = domain.Now()
	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	p.metrics.LastRunTime.Set(float64(result.FinishedAt.Unix()))
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		p.metrics.LastRunOK.Set(0)
		logger.Error("run failed", "error", err)
	} else {
		p.ready.Store(true)
		p.metrics.LastRunOK.Set(1)
		logger.Info("run finished",
			"resources", result.ResourcesProcessed,
			"reconciled", result.RecordsReconciled,
			"inserted", result.Inserted,
			"replaced", result.Replaced,
			"written", result.RecordsWritten)
	}

	p.notify(ctx, logger, result)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, result *domain.RunResult) error {
	if err := p.store.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.store.Unlock(); err != nil {
			logger.Warn("release run lock failed", "error", err)
		}
	}()

	candidates, err := p.discoverer.Discover(ctx)
	if err != nil {
		return err
	}
	result.ResourcesDiscovered = len(candidates)
	p.metrics.ResourcesDiscovered.Add(float64(len(candidates)))
	if len(candidates) == 0 {
		return errors.New("no crime resources discovered on the listing page")
	}

	state := &runState{unmapped: make(map[string]struct{})}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.FetchConcurrency)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			p.processResource(gctx, logger, c, state)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	result.SkippedResources = state.skipped
	result.Errors = append(result.Errors, state.errs...)
	result.ResourcesProcessed = len(state.batches)
	result.RecordsReconciled = state.reconciled
	result.RecordsSkipped = state.rowsSkip
	result.UnmappedLabels = sortedLabels(state.unmapped)

	if limit := p.opts.UnmappedLabelLimit; limit > 0 && len(state.unmapped) > limit {
		return fmt.Errorf("%d distinct labels unresolvable (limit %d), alias maps look stale",
			len(state.unmapped), limit)
	}
	if state.reconciled == 0 {
		return errors.New("no records reconciled from any resource, refusing to publish an empty database")
	}

	return p.mergeAndWrite(ctx, logger, state.batches, result)
}

// processResource fetches, parses and reconciles one resource. Failures are
// isolated: they mark the resource skipped or errored in the shared state and
// never fail the run directly.
func (p *Pipeline) processResource(ctx context.Context, logger *slog.Logger, c domain.Candidate, state *runState) {
	res, data, err := p.fetcher.Fetch(ctx, c)
	if err != nil {
		if errors.Is(err, domain.ErrRendererUnavailable) {
			logger.Warn("resource needs rendering, skipping", "url", c.URL, "kind", c.Kind)
			p.metrics.ResourcesFetched.WithLabelValues(string(c.Kind), "skipped").Inc()
			state.mu.Lock()
			state.skipped = append(state.skipped, fmt.Sprintf("%s: renderer not configured", c.Filename))
			state.mu.Unlock()
			return
		}
		logger.Error("fetch failed", "url", c.URL, "kind", c.Kind, "error", err)
		p.metrics.ResourcesFetched.WithLabelValues(string(c.Kind), "error").Inc()
		state.mu.Lock()
		state.errs = append(state.errs, err.Error())
		state.mu.Unlock()
		return
	}
	p.metrics.ResourcesFetched.WithLabelValues(string(c.Kind), "success").Inc()

	batch, rowsSkipped, unmapped, err := p.reconcileResource(res, data)
	if err != nil {
		logger.Error("parse failed", "resource", res.Filename, "error", err)
		p.metrics.ParseErrors.Inc()
		state.mu.Lock()
		state.errs = append(state.errs, err.Error())
		state.mu.Unlock()
		return
	}

	logger.Info("resource reconciled",
		"resource", res.Filename, "kind", res.Kind,
		"records", len(batch), "rows_skipped", rowsSkipped,
		"vintage", res.Vintage.Format("2006-01-02"))

	state.mu.Lock()
	defer state.mu.Unlock()
	state.batches = append(state.batches, resourceBatch{resource: res, records: batch})
	state.reconciled += len(batch)
	state.rowsSkip += rowsSkipped
	for label := range unmapped {
		if _, seen := state.unmapped[label]; !seen {
			state.unmapped[label] = struct{}{}
			p.metrics.UnmappedLabels.Inc()
		}
	}
}

// reconcileResource streams the resource's rows through the reconciler.
// Row-level reconciliation failures skip the row; only an unreadable layout
// is an error.
func (p *Pipeline) reconcileResource(res domain.SourceResource, data []byte) ([]domain.CanonicalRecord, int, map[string]struct{}, error) {
	rows, err := p.parse(data, res)
	if err != nil {
		return nil, 0, nil, err
	}
	defer rows.Close()

	var batch []domain.CanonicalRecord
	skipped := 0
	unmapped := make(map[string]struct{})

	for rows.Next() {
		records, err := p.reconciler.Reconcile(rows.Record())
		if err != nil {
			skipped++
			var recErr *domain.ReconciliationError
			switch {
			case errors.Is(err, domain.ErrGeographyExcluded):
				// dropped by policy, not an anomaly
			case errors.As(err, &recErr):
				p.metrics.ReconcileErrors.WithLabelValues(recErr.Field).Inc()
				if recErr.Unmapped {
					unmapped[recErr.Value] = struct{}{}
				}
			}
			continue
		}
		batch = append(batch, records...)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, nil, err
	}

	p.metrics.RecordsReconciled.Add(float64(len(batch)))
	return batch, skipped, unmapped, nil
}

// mergeAndWrite folds every resource batch into the stored series, oldest
// vintage first so a fresher resource in the same run wins deterministically,
// then publishes the result.
func (p *Pipeline) mergeAndWrite(ctx context.Context, logger *slog.Logger, batches []resourceBatch, result *domain.RunResult) error {
	table, err := p.store.ReadCombined(ctx)
	if err != nil {
		return err
	}

	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i].resource, batches[j].resource
		if !a.Vintage.Equal(b.Vintage) {
			return a.Vintage.Before(b.Vintage)
		}
		return a.Kind < b.Kind
	})

	audit := make(map[domain.SourceKind][]domain.CanonicalRecord)
	for _, b := range batches {
		stats := domain.Merge(table, b.records, b.resource.Vintage)
		result.Inserted += stats.Inserted
		result.Replaced += stats.Replaced
		result.VintageConflicts += stats.Conflicts
		p.metrics.RecordsMerged.WithLabelValues("inserted").Add(float64(stats.Inserted))
		p.metrics.RecordsMerged.WithLabelValues("replaced").Add(float64(stats.Replaced))
		p.metrics.RecordsMerged.WithLabelValues("unchanged").Add(float64(stats.Unchanged))
		p.metrics.RecordsMerged.WithLabelValues("conflict").Add(float64(stats.Conflicts))

		audit[b.resource.Kind] = append(audit[b.resource.Kind], b.records...)

		if stats.Conflicts > 0 {
			logger.Warn("equal-vintage count conflicts, stored rows kept",
				"resource", b.resource.Filename, "conflicts", stats.Conflicts)
		}
	}

	if err := p.store.Write(ctx, table, audit); err != nil {
		return err
	}
	result.RecordsWritten = table.Len()
	p.metrics.RecordsWritten.Set(float64(table.Len()))
	return nil
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, result domain.RunResult) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyRun(ctx, result); err != nil {
		logger.Warn("run summary notification failed", "error", err)
	}
}

func sortedLabels(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for label := range set {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
