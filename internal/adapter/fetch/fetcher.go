// Package fetch downloads discovered resources over plain HTTP, with a
// pluggable renderer seam for resources that need a driven browser.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
	"github.com/boroughwatch/london-crime-etl/internal/observability"
)

// Fetcher retrieves resource bytes and fingerprints them. Transient failures
// are retried with exponential backoff; client errors are not.
type Fetcher struct {
	client   *http.Client
	renderer domain.Renderer // nil when no rendering strategy is configured
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Fetcher. renderer may be nil; resources that require
// rendering are then skipped by the pipeline rather than failing the run.
func New(timeout time.Duration, attempts int, renderer domain.Renderer, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	if attempts < 1 {
		attempts = 1
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		renderer: renderer,
		attempts: attempts,
		backoff:  500 * time.Millisecond,
		logger:   logger,
		metrics:  metrics,
	}
}

// Fetch downloads one candidate and returns the resource descriptor plus the
// raw bytes. The vintage is the candidate's declared period end, or the
// fetch time when none was declared.
func (f *Fetcher) Fetch(ctx context.Context, c domain.Candidate) (domain.SourceResource, []byte, error) {
	data, err := f.fetchWithRetry(ctx, c)
	if err != nil {
		return domain.SourceResource{}, nil, err
	}

	sum := sha256.Sum256(data)
	now := domain.Now()
	vintage := c.PeriodEnd
	if vintage.IsZero() {
		vintage = now
	}

	return domain.SourceResource{
		URL:         c.URL,
		Filename:    c.Filename,
		Kind:        c.Kind,
		Format:      c.Format,
		FetchedAt:   now,
		ContentHash: hex.EncodeToString(sum[:]),
		Vintage:     vintage,
	}, data, nil
}

// fetchWithRetry attempts the download up to f.attempts times, doubling the
// backoff between attempts. Only retryable failures (transport errors,
// timeouts, 5xx, 429) trigger another attempt.
func (f *Fetcher) fetchWithRetry(ctx context.Context, c domain.Candidate) ([]byte, error) {
	backoff := f.backoff
	var lastErr error

	for attempt := 1; attempt <= f.attempts; attempt++ {
		data, err := f.fetchOnce(ctx, c)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var fetchErr *domain.FetchError
		if !errors.As(err, &fetchErr) || !fetchErr.Retryable() {
			return nil, err
		}
		if attempt == f.attempts {
			break
		}

		f.metrics.FetchRetries.Inc()
		f.logger.Warn("fetch failed, retrying",
			"url", c.URL, "attempt", attempt, "backoff", backoff, "error", err)
		if !sleepWithContext(ctx, backoff) {
			return nil, &domain.FetchError{URL: c.URL, Err: ctx.Err()}
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, c domain.Candidate) ([]byte, error) {
	if c.RequiresRender {
		return f.renderFetch(ctx, c)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: c.URL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: c.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{URL: c.URL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: c.URL, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(data) == 0 {
		return nil, &domain.FetchError{URL: c.URL, Err: errors.New("empty response body")}
	}
	return data, nil
}

// renderFetch delegates to the rendering collaborator. Its absence is a
// degraded-but-recoverable condition, not a run failure.
func (f *Fetcher) renderFetch(ctx context.Context, c domain.Candidate) ([]byte, error) {
	if f.renderer == nil {
		return nil, &domain.FetchError{URL: c.URL, Err: domain.ErrRendererUnavailable}
	}
	data, err := f.renderer.Render(ctx, c.URL)
	if err != nil {
		return nil, &domain.FetchError{URL: c.URL, Err: fmt.Errorf("render: %w", err)}
	}
	if len(data) == 0 {
		return nil, &domain.FetchError{URL: c.URL, Err: errors.New("renderer produced no bytes")}
	}
	return data, nil
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// sleepWithContext waits for d unless the context is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
