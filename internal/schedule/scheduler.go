// Package schedule triggers pipeline runs on a day-of-month cadence. The
// portal republishes its resources monthly near the end of the month, so the
// service runs once per calendar month rather than on a fixed interval.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (domain.RunResult, error)
}

// Scheduler runs the pipeline on a configured day of each month, clamped to
// the month's last day when the month is shorter. It also retains the latest
// run summary for the status endpoint.
type Scheduler struct {
	runner Runner
	day    int
	clock  clockwork.Clock
	logger *slog.Logger

	// poll bounds how stale the day check may get; an hourly recheck keeps
	// the trigger within the right day even across clock adjustments.
	poll time.Duration

	mu        sync.RWMutex
	last      domain.RunResult
	hasRun    bool
	lastMonth time.Time // first of the month last triggered, zero initially
}

// New creates a Scheduler. day is clamped per month, so 30 or 31 mean "end of
// month" in February.
func New(runner Runner, day int, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		day:    day,
		clock:  clock,
		logger: logger,
		poll:   time.Hour,
	}
}

// LastRun returns the most recent run summary, and false before any run.
func (s *Scheduler) LastRun() (domain.RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasRun
}

// RunNow executes one run immediately, outside the monthly cadence. The run
// counts against the current month, so the scheduled trigger will not fire
// again until next month.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runOnce(ctx, s.clock.Now())
}

// Start loops until the context is cancelled, checking hourly whether the
// trigger day has arrived. At most one run happens per calendar month.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "day_of_month", s.day)
	for {
		if now := s.clock.Now(); s.due(now) {
			s.runOnce(ctx, now)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-s.clock.After(s.poll):
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	result, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled run failed", "run_id", result.RunID, "error", err)
	}

	s.mu.Lock()
	s.last = result
	s.hasRun = true
	s.lastMonth = monthOf(now)
	s.mu.Unlock()
}

// due reports whether now is this month's trigger day and the month has not
// run yet.
func (s *Scheduler) due(now time.Time) bool {
	s.mu.RLock()
	alreadyRan := s.lastMonth.Equal(monthOf(now))
	s.mu.RUnlock()
	if alreadyRan {
		return false
	}

	day := s.day
	if last := lastDayOfMonth(now); day > last {
		day = last
	}
	return now.Day() == day
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
