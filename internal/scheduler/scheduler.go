// Package scheduler drives periodic cache refreshes and OHLC rollups with a
// time-of-day-aware, self-rescheduling timer loop.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// Refresher forces a category refresh. The cache manager implements it.
type Refresher interface {
	ForceRefresh(ctx context.Context, category domain.Category) error
}

// RollupRunner runs the periodic OHLC aggregations. The OHLC engine
// implements it.
type RollupRunner interface {
	RollupDaily(ctx context.Context, date time.Time) error
	RollupWeekly(ctx context.Context, weekStart time.Time) error
	RollupMonthly(ctx context.Context, monthStart time.Time) error
}

// Rules is the priority-ordered interval policy evaluated against the local
// clock: weekend days get the long interval, peak days within the peak hour
// range get the short one, everything else the normal one.
type Rules struct {
	Location      *time.Location
	WeekendDays   map[time.Weekday]bool
	PeakDays      map[time.Weekday]bool
	PeakStartHour int
	PeakEndHour   int

	WeekendInterval time.Duration
	PeakInterval    time.Duration
	NormalInterval  time.Duration
}

// Interval returns the refresh interval in effect at now.
func (r Rules) Interval(now time.Time) time.Duration {
	local := now.In(r.Location)
	switch {
	case r.WeekendDays[local.Weekday()]:
		return r.WeekendInterval
	case r.PeakDays[local.Weekday()] && local.Hour() >= r.PeakStartHour && local.Hour() < r.PeakEndHour:
		return r.PeakInterval
	default:
		return r.NormalInterval
	}
}

// Scheduler owns the refresh loop. A run refreshes every configured category
// with independent failure isolation and fires the rollups at their period
// boundaries. Overlapping triggers are dropped entirely, never queued.
type Scheduler struct {
	refresher  Refresher
	rollups    RollupRunner
	categories []domain.Category
	rules      Rules
	logger     *slog.Logger

	running atomic.Bool
	now     func() time.Time

	// rollup watermarks; zero until the first boundary pass
	lastDaily   time.Time
	lastWeekly  time.Time
	lastMonthly time.Time
}

// New creates a Scheduler.
func New(refresher Refresher, rollups RollupRunner, categories []domain.Category, rules Rules, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		refresher:  refresher,
		rollups:    rollups,
		categories: categories,
		rules:      rules,
		logger:     logger,
		now:        time.Now,
	}
}

// CurrentInterval returns the interval the loop would use right now.
func (s *Scheduler) CurrentInterval() time.Duration {
	return s.rules.Interval(s.now())
}

// Run executes the self-rescheduling loop until ctx is cancelled. After each
// run the interval is recomputed, since the clock may have moved into or out
// of a peak window.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("interval", s.CurrentInterval()),
		slog.Int("categories", len(s.categories)),
	)

	// First refresh happens immediately on start.
	if err := s.TriggerNow(ctx); err != nil {
		s.logger.Warn("initial run skipped", slog.String("error", err.Error()))
	}

	for {
		interval := s.rules.Interval(s.now())
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.TriggerNow(ctx); err != nil {
			s.logger.Warn("scheduled run dropped", slog.String("error", err.Error()))
		}
	}
}

// TriggerNow runs one refresh pass. When a run is already in progress the
// trigger is dropped and ErrRunInProgress is returned.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return domain.ErrRunInProgress
	}
	defer s.running.Store(false)

	s.runRefresh(ctx)
	s.runRollups(ctx)
	return nil
}

// runRefresh fans out one forced refresh per category; one category's failure
// never aborts the others.
func (s *Scheduler) runRefresh(ctx context.Context) {
	began := s.now()
	var wg sync.WaitGroup
	var failed atomic.Int32

	for _, category := range s.categories {
		category := category
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.refresher.ForceRefresh(ctx, category); err != nil {
				failed.Add(1)
				s.logger.Error("category refresh failed",
					slog.String("category", string(category)),
					slog.String("error", err.Error()),
				)
				return
			}
			s.logger.Debug("category refreshed", slog.String("category", string(category)))
		}()
	}
	wg.Wait()

	s.logger.Info("refresh run complete",
		slog.Int("categories", len(s.categories)),
		slog.Int("failed", int(failed.Load())),
		slog.Duration("took", s.now().Sub(began)),
	)
}

// runRollups fires each rollup the first time a run happens past its period
// boundary. The rollups themselves are idempotent, so a crashed watermark
// only costs a no-op re-run.
func (s *Scheduler) runRollups(ctx context.Context) {
	if s.rollups == nil {
		return
	}
	now := s.now().UTC()

	yesterday := now.Truncate(24 * time.Hour).Add(-24 * time.Hour)
	if !yesterday.Equal(s.lastDaily) {
		if err := s.rollups.RollupDaily(ctx, yesterday); err != nil {
			s.logger.Error("daily rollup failed", slog.String("error", err.Error()))
		} else {
			s.lastDaily = yesterday
		}
	}

	weekStart := prevWeekStart(now)
	if !weekStart.Equal(s.lastWeekly) {
		if err := s.rollups.RollupWeekly(ctx, weekStart); err != nil {
			s.logger.Error("weekly rollup failed", slog.String("error", err.Error()))
		} else {
			s.lastWeekly = weekStart
		}
	}

	monthStart := prevMonthStart(now)
	if !monthStart.Equal(s.lastMonthly) {
		if err := s.rollups.RollupMonthly(ctx, monthStart); err != nil {
			s.logger.Error("monthly rollup failed", slog.String("error", err.Error()))
		} else {
			s.lastMonthly = monthStart
		}
	}
}

// prevWeekStart returns the UTC Monday beginning the most recent fully
// elapsed week.
func prevWeekStart(now time.Time) time.Time {
	day := now.Truncate(24 * time.Hour)
	offset := (int(day.Weekday()) + 6) % 7 // days since Monday
	thisWeek := day.AddDate(0, 0, -offset)
	return thisWeek.AddDate(0, 0, -7)
}

// prevMonthStart returns the UTC first day of the previous month.
func prevMonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
}
