package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/arzfeed/arzfeed/internal/domain"
	"github.com/arzfeed/arzfeed/internal/feed"
	"github.com/arzfeed/arzfeed/internal/scheduler"
)

// ServeMode is the long-running mode: the time-of-day-aware refresh
// scheduler plus, when configured, the vendor websocket tick feed.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := scheduler.New(
		deps.Manager,
		deps.Engine,
		a.categories(),
		a.schedulerRules(deps.Location),
		a.logger,
	)
	g.Go(func() error {
		err := sched.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	if a.cfg.Feed.Enabled {
		maxReconnect := time.Duration(a.cfg.Feed.MaxReconnectSecs) * time.Second
		onTick := func(ctx context.Context, itemCode string, price decimal.Decimal, ts time.Time) {
			if err := deps.Engine.RecordPoint(ctx, itemCode, price, ts); err != nil {
				a.logger.WarnContext(ctx, "tick ingest failed",
					slog.String("item", itemCode),
					slog.String("error", err.Error()),
				)
			}
		}
		tickFeed := feed.NewTickerFeed(a.cfg.Feed.URL, onTick, maxReconnect, a.logger)
		g.Go(func() error {
			defer tickFeed.Close()
			err := tickFeed.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// RefreshMode performs a one-shot refresh of every configured category and
// exits. A failed category is reported but does not stop the others.
func (a *App) RefreshMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting refresh mode")

	var failed int
	for _, category := range a.categories() {
		if err := deps.Manager.ForceRefresh(ctx, category); err != nil {
			failed++
			a.logger.ErrorContext(ctx, "refresh failed",
				slog.String("category", string(category)),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "refreshed category",
			slog.String("category", string(category)),
		)
	}
	if failed > 0 {
		return fmt.Errorf("refresh mode: %d categories failed", failed)
	}
	return nil
}

// RollupMode runs the daily rollup for yesterday plus the weekly and monthly
// rollups for the most recently completed periods, then exits. Rollups are
// idempotent, so re-running the mode is always safe.
func (a *App) RollupMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting rollup mode")

	now := time.Now().In(deps.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, deps.Location)
	yesterday := today.AddDate(0, 0, -1)

	if err := deps.Engine.RollupDaily(ctx, yesterday); err != nil {
		return fmt.Errorf("rollup mode: daily: %w", err)
	}
	if err := deps.Engine.RollupWeekly(ctx, lastWeekStart(today)); err != nil {
		return fmt.Errorf("rollup mode: weekly: %w", err)
	}
	if err := deps.Engine.RollupMonthly(ctx, lastMonthStart(today)); err != nil {
		return fmt.Errorf("rollup mode: monthly: %w", err)
	}

	a.logger.InfoContext(ctx, "rollups complete",
		slog.Time("daily", yesterday),
		slog.Time("weekly", lastWeekStart(today)),
		slog.Time("monthly", lastMonthStart(today)),
	)
	return nil
}

// ArchiveMode moves aged update logs and minute-level records to cold
// storage and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 storage is not configured")
	}

	now := time.Now().UTC()
	logCutoff := now.AddDate(0, 0, -a.cfg.OHLC.UpdateLogRetentionDays)
	minuteCutoff := now.AddDate(0, 0, -a.cfg.OHLC.MinuteRetentionDays)

	logCount, err := deps.Archiver.ArchiveUpdateLogs(ctx, logCutoff)
	if err != nil {
		return fmt.Errorf("archive mode: update logs: %w", err)
	}
	minuteCount, err := deps.Archiver.ArchiveMinutes(ctx, minuteCutoff)
	if err != nil {
		return fmt.Errorf("archive mode: minute records: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("update_logs", logCount),
		slog.Int64("minute_records", minuteCount),
	)
	return nil
}

func (a *App) categories() []domain.Category {
	cats := make([]domain.Category, 0, len(a.cfg.Cache.Categories))
	for _, c := range a.cfg.Cache.Categories {
		cats = append(cats, domain.Category(c))
	}
	return cats
}

func (a *App) schedulerRules(loc *time.Location) scheduler.Rules {
	return scheduler.Rules{
		Location:        loc,
		WeekendDays:     weekdaySet(a.cfg.Scheduler.WeekendDays),
		PeakDays:        weekdaySet(a.cfg.Scheduler.PeakDays),
		PeakStartHour:   a.cfg.Scheduler.PeakStartHour,
		PeakEndHour:     a.cfg.Scheduler.PeakEndHour,
		WeekendInterval: time.Duration(a.cfg.Scheduler.WeekendIntervalMin) * time.Minute,
		PeakInterval:    time.Duration(a.cfg.Scheduler.PeakIntervalMin) * time.Minute,
		NormalInterval:  time.Duration(a.cfg.Scheduler.NormalIntervalMin) * time.Minute,
	}
}

func weekdaySet(days []int) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[time.Weekday(d)] = true
	}
	return set
}

// lastWeekStart returns the Monday of the most recently completed ISO week.
func lastWeekStart(today time.Time) time.Time {
	offset := (int(today.Weekday()) + 6) % 7 // days since Monday
	thisWeek := today.AddDate(0, 0, -offset)
	return thisWeek.AddDate(0, 0, -7)
}

// lastMonthStart returns the first day of the previous month.
func lastMonthStart(today time.Time) time.Time {
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
	return first.AddDate(0, -1, 0)
}
