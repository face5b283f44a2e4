// Package scheduler rebuilds the post collection on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Reloader rebuilds cached state.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Scheduler periodically calls Reload.
type Scheduler struct {
	s       gocron.Scheduler
	timeout time.Duration
}

// New creates a scheduler running r.Reload on cron. A six-field expression
// is read with a leading seconds field. onReload, when set, runs after each
// successful reload. The scheduler is not started.
func New(cron string, timeout time.Duration, r Reloader, logger *slog.Logger, onReload func()) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create new scheduler: %w", err)
	}
	sch := &Scheduler{s: s, timeout: timeout}

	withSeconds := len(strings.Fields(cron)) == 6
	_, err = s.NewJob(
		gocron.CronJob(cron, withSeconds),
		gocron.NewTask(func() {
			ctx := context.Background()
			if sch.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, sch.timeout)
				defer cancel()
			}
			if err := r.Reload(ctx); err != nil {
				logger.Error("scheduled reload failed", slog.String("error", err.Error()))
				return
			}
			if onReload != nil {
				onReload()
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to schedule reload %q: %w", cron, err)
	}
	return sch, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.s.Start() }

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error { return s.s.Shutdown() }
