// Package scheduler triggers reconciliation runs on a daily schedule. It
// reads time only through an injected clock, so schedules are
// deterministic under test.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/clearbook/clearbook/internal/domain"
)

// Trigger starts a reconciliation run for (source, date). It is the only
// thing the scheduler knows about the recon engine.
type Trigger func(ctx context.Context, source string, date time.Time) error

// Config controls the daily schedule.
type Config struct {
	Hour     int           // Hour of day (local to the clock's zone) to fire
	Sources  []string      // Sources to reconcile each day
	Interval time.Duration // Poll interval (default: 1m)
}

// Scheduler fires each configured source once per day at the configured
// hour, reconciling the previous day's window. A (source, date) that
// already ran is skipped; already-running pairs are rejected downstream
// and treated as done.
type Scheduler struct {
	config  Config
	clock   domain.Clock
	trigger Trigger
	fired   map[string]bool // source+date pairs fired today
	lastDay time.Time
}

// New creates a scheduler calling trigger on schedule.
func New(cfg Config, clock domain.Clock, trigger Trigger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		config:  cfg,
		clock:   clock,
		trigger: trigger,
		fired:   make(map[string]bool),
	}
}

// Run polls until ctx is cancelled, firing due sources. Errors from
// individual triggers are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[scheduler] running, hour=%d sources=%v", s.config.Hour, s.config.Sources)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			log.Printf("[scheduler] stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick fires any due sources exactly once for the current day. Exported
// so tests can drive the schedule without real time.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()
	// Midnight in the clock's zone, so the daily reset agrees with
	// now.Hour() below for non-UTC clocks.
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !day.Equal(s.lastDay) {
		s.fired = make(map[string]bool)
		s.lastDay = day
	}
	if now.Hour() != s.config.Hour {
		return
	}

	// Reconcile yesterday's window: its feeds are complete by now.
	target := day.AddDate(0, 0, -1)
	for _, src := range s.config.Sources {
		key := src + "_" + target.Format("2006-01-02")
		if s.fired[key] {
			continue
		}
		err := s.trigger(ctx, src, target)
		switch {
		case err == nil:
			log.Printf("[scheduler] triggered %s for %s", src, target.Format("2006-01-02"))
		case errors.Is(err, domain.ErrJobAlreadyRunning):
			log.Printf("[scheduler] %s already running for %s", src, target.Format("2006-01-02"))
		default:
			log.Printf("[scheduler] trigger %s failed: %v", src, err)
			continue // Retry on the next tick
		}
		s.fired[key] = true
	}
}
