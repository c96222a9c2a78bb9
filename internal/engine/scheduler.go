package engine

import (
	"context"
	"sync"
	"time"
)

// SchedulerPhase identifies the scheduler's position in its lifecycle.
type SchedulerPhase string

const (
	PhaseBurnIn  SchedulerPhase = "burn-in"
	PhaseSteady  SchedulerPhase = "steady"
	PhaseStopped SchedulerPhase = "stopped"
)

// SchedulerConfig bounds a monitoring run.
type SchedulerConfig struct {
	// Window is the total monitoring duration; the deadline is start + Window.
	Window time.Duration
	// BurnIn is the initial phase during which cycles run at FastInterval.
	BurnIn         time.Duration
	FastInterval   time.Duration
	NormalInterval time.Duration
}

// PollScheduler drives the cycle cadence for one session. Cycles never overlap:
// the scheduler awaits each cycle's completion, including any rollback the
// cycle triggers, before sleeping for the next interval. Cancellation and stop
// requests are honored between cycles, never mid-cycle.
type PollScheduler struct {
	cfg SchedulerConfig
	now func() time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewPollScheduler builds a scheduler from the supplied cadence config.
func NewPollScheduler(cfg SchedulerConfig) *PollScheduler {
	return &PollScheduler{
		cfg:     cfg,
		now:     time.Now,
		stopped: make(chan struct{}),
	}
}

// Stop requests termination. The current cycle, if any, completes first.
// Safe to call from any goroutine and more than once.
func (s *PollScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Phase reports the phase for a given elapsed duration since start.
func (s *PollScheduler) Phase(elapsed time.Duration) SchedulerPhase {
	if elapsed >= s.cfg.Window {
		return PhaseStopped
	}
	if elapsed < s.cfg.BurnIn {
		return PhaseBurnIn
	}
	return PhaseSteady
}

// Interval returns the cycle interval in effect for a given elapsed duration.
func (s *PollScheduler) Interval(elapsed time.Duration) time.Duration {
	if elapsed < s.cfg.BurnIn {
		return s.cfg.FastInterval
	}
	return s.cfg.NormalInterval
}

// Run invokes cycle sequentially until the monitoring window elapses, Stop is
// called, or ctx is cancelled. A cycle error aborts the run and is returned.
func (s *PollScheduler) Run(ctx context.Context, cycle func(context.Context) error) error {
	start := s.now()
	deadline := start.Add(s.cfg.Window)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return nil
		default:
		}

		if err := cycle(ctx); err != nil {
			return err
		}

		now := s.now()
		if !now.Before(deadline) {
			return nil
		}

		interval := s.Interval(now.Sub(start))
		if remaining := deadline.Sub(now); interval > remaining {
			interval = remaining
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.stopped:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
