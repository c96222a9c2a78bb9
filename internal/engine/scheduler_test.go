package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPhaseTransitions(t *testing.T) {
	s := NewPollScheduler(SchedulerConfig{
		Window:         30 * time.Minute,
		BurnIn:         5 * time.Minute,
		FastInterval:   15 * time.Second,
		NormalInterval: time.Minute,
	})

	if got := s.Phase(0); got != PhaseBurnIn {
		t.Fatalf("expected burn-in at start, got %s", got)
	}
	if got := s.Phase(4 * time.Minute); got != PhaseBurnIn {
		t.Fatalf("expected burn-in before burnInDuration, got %s", got)
	}
	if got := s.Phase(5 * time.Minute); got != PhaseSteady {
		t.Fatalf("expected steady at burnInDuration, got %s", got)
	}
	if got := s.Phase(30 * time.Minute); got != PhaseStopped {
		t.Fatalf("expected stopped at deadline, got %s", got)
	}
}

func TestIntervalPerPhase(t *testing.T) {
	s := NewPollScheduler(SchedulerConfig{
		Window:         30 * time.Minute,
		BurnIn:         5 * time.Minute,
		FastInterval:   15 * time.Second,
		NormalInterval: time.Minute,
	})

	if got := s.Interval(time.Minute); got != 15*time.Second {
		t.Fatalf("expected fast interval during burn-in, got %s", got)
	}
	if got := s.Interval(10 * time.Minute); got != time.Minute {
		t.Fatalf("expected normal interval in steady phase, got %s", got)
	}
}

func TestRunStopsAtDeadline(t *testing.T) {
	s := NewPollScheduler(SchedulerConfig{
		Window:         30 * time.Millisecond,
		FastInterval:   5 * time.Millisecond,
		NormalInterval: 5 * time.Millisecond,
	})

	cycles := 0
	err := s.Run(context.Background(), func(context.Context) error {
		cycles++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cycles < 2 {
		t.Fatalf("expected multiple cycles before the deadline, got %d", cycles)
	}
}

func TestRunCyclesNeverOverlap(t *testing.T) {
	s := NewPollScheduler(SchedulerConfig{
		Window:         40 * time.Millisecond,
		FastInterval:   time.Millisecond,
		NormalInterval: time.Millisecond,
	})

	inCycle := false
	err := s.Run(context.Background(), func(context.Context) error {
		if inCycle {
			t.Fatal("cycle started before prior cycle completed")
		}
		inCycle = true
		time.Sleep(2 * time.Millisecond)
		inCycle = false
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStopEndsRunBetweenCycles(t *testing.T) {
	s := NewPollScheduler(SchedulerConfig{
		Window:         time.Hour,
		FastInterval:   time.Millisecond,
		NormalInterval: time.Millisecond,
	})

	cycles := 0
	err := s.Run(context.Background(), func(context.Context) error {
		cycles++
		if cycles == 3 {
			s.Stop()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cycles != 3 {
		t.Fatalf("expected exactly 3 cycles, got %d", cycles)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewPollScheduler(SchedulerConfig{Window: time.Hour, FastInterval: time.Second, NormalInterval: time.Second})
	s.Stop()
	s.Stop()

	cycles := 0
	if err := s.Run(context.Background(), func(context.Context) error {
		cycles++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cycles != 0 {
		t.Fatalf("stopped scheduler must not run cycles, got %d", cycles)
	}
}

func TestContextCancellationHonoredBetweenCycles(t *testing.T) {
	s := NewPollScheduler(SchedulerConfig{
		Window:         time.Hour,
		FastInterval:   time.Millisecond,
		NormalInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cycles := 0
	err := s.Run(ctx, func(context.Context) error {
		cycles++
		if cycles == 2 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cycles != 2 {
		t.Fatalf("expected cancellation after cycle 2, got %d cycles", cycles)
	}
}

func TestCycleErrorAbortsRun(t *testing.T) {
	s := NewPollScheduler(SchedulerConfig{
		Window:         time.Hour,
		FastInterval:   time.Millisecond,
		NormalInterval: time.Millisecond,
	})

	boom := errors.New("boom")
	err := s.Run(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}
