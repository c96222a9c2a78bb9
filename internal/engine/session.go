package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/guardrailstack/guardrail-monitor/internal/metrics"
	"github.com/guardrailstack/guardrail-monitor/internal/models"
	"github.com/guardrailstack/guardrail-monitor/internal/utils"
)

// HealthProbe checks the monitored service. Implementations return within a
// bounded timeout and never error for a reachable-but-unhealthy target; only
// transport failure is an error, which the session maps to healthy=false.
type HealthProbe interface {
	Check(ctx context.Context, environment string) (models.HealthSample, error)
}

// MetricsProbe fetches the current metric values for an environment. The
// mapping may be partial; missing metric names are treated as absent data.
type MetricsProbe interface {
	Fetch(ctx context.Context, environment string) (map[string]float64, error)
}

// SessionConfig bundles everything one monitoring session needs.
type SessionConfig struct {
	Environment string
	Scheduler   SchedulerConfig
	Rollback    RollbackConfig
	Gates       []models.GateSpec
}

// MonitorSession runs the quality-gate loop for a single environment. Each
// session owns its aggregators, counters, and rollback flag; sessions share
// nothing, so several environments can be monitored concurrently in one
// process.
type MonitorSession struct {
	logger *slog.Logger
	cfg    SessionConfig
	now    func() time.Time

	health       HealthProbe
	metricsProbe MetricsProbe
	notifier     Notifier

	evaluator   *QualityGateEvaluator
	scheduler   *PollScheduler
	coordinator *RollbackCoordinator
	latencies   *utils.LatencyTracker

	report models.SessionReport
}

// NewMonitorSession validates the gate pack and wires the session. A
// misconfigured gate fails here, before any polling begins.
func NewMonitorSession(
	logger *slog.Logger,
	cfg SessionConfig,
	health HealthProbe,
	metricsProbe MetricsProbe,
	notifier Notifier,
	locator BackupLocator,
	executor RollbackExecutor,
) (*MonitorSession, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Environment == "" {
		return nil, fmt.Errorf("environment is required")
	}
	if health == nil || metricsProbe == nil {
		return nil, fmt.Errorf("health and metrics probes are required")
	}

	evaluator, err := NewQualityGateEvaluator(cfg.Gates)
	if err != nil {
		return nil, fmt.Errorf("gate configuration: %w", err)
	}

	scheduler := NewPollScheduler(cfg.Scheduler)
	coordinator := NewRollbackCoordinator(
		logger,
		cfg.Environment,
		cfg.Rollback,
		locator,
		executor,
		notifier,
		health,
		scheduler.Stop,
	)

	return &MonitorSession{
		logger:       logger.With(slog.String("environment", cfg.Environment)),
		cfg:          cfg,
		now:          time.Now,
		health:       health,
		metricsProbe: metricsProbe,
		notifier:     notifier,
		evaluator:    evaluator,
		scheduler:    scheduler,
		coordinator:  coordinator,
		latencies:    utils.NewLatencyTracker(1024),
		report: models.SessionReport{
			SessionID:   uuid.NewString(),
			Environment: cfg.Environment,
			Gates:       evaluator.Gates(),
		},
	}, nil
}

// Stop requests early termination; the current cycle completes first.
func (s *MonitorSession) Stop() {
	s.scheduler.Stop()
}

// Run drives the polling loop until the monitoring window elapses, a rollback
// concludes, or the context is cancelled, then returns the final report. An
// operator cancellation is a normal way to end a session, not a failure.
func (s *MonitorSession) Run(ctx context.Context) (models.SessionReport, error) {
	s.report.StartedAt = s.now().UTC()
	s.logger.Info("monitoring session started",
		slog.String("session_id", s.report.SessionID),
		slog.Int("gates", len(s.report.Gates)),
		slog.Duration("window", s.cfg.Scheduler.Window),
	)

	err := s.scheduler.Run(ctx, s.cycle)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	s.report.EndedAt = s.now().UTC()
	s.report.Rollback = s.coordinator.Outcome()

	outcome := "none"
	if s.report.Rollback != nil {
		outcome = string(s.report.Rollback.Status)
	}
	s.logger.Info("monitoring session ended",
		slog.String("session_id", s.report.SessionID),
		slog.Int("cycles", s.report.CycleCount),
		slog.Int("violations", len(s.report.Violations)),
		slog.String("rollback", outcome),
		slog.Float64("minutes", utils.DurationMinutes(s.report.StartedAt, s.report.EndedAt)),
	)

	return s.report, err
}

// cycle performs one sequential evaluation pass: probe, record, evaluate, act.
func (s *MonitorSession) cycle(ctx context.Context) error {
	probeStart := s.now()

	var (
		healthSample models.HealthSample
		metricValues map[string]float64
	)

	// Health and metrics retrieval are the only blocking I/O in a cycle and
	// may run concurrently with each other; the cycle itself stays sequential.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sample, err := s.health.Check(gctx, s.cfg.Environment)
		if err != nil {
			// Transport failure counts as a failing observation, never a
			// fatal error.
			sample = models.HealthSample{Healthy: false, ObservedAt: s.now().UTC(), Detail: err.Error()}
			s.logger.Warn("health probe failed", slog.Any("error", err))
		}
		healthSample = sample
		return nil
	})
	g.Go(func() error {
		values, err := s.metricsProbe.Fetch(gctx, s.cfg.Environment)
		if err != nil {
			s.logger.Warn("metrics probe failed", slog.Any("error", err))
			return nil
		}
		metricValues = values
		return nil
	})
	_ = g.Wait()

	probeLatency := s.now().Sub(probeStart)
	s.latencies.Observe(probeLatency)
	metrics.ObserveCycle(s.cfg.Environment, probeLatency)

	streak := s.evaluator.ObserveHealth(healthSample)
	now := s.now().UTC()
	if len(metricValues) > 0 {
		s.evaluator.ObserveMetrics(metricValues, now)
	}

	violations := s.evaluator.Evaluate(now)
	for _, v := range violations {
		metrics.ObserveViolation(s.cfg.Environment, v.GateName)
		s.logger.Warn("gate violated",
			slog.String("gate", v.GateName),
			slog.String("action", string(v.Action)),
			slog.Float64("observed", v.ObservedValue),
			slog.Float64("threshold", v.Threshold),
		)
	}
	s.report.Violations = append(s.report.Violations, violations...)

	s.report.CycleCount++
	s.report.Cycles = append(s.report.Cycles, models.CycleSummary{
		Cycle:      s.report.CycleCount,
		At:         now,
		Healthy:    healthSample.Healthy,
		Streak:     streak,
		Violations: len(violations),
	})

	s.alertOnly(ctx, violations)

	if outcome := s.coordinator.ConsiderViolations(ctx, violations); outcome != nil {
		metrics.ObserveRollback(string(outcome.Status))
	}

	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("probe latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	return nil
}

// alertOnly dispatches best-effort warnings for alert-action violations.
func (s *MonitorSession) alertOnly(ctx context.Context, violations []models.GateViolation) {
	if s.notifier == nil {
		return
	}
	for _, v := range violations {
		if v.Action != models.GateActionAlert {
			continue
		}
		details := map[string]string{
			"environment": s.cfg.Environment,
			"gate":        v.GateName,
		}
		if err := s.notifier.Send(ctx, models.SeverityWarning, v.Message, details); err != nil {
			s.logger.Warn("alert notification failed", slog.String("gate", v.GateName), slog.Any("error", err))
		}
	}
}
