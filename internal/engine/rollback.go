package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
)

// Notifier delivers operator notifications. Delivery is best-effort from the
// engine's perspective; errors are logged, never propagated into the
// monitoring or rollback flow.
type Notifier interface {
	Send(ctx context.Context, severity models.Severity, message string, details map[string]string) error
}

// BackupLocator resolves the most recent verified backup for an environment.
// A nil ref with nil error is a valid response meaning no backup exists.
type BackupLocator interface {
	LatestVerified(ctx context.Context, environment string) (*models.BackupRef, error)
}

// RollbackExecutor performs the actual restore. It must be safe to call at
// most once per incident; the coordinator never calls it twice.
type RollbackExecutor interface {
	Execute(ctx context.Context, backup models.BackupRef, environment string) error
}

// RollbackConfig tunes the post-rollback health confirmation loop.
type RollbackConfig struct {
	HealthRetryCount    int
	HealthRetryInterval time.Duration
}

// RollbackCoordinator reacts to the first auto-rollback violation of a session
// and guarantees at most one rollback, regardless of how often it is consulted.
type RollbackCoordinator struct {
	logger      *slog.Logger
	environment string
	cfg         RollbackConfig

	locator  BackupLocator
	executor RollbackExecutor
	notifier Notifier
	health   HealthProbe

	// stop signals the scheduler once a rollback attempt has concluded.
	stop func()

	triggered atomic.Bool
	outcome   *models.RollbackOutcome
}

// NewRollbackCoordinator wires a coordinator for one environment. stop is
// invoked exactly once, after the rollback attempt concludes.
func NewRollbackCoordinator(
	logger *slog.Logger,
	environment string,
	cfg RollbackConfig,
	locator BackupLocator,
	executor RollbackExecutor,
	notifier Notifier,
	health HealthProbe,
	stop func(),
) *RollbackCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthRetryCount <= 0 {
		cfg.HealthRetryCount = 5
	}
	if cfg.HealthRetryInterval <= 0 {
		cfg.HealthRetryInterval = 10 * time.Second
	}
	return &RollbackCoordinator{
		logger:      logger,
		environment: environment,
		cfg:         cfg,
		locator:     locator,
		executor:    executor,
		notifier:    notifier,
		health:      health,
		stop:        stop,
	}
}

// Triggered reports whether this session has already attempted a rollback.
func (c *RollbackCoordinator) Triggered() bool {
	return c.triggered.Load()
}

// Outcome returns the recorded rollback outcome, or nil if none was attempted.
func (c *RollbackCoordinator) Outcome() *models.RollbackOutcome {
	if !c.triggered.Load() {
		return nil
	}
	return c.outcome
}

// ConsiderViolations inspects one cycle's violations and, for the first one in
// declaration order whose action is auto-rollback, performs the session's
// single rollback. Returns the outcome, or nil when nothing was acted on.
func (c *RollbackCoordinator) ConsiderViolations(ctx context.Context, violations []models.GateViolation) *models.RollbackOutcome {
	if c.triggered.Load() {
		return nil
	}

	var trigger *models.GateViolation
	for i := range violations {
		if violations[i].Action == models.GateActionAutoRollback {
			trigger = &violations[i]
			break
		}
	}
	if trigger == nil {
		return nil
	}

	// Flip the flag before anything externally visible happens so a
	// re-entrant call cannot double-trigger.
	if !c.triggered.CompareAndSwap(false, true) {
		return nil
	}

	outcome := c.execute(ctx, *trigger)
	c.outcome = outcome
	c.notify(ctx, outcome)
	if c.stop != nil {
		c.stop()
	}
	return outcome
}

func (c *RollbackCoordinator) execute(ctx context.Context, trigger models.GateViolation) *models.RollbackOutcome {
	outcome := &models.RollbackOutcome{
		GateName:  trigger.GateName,
		Reason:    trigger.Message,
		StartedAt: time.Now().UTC(),
	}

	c.logger.Warn("gate violation triggers rollback",
		slog.String("environment", c.environment),
		slog.String("gate", trigger.GateName),
		slog.String("reason", trigger.Message),
	)

	backup, err := c.locator.LatestVerified(ctx, c.environment)
	if err != nil {
		outcome.Status = models.RollbackExecutorFailed
		outcome.Detail = fmt.Sprintf("backup lookup failed: %v", err)
		outcome.CompletedAt = time.Now().UTC()
		return outcome
	}
	if backup == nil {
		outcome.Status = models.RollbackExecutorFailed
		outcome.Detail = "no backup available"
		outcome.CompletedAt = time.Now().UTC()
		return outcome
	}
	outcome.Backup = backup

	c.logger.Info("executing rollback",
		slog.String("environment", c.environment),
		slog.String("backup", backup.Name),
	)

	if err := c.executor.Execute(ctx, *backup, c.environment); err != nil {
		outcome.Status = models.RollbackExecutorFailed
		outcome.Detail = fmt.Sprintf("executor: %v", err)
		outcome.CompletedAt = time.Now().UTC()
		return outcome
	}

	if c.confirmHealth(ctx) {
		outcome.Status = models.RollbackRestored
	} else {
		outcome.Status = models.RollbackRestoredUnhealthy
		outcome.Detail = fmt.Sprintf("service unhealthy after %d probes", c.cfg.HealthRetryCount)
	}
	outcome.CompletedAt = time.Now().UTC()
	return outcome
}

// confirmHealth re-probes the service a bounded number of times after the
// executor returns. A failed rollback is reported, never retried.
func (c *RollbackCoordinator) confirmHealth(ctx context.Context) bool {
	for attempt := 0; attempt < c.cfg.HealthRetryCount; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.cfg.HealthRetryInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		}
		sample, err := c.health.Check(ctx, c.environment)
		if err == nil && sample.Healthy {
			return true
		}
	}
	return false
}

func (c *RollbackCoordinator) notify(ctx context.Context, outcome *models.RollbackOutcome) {
	if c.notifier == nil {
		return
	}

	details := map[string]string{
		"environment": c.environment,
		"gate":        outcome.GateName,
		"outcome":     string(outcome.Status),
	}
	if outcome.Backup != nil {
		details["backup"] = outcome.Backup.Name
	}
	if outcome.Detail != "" {
		details["detail"] = outcome.Detail
	}

	message := fmt.Sprintf("rollback %s on %s: %s", outcome.Status, c.environment, outcome.Reason)
	if err := c.notifier.Send(ctx, models.SeverityCritical, message, details); err != nil {
		c.logger.Error("rollback notification failed", slog.Any("error", err))
	}
}
