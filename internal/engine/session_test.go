package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
)

type fakeMetricsProbe struct {
	values map[string]float64
	err    error
}

func (f *fakeMetricsProbe) Fetch(ctx context.Context, environment string) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func testSessionConfig(gates []models.GateSpec) SessionConfig {
	return SessionConfig{
		Environment: "staging",
		Scheduler: SchedulerConfig{
			Window:         2 * time.Second,
			BurnIn:         0,
			FastInterval:   time.Millisecond,
			NormalInterval: time.Millisecond,
		},
		Rollback: RollbackConfig{HealthRetryCount: 1, HealthRetryInterval: time.Millisecond},
		Gates:    gates,
	}
}

func TestSessionRejectsMisconfiguredGates(t *testing.T) {
	cfg := testSessionConfig([]models.GateSpec{{Name: "bad", Kind: "bogus", Action: models.GateActionAlert, Enabled: true}})
	_, err := NewMonitorSession(nil, cfg, &fakeHealthProbe{}, &fakeMetricsProbe{}, nil, &fakeLocator{}, &fakeExecutor{})
	if err == nil {
		t.Fatal("expected gate misconfiguration to fail session construction")
	}
}

func TestSessionTriggersRollbackOnConsecutiveFailures(t *testing.T) {
	probe := &fakeHealthProbe{samples: []models.HealthSample{{Healthy: false}}}
	locator := &fakeLocator{backup: &models.BackupRef{Name: "staging-1.tar.gz"}}
	executor := &fakeExecutor{}
	notifier := &fakeNotifier{}

	cfg := testSessionConfig([]models.GateSpec{healthGate("health", 2, models.GateActionAutoRollback)})
	session, err := NewMonitorSession(nil, cfg, probe, &fakeMetricsProbe{}, notifier, locator, executor)
	if err != nil {
		t.Fatal(err)
	}

	report, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Rollback == nil {
		t.Fatal("expected a rollback outcome in the report")
	}
	if executor.calls != 1 {
		t.Fatalf("expected one executor call, got %d", executor.calls)
	}
	if report.CycleCount < 2 {
		t.Fatalf("expected at least two cycles before the rollback, got %d", report.CycleCount)
	}
	if len(report.Violations) == 0 {
		t.Fatal("expected recorded violations")
	}
	if report.Rollback.GateName != "health" {
		t.Fatalf("expected triggering gate 'health', got %q", report.Rollback.GateName)
	}
	if len(notifier.sent) == 0 {
		t.Fatal("expected a critical notification")
	}
}

func TestSessionHealthyRunEndsAtDeadline(t *testing.T) {
	cfg := testSessionConfig([]models.GateSpec{healthGate("health", 2, models.GateActionAutoRollback)})
	cfg.Scheduler.Window = 30 * time.Millisecond

	executor := &fakeExecutor{}
	session, err := NewMonitorSession(nil, cfg, &fakeHealthProbe{}, &fakeMetricsProbe{}, nil, &fakeLocator{}, executor)
	if err != nil {
		t.Fatal(err)
	}

	report, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Rollback != nil {
		t.Fatalf("healthy run must not roll back: %+v", report.Rollback)
	}
	if executor.calls != 0 {
		t.Fatal("executor must not run")
	}
	if report.CycleCount == 0 {
		t.Fatal("expected at least one cycle")
	}
	if report.EndedAt.Before(report.StartedAt) {
		t.Fatal("report timestamps out of order")
	}
	if len(report.Cycles) != report.CycleCount {
		t.Fatalf("cycle log length %d != cycle count %d", len(report.Cycles), report.CycleCount)
	}
}

func TestSessionTreatsProbeErrorAsFailingSample(t *testing.T) {
	probe := &fakeHealthProbe{err: errors.New("connection refused")}
	locator := &fakeLocator{backup: &models.BackupRef{Name: "staging-1.tar.gz"}}
	executor := &fakeExecutor{}

	cfg := testSessionConfig([]models.GateSpec{healthGate("health", 2, models.GateActionAutoRollback)})
	session, err := NewMonitorSession(nil, cfg, probe, &fakeMetricsProbe{err: errors.New("timeout")}, nil, locator, executor)
	if err != nil {
		t.Fatal(err)
	}

	report, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Rollback == nil {
		t.Fatal("transport failures must accumulate toward the consecutive-failure gate")
	}
}

func TestSessionRateGateRollback(t *testing.T) {
	metricsProbe := &fakeMetricsProbe{values: map[string]float64{"error_rate": 12.0}}
	locator := &fakeLocator{backup: &models.BackupRef{Name: "staging-1.tar.gz"}}
	executor := &fakeExecutor{}

	cfg := testSessionConfig([]models.GateSpec{rateGate("error-rate", "error_rate", 5.0, 10*time.Minute)})
	session, err := NewMonitorSession(nil, cfg, &fakeHealthProbe{}, metricsProbe, nil, locator, executor)
	if err != nil {
		t.Fatal(err)
	}

	report, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Rollback == nil {
		t.Fatal("expected rate gate to trigger a rollback")
	}
	if report.Rollback.GateName != "error-rate" {
		t.Fatalf("expected gate 'error-rate', got %q", report.Rollback.GateName)
	}
}

func TestSessionStopEndsRunEarly(t *testing.T) {
	cfg := testSessionConfig([]models.GateSpec{healthGate("health", 3, models.GateActionAutoRollback)})
	cfg.Scheduler.Window = time.Hour
	cfg.Scheduler.FastInterval = 5 * time.Millisecond
	cfg.Scheduler.NormalInterval = 5 * time.Millisecond

	session, err := NewMonitorSession(nil, cfg, &fakeHealthProbe{}, &fakeMetricsProbe{}, nil, &fakeLocator{}, &fakeExecutor{})
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		session.Stop()
	}()

	done := make(chan models.SessionReport, 1)
	go func() {
		report, _ := session.Run(context.Background())
		done <- report
	}()

	select {
	case report := <-done:
		if report.Rollback != nil {
			t.Fatalf("operator stop must not roll back: %+v", report.Rollback)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not honor stop request")
	}
}

func TestSessionAlertViolationNotifiesWithoutRollback(t *testing.T) {
	metricsProbe := &fakeMetricsProbe{values: map[string]float64{"queue_depth": 500}}
	notifier := &fakeNotifier{}
	executor := &fakeExecutor{}

	gate := models.GateSpec{
		Name:      "queue-depth",
		Kind:      models.GateKindAbsolute,
		Metric:    "queue_depth",
		Threshold: 100,
		Action:    models.GateActionAlert,
		Enabled:   true,
	}
	cfg := testSessionConfig([]models.GateSpec{gate})
	cfg.Scheduler.Window = 20 * time.Millisecond

	session, err := NewMonitorSession(nil, cfg, &fakeHealthProbe{}, metricsProbe, notifier, &fakeLocator{}, executor)
	if err != nil {
		t.Fatal(err)
	}

	report, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Rollback != nil {
		t.Fatal("alert-action gate must not roll back")
	}
	if executor.calls != 0 {
		t.Fatal("executor must not run")
	}
	if len(notifier.sent) == 0 {
		t.Fatal("expected warning notifications for alert violations")
	}
}
