package engine

import (
	"testing"
	"time"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
)

func healthGate(name string, limit int, action models.GateAction) models.GateSpec {
	return models.GateSpec{
		Name:             name,
		Kind:             models.GateKindConsecutiveFailure,
		ConsecutiveLimit: limit,
		Action:           action,
		Enabled:          true,
	}
}

func rateGate(name, metric string, threshold float64, window time.Duration) models.GateSpec {
	return models.GateSpec{
		Name:      name,
		Kind:      models.GateKindRateOverWindow,
		Metric:    metric,
		Threshold: threshold,
		Window:    window,
		Action:    models.GateActionAutoRollback,
		Enabled:   true,
	}
}

func TestValidateGatesRejectsMisconfiguration(t *testing.T) {
	cases := []struct {
		name  string
		gates []models.GateSpec
	}{
		{"empty pack", nil},
		{"unknown kind", []models.GateSpec{{Name: "g", Kind: "bogus", Action: models.GateActionAlert, Enabled: true}}},
		{"unknown action", []models.GateSpec{{Name: "g", Kind: models.GateKindAbsolute, Metric: "m", Action: "page-everyone", Enabled: true}}},
		{"zero window", []models.GateSpec{rateGate("g", "error_rate", 5, 0)}},
		{"zero limit", []models.GateSpec{healthGate("g", 0, models.GateActionAlert)}},
		{"missing metric", []models.GateSpec{{Name: "g", Kind: models.GateKindAbsolute, Action: models.GateActionAlert, Enabled: true}}},
		{"duplicate name", []models.GateSpec{healthGate("g", 2, models.GateActionAlert), healthGate("g", 3, models.GateActionAlert)}},
	}

	for _, tc := range cases {
		if err := ValidateGates(tc.gates); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestConsecutiveFailureGateScenario(t *testing.T) {
	// Limit 2: health sequence [true, false, false] violates exactly after
	// the third sample.
	eval, err := NewQualityGateEvaluator([]models.GateSpec{healthGate("health", 2, models.GateActionAutoRollback)})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	sequence := []bool{true, false, false}
	var violations []models.GateViolation
	for i, healthy := range sequence {
		eval.ObserveHealth(models.HealthSample{Healthy: healthy, ObservedAt: now})
		violations = eval.Evaluate(now)
		if i < 2 && len(violations) != 0 {
			t.Fatalf("sample %d: unexpected violation", i+1)
		}
	}
	if len(violations) != 1 {
		t.Fatalf("expected exactly one violation after third sample, got %d", len(violations))
	}
	if violations[0].ObservedValue != 2 {
		t.Fatalf("expected observed streak 2, got %v", violations[0].ObservedValue)
	}
}

func TestRateOverWindowGateScenario(t *testing.T) {
	// threshold 5.0 over 10m: samples [2.0, 3.0, 9.0] -> mean 4.67, no
	// violation; a fourth sample 12.0 -> mean 6.5, violation.
	eval, err := NewQualityGateEvaluator([]models.GateSpec{rateGate("error-rate", "error_rate", 5.0, 10*time.Minute)})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i, v := range []float64{2.0, 3.0, 9.0} {
		eval.ObserveMetrics(map[string]float64{"error_rate": v}, start.Add(time.Duration(i)*time.Minute))
	}

	at := start.Add(3 * time.Minute)
	if violations := eval.Evaluate(at); len(violations) != 0 {
		t.Fatalf("mean 4.67 must not violate threshold 5.0: %+v", violations)
	}

	eval.ObserveMetrics(map[string]float64{"error_rate": 12.0}, at)
	violations := eval.Evaluate(at)
	if len(violations) != 1 {
		t.Fatalf("mean 6.5 must violate threshold 5.0, got %d violations", len(violations))
	}
	if violations[0].ObservedValue != 6.5 {
		t.Fatalf("expected observed mean 6.5, got %v", violations[0].ObservedValue)
	}
}

func TestRateGateFailsOpenWithoutData(t *testing.T) {
	eval, err := NewQualityGateEvaluator([]models.GateSpec{rateGate("error-rate", "error_rate", 5.0, 10*time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if violations := eval.Evaluate(time.Now()); len(violations) != 0 {
		t.Fatalf("gate with zero samples must not violate: %+v", violations)
	}
}

func TestPercentileGate(t *testing.T) {
	gate := models.GateSpec{
		Name:      "latency-p95",
		Kind:      models.GateKindPercentileOverWindow,
		Metric:    "latency_ms",
		Threshold: 500,
		Window:    10 * time.Minute,
		Action:    models.GateActionAlert,
		Enabled:   true,
	}
	eval, err := NewQualityGateEvaluator([]models.GateSpec{gate})
	if err != nil {
		t.Fatal(err)
	}

	// Rank ceil(0.95*20)-1 = 18, so the two slowest of twenty samples set p95.
	now := time.Now()
	for i := 0; i < 20; i++ {
		value := 100.0
		if i >= 18 {
			value = 900.0
		}
		eval.ObserveMetrics(map[string]float64{"latency_ms": value}, now.Add(time.Duration(i-20)*time.Second))
	}

	violations := eval.Evaluate(now)
	if len(violations) != 1 {
		t.Fatalf("expected p95 violation, got %d", len(violations))
	}
	if violations[0].ObservedValue != 900 {
		t.Fatalf("expected observed p95 900, got %v", violations[0].ObservedValue)
	}
}

func TestAbsoluteGateUsesLatestSample(t *testing.T) {
	gate := models.GateSpec{
		Name:      "queue-depth",
		Kind:      models.GateKindAbsolute,
		Metric:    "queue_depth",
		Threshold: 100,
		Action:    models.GateActionAlert,
		Enabled:   true,
	}
	eval, err := NewQualityGateEvaluator([]models.GateSpec{gate})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	eval.ObserveMetrics(map[string]float64{"queue_depth": 250}, now.Add(-time.Minute))
	eval.ObserveMetrics(map[string]float64{"queue_depth": 50}, now)

	if violations := eval.Evaluate(now); len(violations) != 0 {
		t.Fatalf("latest sample 50 must not violate: %+v", violations)
	}

	eval.ObserveMetrics(map[string]float64{"queue_depth": 180}, now)
	if violations := eval.Evaluate(now); len(violations) != 1 {
		t.Fatal("latest sample 180 must violate threshold 100")
	}
}

func TestDisabledGateNeverViolates(t *testing.T) {
	gate := healthGate("health", 1, models.GateActionAutoRollback)
	gate.Enabled = false
	other := healthGate("health-enabled", 1, models.GateActionAlert)

	eval, err := NewQualityGateEvaluator([]models.GateSpec{gate, other})
	if err != nil {
		t.Fatal(err)
	}

	eval.ObserveHealth(models.HealthSample{Healthy: false})
	violations := eval.Evaluate(time.Now())
	if len(violations) != 1 || violations[0].GateName != "health-enabled" {
		t.Fatalf("only the enabled gate may violate: %+v", violations)
	}
}

func TestEvaluateDeclarationOrder(t *testing.T) {
	gates := []models.GateSpec{
		healthGate("gate-a", 1, models.GateActionAutoRollback),
		healthGate("gate-b", 1, models.GateActionAutoRollback),
	}
	eval, err := NewQualityGateEvaluator(gates)
	if err != nil {
		t.Fatal(err)
	}

	eval.ObserveHealth(models.HealthSample{Healthy: false})
	violations := eval.Evaluate(time.Now())
	if len(violations) != 2 {
		t.Fatalf("expected both gates violated, got %d", len(violations))
	}
	if violations[0].GateName != "gate-a" || violations[1].GateName != "gate-b" {
		t.Fatalf("violations out of declaration order: %+v", violations)
	}
}
