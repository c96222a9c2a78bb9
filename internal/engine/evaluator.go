package engine

import (
	"fmt"
	"time"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
)

// rollbackPercentile is the fixed quantile used by percentile-over-window gates.
const rollbackPercentile = 0.95

// QualityGateEvaluator owns an ordered set of gate specs and the temporal state
// backing them. Evaluation is read-only: it inspects aggregates and streaks and
// produces violations, nothing else.
type QualityGateEvaluator struct {
	gates      []models.GateSpec
	aggregates *SlidingWindowAggregator
	counters   map[string]*ConsecutiveFailureCounter
}

// NewQualityGateEvaluator validates the gate specs and builds the evaluator.
// Misconfigured gates are rejected here, before any polling begins, rather
// than silently disabled mid-run.
func NewQualityGateEvaluator(gates []models.GateSpec) (*QualityGateEvaluator, error) {
	if err := ValidateGates(gates); err != nil {
		return nil, err
	}

	counters := make(map[string]*ConsecutiveFailureCounter)
	for _, gate := range gates {
		if gate.Kind == models.GateKindConsecutiveFailure {
			counters[gate.Name] = NewConsecutiveFailureCounter()
		}
	}

	return &QualityGateEvaluator{
		gates:      append([]models.GateSpec(nil), gates...),
		aggregates: NewSlidingWindowAggregator(),
		counters:   counters,
	}, nil
}

// ValidateGates checks every gate spec for structural errors.
func ValidateGates(gates []models.GateSpec) error {
	if len(gates) == 0 {
		return fmt.Errorf("at least one gate is required")
	}

	seen := make(map[string]struct{}, len(gates))
	for _, gate := range gates {
		if gate.Name == "" {
			return fmt.Errorf("gate with empty name")
		}
		if _, dup := seen[gate.Name]; dup {
			return fmt.Errorf("gate %q: duplicate name", gate.Name)
		}
		seen[gate.Name] = struct{}{}

		switch gate.Action {
		case models.GateActionAlert, models.GateActionAutoRollback:
		default:
			return fmt.Errorf("gate %q: unknown action %q", gate.Name, gate.Action)
		}

		switch gate.Kind {
		case models.GateKindConsecutiveFailure:
			if gate.ConsecutiveLimit <= 0 {
				return fmt.Errorf("gate %q: consecutiveLimit must be positive", gate.Name)
			}
		case models.GateKindRateOverWindow, models.GateKindPercentileOverWindow:
			if gate.Window <= 0 {
				return fmt.Errorf("gate %q: window must be positive", gate.Name)
			}
			if gate.Metric == "" {
				return fmt.Errorf("gate %q: metric is required", gate.Name)
			}
		case models.GateKindAbsolute:
			if gate.Metric == "" {
				return fmt.Errorf("gate %q: metric is required", gate.Name)
			}
		default:
			return fmt.Errorf("gate %q: unknown kind %q", gate.Name, gate.Kind)
		}
	}
	return nil
}

// Gates returns the gate specs in declaration order.
func (e *QualityGateEvaluator) Gates() []models.GateSpec {
	return append([]models.GateSpec(nil), e.gates...)
}

// ObserveHealth feeds one health sample into every consecutive-failure counter
// and returns the resulting streak (counters sharing the health stream always
// agree, so any one streak represents the session).
func (e *QualityGateEvaluator) ObserveHealth(sample models.HealthSample) int {
	streak := 0
	for _, counter := range e.counters {
		streak = counter.Observe(sample.Healthy)
	}
	return streak
}

// ObserveMetrics records one cycle's metric values. Metric names absent from
// the mapping record nothing; the aggregator treats them as missing data.
func (e *QualityGateEvaluator) ObserveMetrics(values map[string]float64, at time.Time) {
	for name, value := range values {
		e.aggregates.Record(name, value, at)
	}
}

// Evaluate walks the enabled gates in declaration order and returns every
// violation observed at now. A gate with no data in its window never violates:
// absence of signal is not a breach.
func (e *QualityGateEvaluator) Evaluate(now time.Time) []models.GateViolation {
	var violations []models.GateViolation

	for _, gate := range e.gates {
		if !gate.Enabled {
			continue
		}

		switch gate.Kind {
		case models.GateKindConsecutiveFailure:
			streak := e.counters[gate.Name].Streak()
			if streak >= gate.ConsecutiveLimit {
				violations = append(violations, models.GateViolation{
					GateName:      gate.Name,
					Message:       fmt.Sprintf("%d consecutive health failures (limit %d)", streak, gate.ConsecutiveLimit),
					Action:        gate.Action,
					ObservedValue: float64(streak),
					Threshold:     float64(gate.ConsecutiveLimit),
					ObservedAt:    now,
				})
			}

		case models.GateKindRateOverWindow:
			mean, ok := e.aggregates.Mean(gate.Metric, gate.Window, now)
			if ok && mean > gate.Threshold {
				violations = append(violations, models.GateViolation{
					GateName:      gate.Name,
					Message:       fmt.Sprintf("%s mean %.2f over %s exceeds %.2f", gate.Metric, mean, gate.Window, gate.Threshold),
					Action:        gate.Action,
					ObservedValue: mean,
					Threshold:     gate.Threshold,
					ObservedAt:    now,
				})
			}

		case models.GateKindPercentileOverWindow:
			p95, ok := e.aggregates.Percentile(gate.Metric, rollbackPercentile, gate.Window, now)
			if ok && p95 > gate.Threshold {
				violations = append(violations, models.GateViolation{
					GateName:      gate.Name,
					Message:       fmt.Sprintf("%s p95 %.2f over %s exceeds %.2f", gate.Metric, p95, gate.Window, gate.Threshold),
					Action:        gate.Action,
					ObservedValue: p95,
					Threshold:     gate.Threshold,
					ObservedAt:    now,
				})
			}

		case models.GateKindAbsolute:
			latest, ok := e.aggregates.Latest(gate.Metric)
			if ok && latest.Value > gate.Threshold {
				violations = append(violations, models.GateViolation{
					GateName:      gate.Name,
					Message:       fmt.Sprintf("%s latest %.2f exceeds %.2f", gate.Metric, latest.Value, gate.Threshold),
					Action:        gate.Action,
					ObservedValue: latest.Value,
					Threshold:     gate.Threshold,
					ObservedAt:    now,
				})
			}
		}
	}

	return violations
}
