package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardrail_monitor",
			Name:      "poll_cycles_total",
			Help:      "Total number of poll cycles executed, partitioned by environment.",
		},
		[]string{"environment"},
	)

	gateViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardrail_monitor",
			Name:      "gate_violations_total",
			Help:      "Total gate violations observed, partitioned by environment and gate.",
		},
		[]string{"environment", "gate"},
	)

	rollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardrail_monitor",
			Name:      "rollbacks_total",
			Help:      "Total rollback attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	probeDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "guardrail_monitor",
			Name:      "probe_seconds",
			Help:      "Combined health and metrics probe latency per cycle, in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)
)

// Register attaches guardrail-monitor collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pollCyclesTotal,
		gateViolationsTotal,
		rollbacksTotal,
		probeDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records one completed poll cycle and its probe latency.
func ObserveCycle(environment string, probeLatency time.Duration) {
	pollCyclesTotal.WithLabelValues(environment).Inc()
	if probeLatency < 0 {
		probeLatency = 0
	}
	probeDurationSeconds.Observe(probeLatency.Seconds())
}

// ObserveViolation counts one gate violation.
func ObserveViolation(environment, gate string) {
	gateViolationsTotal.WithLabelValues(environment, gate).Inc()
}

// ObserveRollback counts one rollback attempt by outcome label.
func ObserveRollback(outcome string) {
	rollbacksTotal.WithLabelValues(outcome).Inc()
}
