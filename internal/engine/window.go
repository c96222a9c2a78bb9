package engine

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
)

// SlidingWindowAggregator retains timestamped samples per metric and computes
// aggregates over a bounded time window. Samples older than the queried window
// are evicted before any computation, so a stale sample never contributes to a
// mean or percentile.
type SlidingWindowAggregator struct {
	mu      sync.RWMutex
	samples map[string][]models.MetricSample
}

// NewSlidingWindowAggregator creates an empty aggregator.
func NewSlidingWindowAggregator() *SlidingWindowAggregator {
	return &SlidingWindowAggregator{samples: make(map[string][]models.MetricSample)}
}

// Record stores a sample for the named metric.
func (a *SlidingWindowAggregator) Record(metric string, value float64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples[metric] = append(a.samples[metric], models.MetricSample{
		MetricName: metric,
		Value:      value,
		ObservedAt: at,
	})
}

// Mean returns the average of the metric's samples inside the window ending at
// now. The second return value is false when the window holds no samples; the
// caller must treat that as "no data", never as zero.
func (a *SlidingWindowAggregator) Mean(metric string, window time.Duration, now time.Time) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.evict(metric, now.Add(-window))
	if len(kept) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, s := range kept {
		sum += s.Value
	}
	return sum / float64(len(kept)), true
}

// Percentile returns the p-quantile (0 < p <= 1) of the metric's samples inside
// the window ending at now, using the deterministic rank ceil(p*n)-1 over the
// ascending sort. Repeated calls over an unchanged window return the same value.
func (a *SlidingWindowAggregator) Percentile(metric string, p float64, window time.Duration, now time.Time) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.evict(metric, now.Add(-window))
	if len(kept) == 0 {
		return 0, false
	}

	sorted := make([]float64, 0, len(kept))
	for _, s := range kept {
		sorted = append(sorted, s.Value)
	}
	sort.Float64s(sorted)

	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank], true
}

// Latest returns the most recently recorded sample for the metric, regardless
// of any window.
func (a *SlidingWindowAggregator) Latest(metric string) (models.MetricSample, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stored := a.samples[metric]
	if len(stored) == 0 {
		return models.MetricSample{}, false
	}
	return stored[len(stored)-1], true
}

// Count returns the number of retained samples for the metric inside the window.
func (a *SlidingWindowAggregator) Count(metric string, window time.Duration, now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.evict(metric, now.Add(-window)))
}

// evict drops samples observed before cutoff and returns the survivors.
// Samples arrive in observation order, so a single scan finds the boundary.
// Caller must hold mu.
func (a *SlidingWindowAggregator) evict(metric string, cutoff time.Time) []models.MetricSample {
	stored := a.samples[metric]
	idx := 0
	for idx < len(stored) && stored[idx].ObservedAt.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		stored = append([]models.MetricSample(nil), stored[idx:]...)
		a.samples[metric] = stored
	}
	return stored
}
