package models

import "time"

// MetricSample is a single observed metric value.
type MetricSample struct {
	MetricName string
	Value      float64
	ObservedAt time.Time
}

// Severity captures notification levels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// HealthSample captures the result of one health probe.
type HealthSample struct {
	Healthy    bool
	ObservedAt time.Time
	Detail     string
}
