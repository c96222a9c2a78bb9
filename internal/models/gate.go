package models

import "time"

// GateKind enumerates the supported quality-gate evaluation strategies.
type GateKind string

const (
	GateKindConsecutiveFailure   GateKind = "consecutive-failure"
	GateKindRateOverWindow       GateKind = "rate-over-window"
	GateKindPercentileOverWindow GateKind = "percentile-over-window"
	GateKindAbsolute             GateKind = "absolute"
)

// GateAction declares what happens when a gate is breached.
type GateAction string

const (
	GateActionAlert        GateAction = "alert"
	GateActionAutoRollback GateAction = "auto-rollback"
)

// GateSpec is an immutable quality-gate definition, loaded once per session.
type GateSpec struct {
	Name             string        `yaml:"name" json:"name"`
	Kind             GateKind      `yaml:"kind" json:"kind"`
	Metric           string        `yaml:"metric" json:"metric,omitempty"`
	Threshold        float64       `yaml:"threshold" json:"threshold"`
	Window           time.Duration `yaml:"window" json:"window,omitempty"`
	ConsecutiveLimit int           `yaml:"consecutiveLimit" json:"consecutive_limit,omitempty"`
	Action           GateAction    `yaml:"action" json:"action"`
	Enabled          bool          `yaml:"enabled" json:"enabled"`
}

// GateViolation records a single gate breach observed during one poll cycle.
type GateViolation struct {
	GateName      string     `json:"gate_name"`
	Message       string     `json:"message"`
	Action        GateAction `json:"action"`
	ObservedValue float64    `json:"observed_value"`
	Threshold     float64    `json:"threshold"`
	ObservedAt    time.Time  `json:"observed_at"`
}
