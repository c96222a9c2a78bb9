package models

import "time"

// BackupRef identifies a verified backup artifact eligible for rollback.
type BackupRef struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// RollbackStatus labels the outcome of a rollback attempt.
type RollbackStatus string

const (
	RollbackRestored          RollbackStatus = "restored"
	RollbackExecutorFailed    RollbackStatus = "executor-failed"
	RollbackRestoredUnhealthy RollbackStatus = "restored-but-unhealthy"
)

// RollbackOutcome summarises the single rollback a session may perform.
type RollbackOutcome struct {
	Status      RollbackStatus `json:"status"`
	GateName    string         `json:"gate_name"`
	Reason      string         `json:"reason"`
	Backup      *BackupRef     `json:"backup,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// CycleSummary is one entry in the session's append-only cycle log.
type CycleSummary struct {
	Cycle      int       `json:"cycle"`
	At         time.Time `json:"at"`
	Healthy    bool      `json:"healthy"`
	Streak     int       `json:"streak"`
	Violations int       `json:"violations"`
}

// SessionReport is the final structured record emitted when a monitoring
// session ends, whether by deadline, operator stop, or rollback.
type SessionReport struct {
	SessionID   string           `json:"session_id"`
	Environment string           `json:"environment"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     time.Time        `json:"ended_at"`
	Gates       []GateSpec       `json:"gates"`
	Violations  []GateViolation  `json:"violations"`
	Rollback    *RollbackOutcome `json:"rollback,omitempty"`
	CycleCount  int              `json:"cycle_count"`
	Cycles      []CycleSummary   `json:"cycles"`
}
