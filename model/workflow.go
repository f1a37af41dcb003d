package model

import (
	"encoding/json"
	"time"
)

// Workflow logical states. The workflow is a strict DAG: it only ever moves
// forward, and every run ends in one of the three terminal states.
const (
	StateStarted            = "started"
	StatePolicyFetched      = "policy_fetched"
	StateAssessed           = "assessed"
	StateAlerting           = "alerting"
	StateEnqueuing          = "enqueuing"
	StateNotifying          = "notifying"
	StateCompletedClean     = "completed_clean"
	StateCompletedViolation = "completed_violation"
	StateCompletedWithError = "completed_with_error"
)

// IsTerminalState reports whether no further transition can occur from s.
func IsTerminalState(s string) bool {
	switch s {
	case StateCompletedClean, StateCompletedViolation, StateCompletedWithError:
		return true
	}
	return false
}

// WorkflowInstance is one durable execution of the transaction workflow.
// The history events are the only source of truth for replay; State is a
// derived projection kept for observability and resume scheduling.
// Instances are retained after completion for audit.
type WorkflowInstance struct {
	ID            string           `json:"id"`
	CorrelationID string           `json:"correlation_id"`
	TenantID      string           `json:"tenant_id"`
	State         string           `json:"state"`
	Event         TransactionEvent `json:"event"`
	Version       int              `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// History event kinds.
const (
	EventScheduled = "scheduled"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// HistoryEvent is one append-only record in a workflow instance's history
// log. Events are totally ordered by Seq and never rewritten; replaying
// them in order deterministically reproduces the workflow state.
type HistoryEvent struct {
	InstanceID string          `json:"instance_id"`
	Seq        int             `json:"seq"`
	Kind       string          `json:"kind"`
	Activity   string          `json:"activity"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
