// Package history persists workflow instances and their append-only
// history logs. The log is the only source of truth for replay: an event
// is visible to replay only after it has been durably appended, and
// appends are guarded by optimistic versioning so a write race surfaces
// as CONCURRENCY_CONFLICT instead of a silently lost event.
package history

import (
	"context"

	"github.com/copperline/txgate/model"
)

// Store persists workflow instances and history events.
type Store interface {
	// CreateInstance persists a new workflow instance. Returns CONFLICT
	// if the instance ID or the (tenant, correlation) pair already exists.
	CreateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// GetInstance retrieves a workflow instance by ID. Returns NOT_FOUND
	// if it does not exist.
	GetInstance(ctx context.Context, instanceID string) (model.WorkflowInstance, error)

	// GetByCorrelationID retrieves the instance created for a correlation
	// ID within a tenant. Returns NOT_FOUND if none exists.
	GetByCorrelationID(ctx context.Context, tenantID, correlationID string) (model.WorkflowInstance, error)

	// UpdateInstance persists the instance projection with optimistic
	// locking on Version. Returns CONFLICT if the version has changed.
	UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// Append adds one event to the instance's history log. The event is
	// assigned seq expectedSeq+1. Returns CONCURRENCY_CONFLICT if
	// expectedSeq is not the current last sequence number for the
	// instance (single-writer enforcement).
	Append(ctx context.Context, instanceID string, expectedSeq int, evt model.HistoryEvent) error

	// ReadAll returns the full ordered history for an instance. An empty
	// slice means the instance has not executed any activity yet.
	ReadAll(ctx context.Context, instanceID string) ([]model.HistoryEvent, error)

	// ListRunnable returns instances that have not reached a terminal
	// state, oldest first, limited to limit. Used to resume in-flight
	// workflows after a restart.
	ListRunnable(ctx context.Context, limit int) ([]model.WorkflowInstance, error)
}
