package orchestration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copperline/txgate/internal/activity"
	"github.com/copperline/txgate/internal/history"
	"github.com/copperline/txgate/model"
)

// Metrics receives executor outcomes. Implemented by the observability
// package.
type Metrics interface {
	WorkflowStarted()
	WorkflowCompleted(terminalState string)
	WorkflowAborted()
	ReplayedCalls(n int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) WorkflowStarted()         {}
func (NopMetrics) WorkflowCompleted(string) {}
func (NopMetrics) WorkflowAborted()         {}
func (NopMetrics) ReplayedCalls(int)        {}

// Executor drives workflow instances to a terminal state.
type Executor struct {
	store   history.Store
	invoker *activity.Invoker
	logger  *zap.Logger
	metrics Metrics
}

// NewExecutor creates an executor over store and invoker.
func NewExecutor(store history.Store, invoker *activity.Invoker, logger *zap.Logger, metrics Metrics) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Executor{store: store, invoker: invoker, logger: logger, metrics: metrics}
}

// StartInstance creates and persists a new workflow instance for event.
// The caller is responsible for correlation-ID uniqueness; a duplicate
// surfaces as CONFLICT from the store.
func (e *Executor) StartInstance(ctx context.Context, event model.TransactionEvent) (model.WorkflowInstance, error) {
	now := time.Now().UTC()
	inst := model.WorkflowInstance{
		ID:            uuid.New().String(),
		CorrelationID: event.CorrelationID,
		TenantID:      event.TenantID,
		State:         model.StateStarted,
		Event:         event,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}

	e.metrics.WorkflowStarted()
	return inst, nil
}

// Run executes the instance until it reaches a terminal state. It is safe
// to call on an already-completed instance (no-op) and after a crash:
// replaying the history log resumes execution at the first unresolved
// activity without repeating completed side effects. An error return
// means an infrastructure failure interrupted the run; the instance stays
// runnable and a later Run resumes it.
func (e *Executor) Run(ctx context.Context, instanceID string) (model.WorkflowInstance, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if model.IsTerminalState(inst.State) {
		return inst, nil
	}

	events, err := e.store.ReadAll(ctx, instanceID)
	if err != nil {
		return inst, err
	}

	rc := newRunContext(ctx, instanceID, e.store, e.invoker, events)

	logger := e.logger.With(
		zap.String("instance_id", inst.ID),
		zap.String("correlation_id", inst.CorrelationID),
		zap.String("tenant_id", inst.TenantID),
	)
	if len(events) > 0 {
		logger.Info("resuming workflow from history", zap.Int("events", len(events)))
	}

	setState := func(state string) error {
		if inst.State == state {
			return nil
		}
		inst.State = state
		if err := e.store.UpdateInstance(ctx, inst); err != nil {
			rc.infra = true
			return err
		}
		inst.Version++
		return nil
	}

	terminal, err := processTransaction(rc, inst.Event, setState)
	e.metrics.ReplayedCalls(rc.replays)
	if err != nil {
		e.metrics.WorkflowAborted()
		logger.Error("workflow run aborted", zap.Error(err))
		return inst, err
	}

	if err := setState(terminal); err != nil {
		e.metrics.WorkflowAborted()
		return inst, err
	}

	e.metrics.WorkflowCompleted(terminal)
	logger.Info("workflow completed", zap.String("terminal_state", terminal))
	return inst, nil
}
