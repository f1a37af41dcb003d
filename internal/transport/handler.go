// Package transport is the HTTP trigger surface: it accepts transaction
// payloads, creates workflow instances, and exposes instance state. The
// trigger returns an instance identifier immediately; the eventual
// outcome is observable only via the instance's terminal state.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copperline/txgate/internal/history"
	"github.com/copperline/txgate/internal/orchestration"
	"github.com/copperline/txgate/model"
)

// Handler serves the trigger and instance inspection endpoints.
type Handler struct {
	executor *orchestration.Executor
	runner   *orchestration.Runner
	store    history.Store
	logger   *zap.Logger
}

// NewHandler creates the HTTP handler over the orchestration layer.
func NewHandler(executor *orchestration.Executor, runner *orchestration.Runner, store history.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{executor: executor, runner: runner, store: store, logger: logger}
}

// triggerResponse is the immediate answer to a trigger request.
type triggerResponse struct {
	InstanceID string `json:"instance_id"`
	State      string `json:"state"`
}

// instanceResponse is the full instance view including its history.
type instanceResponse struct {
	model.WorkflowInstance
	History []model.HistoryEvent `json:"history"`
}

// HandleTrigger accepts a transaction event and starts a workflow
// instance for it. A repeated correlation ID within the tenant returns
// the existing instance instead of creating a duplicate.
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var event model.TransactionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, model.NewBadRequestError("request body is not a valid transaction event"))
		return
	}
	if event.TenantID == "" {
		event.TenantID = tenantID
	}
	if event.TenantID != tenantID {
		writeError(w, model.NewBadRequestError("tenantId in path and body disagree"))
		return
	}
	if err := event.Validate(); err != nil {
		writeError(w, err)
		return
	}

	// Duplicate triggers for the same correlation ID are merged into the
	// existing instance before any workflow state is created.
	if existing, err := h.store.GetByCorrelationID(r.Context(), event.TenantID, event.CorrelationID); err == nil {
		writeJSON(w, http.StatusOK, triggerResponse{InstanceID: existing.ID, State: existing.State})
		return
	}

	inst, err := h.executor.StartInstance(r.Context(), event)
	if err != nil {
		// A concurrent duplicate trigger lost the race to create.
		var envelope *model.ErrorEnvelope
		if errors.As(err, &envelope) && envelope.Code == model.ErrConflict {
			if existing, lookupErr := h.store.GetByCorrelationID(r.Context(), event.TenantID, event.CorrelationID); lookupErr == nil {
				writeJSON(w, http.StatusOK, triggerResponse{InstanceID: existing.ID, State: existing.State})
				return
			}
		}
		writeError(w, err)
		return
	}

	if err := h.runner.Enqueue(inst.ID); err != nil {
		// The instance is persisted and runnable; it will be resumed even
		// though immediate execution was refused.
		h.logger.Warn("run queue full, instance deferred",
			zap.String("instance_id", inst.ID),
		)
	}

	writeJSON(w, http.StatusAccepted, triggerResponse{InstanceID: inst.ID, State: inst.State})
}

// HandleGetInstance returns the instance projection and its history log.
func (h *Handler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")

	inst, err := h.store.GetInstance(r.Context(), instanceID)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := h.store.ReadAll(r.Context(), instanceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, instanceResponse{WorkflowInstance: inst, History: events})
}
