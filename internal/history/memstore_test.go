package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/copperline/txgate/model"
)

func testInstance(id, correlationID string) model.WorkflowInstance {
	now := time.Now().UTC()
	return model.WorkflowInstance{
		ID:            id,
		CorrelationID: correlationID,
		TenantID:      "tenant-1",
		State:         model.StateStarted,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateInstance(ctx, testInstance("wf-1", "corr-1")); err != nil {
		t.Fatalf("CreateInstance error: %v", err)
	}

	inst, err := store.GetInstance(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetInstance error: %v", err)
	}
	if inst.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", inst.CorrelationID)
	}

	_, err = store.GetInstance(ctx, "missing")
	if model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("GetInstance(missing) code = %q, want NOT_FOUND", model.CodeOf(err))
	}
}

func TestMemoryStore_DuplicateCorrelationRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateInstance(ctx, testInstance("wf-1", "corr-1")); err != nil {
		t.Fatalf("CreateInstance error: %v", err)
	}

	err := store.CreateInstance(ctx, testInstance("wf-2", "corr-1"))
	if model.CodeOf(err) != model.ErrConflict {
		t.Errorf("duplicate correlation code = %q, want CONFLICT", model.CodeOf(err))
	}
}

func TestMemoryStore_GetByCorrelationID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateInstance(ctx, testInstance("wf-1", "corr-1")); err != nil {
		t.Fatalf("CreateInstance error: %v", err)
	}

	inst, err := store.GetByCorrelationID(ctx, "tenant-1", "corr-1")
	if err != nil {
		t.Fatalf("GetByCorrelationID error: %v", err)
	}
	if inst.ID != "wf-1" {
		t.Errorf("ID = %q, want wf-1", inst.ID)
	}

	// Tenant isolation: same correlation under another tenant is not found.
	_, err = store.GetByCorrelationID(ctx, "tenant-2", "corr-1")
	if model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("cross-tenant lookup code = %q, want NOT_FOUND", model.CodeOf(err))
	}
}

func TestMemoryStore_UpdateOptimisticLocking(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateInstance(ctx, testInstance("wf-1", "corr-1")); err != nil {
		t.Fatalf("CreateInstance error: %v", err)
	}

	inst, _ := store.GetInstance(ctx, "wf-1")
	inst.State = model.StatePolicyFetched
	if err := store.UpdateInstance(ctx, inst); err != nil {
		t.Fatalf("UpdateInstance error: %v", err)
	}

	// A second write with the stale version must conflict.
	inst.State = model.StateAssessed
	err := store.UpdateInstance(ctx, inst)
	if model.CodeOf(err) != model.ErrConflict {
		t.Errorf("stale update code = %q, want CONFLICT", model.CodeOf(err))
	}
}

func TestMemoryStore_AppendOrderingAndConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateInstance(ctx, testInstance("wf-1", "corr-1")); err != nil {
		t.Fatalf("CreateInstance error: %v", err)
	}

	evt := func(kind, activity string) model.HistoryEvent {
		return model.HistoryEvent{Kind: kind, Activity: activity, Payload: json.RawMessage(`{}`)}
	}

	if err := store.Append(ctx, "wf-1", 0, evt(model.EventScheduled, "get-policy")); err != nil {
		t.Fatalf("Append seq 1 error: %v", err)
	}
	if err := store.Append(ctx, "wf-1", 1, evt(model.EventCompleted, "get-policy")); err != nil {
		t.Fatalf("Append seq 2 error: %v", err)
	}

	// Appending at an already-used slot is a concurrency conflict: the
	// event must never be silently lost or reordered.
	err := store.Append(ctx, "wf-1", 1, evt(model.EventScheduled, "assess-transaction"))
	if model.CodeOf(err) != model.ErrConcurrencyConflict {
		t.Errorf("stale append code = %q, want CONCURRENCY_CONFLICT", model.CodeOf(err))
	}
	// So is appending past the end.
	err = store.Append(ctx, "wf-1", 5, evt(model.EventScheduled, "assess-transaction"))
	if model.CodeOf(err) != model.ErrConcurrencyConflict {
		t.Errorf("gap append code = %q, want CONCURRENCY_CONFLICT", model.CodeOf(err))
	}

	events, err := store.ReadAll(ctx, "wf-1")
	if err != nil {
		t.Fatalf("ReadAll error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	for i, e := range events {
		if e.Seq != i+1 {
			t.Errorf("events[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
	if events[0].Kind != model.EventScheduled || events[1].Kind != model.EventCompleted {
		t.Errorf("event kinds = %q, %q", events[0].Kind, events[1].Kind)
	}
}

func TestMemoryStore_ListRunnable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	running := testInstance("wf-1", "corr-1")
	running.CreatedAt = time.Now().UTC().Add(-time.Minute)
	done := testInstance("wf-2", "corr-2")
	done.State = model.StateCompletedClean

	if err := store.CreateInstance(ctx, running); err != nil {
		t.Fatalf("CreateInstance error: %v", err)
	}
	if err := store.CreateInstance(ctx, done); err != nil {
		t.Fatalf("CreateInstance error: %v", err)
	}

	runnable, err := store.ListRunnable(ctx, 10)
	if err != nil {
		t.Fatalf("ListRunnable error: %v", err)
	}
	if len(runnable) != 1 {
		t.Fatalf("len(runnable) = %d, want 1", len(runnable))
	}
	if runnable[0].ID != "wf-1" {
		t.Errorf("runnable[0].ID = %q, want wf-1", runnable[0].ID)
	}
}
