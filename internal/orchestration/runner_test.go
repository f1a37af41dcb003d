package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/copperline/txgate/model"
)

func waitTerminal(t *testing.T, e *env, instanceID string) model.WorkflowInstance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := e.store.GetInstance(context.Background(), instanceID)
		if err != nil {
			t.Fatalf("GetInstance error: %v", err)
		}
		if model.IsTerminalState(inst.State) {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance %s never reached a terminal state", instanceID)
	return model.WorkflowInstance{}
}

func TestRunner_ExecutesEnqueuedInstances(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	runner := NewRunner(e.exec, 2, 16, nil)
	runner.Start(ctx)
	defer runner.Stop()

	inst, err := e.exec.StartInstance(ctx, testEvent("345.87"))
	if err != nil {
		t.Fatalf("StartInstance error: %v", err)
	}
	if err := runner.Enqueue(inst.ID); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	done := waitTerminal(t, e, inst.ID)
	if done.State != model.StateCompletedClean {
		t.Errorf("terminal state = %q, want %q", done.State, model.StateCompletedClean)
	}
}

func TestRunner_EnqueueReportsBackpressure(t *testing.T) {
	e := newEnv(t)

	runner := NewRunner(e.exec, 1, 1, nil) // never started: queue fills

	if err := runner.Enqueue("wf-1"); err != nil {
		t.Fatalf("first Enqueue error: %v", err)
	}
	if err := runner.Enqueue("wf-2"); err == nil {
		t.Fatal("expected backpressure error on full queue")
	}
	if runner.QueueLen() != 1 {
		t.Errorf("QueueLen = %d, want 1", runner.QueueLen())
	}
}

func TestRunner_ResumePicksUpRunnableInstances(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Two instances persisted before any runner exists, as after a crash.
	a, err := e.exec.StartInstance(ctx, testEvent("345.87"))
	if err != nil {
		t.Fatalf("StartInstance error: %v", err)
	}
	eventB := testEvent("2000")
	eventB.CorrelationID = "B7F2A9C4-1E83-4D57-9A10-6C2E5F084D21"
	b, err := e.exec.StartInstance(ctx, eventB)
	if err != nil {
		t.Fatalf("StartInstance error: %v", err)
	}

	runner := NewRunner(e.exec, 2, 16, nil)
	runner.Start(ctx)
	defer runner.Stop()

	if err := runner.Resume(ctx); err != nil {
		t.Fatalf("Resume error: %v", err)
	}

	if got := waitTerminal(t, e, a.ID); got.State != model.StateCompletedClean {
		t.Errorf("instance a terminal state = %q, want %q", got.State, model.StateCompletedClean)
	}
	if got := waitTerminal(t, e, b.ID); got.State != model.StateCompletedViolation {
		t.Errorf("instance b terminal state = %q, want %q", got.State, model.StateCompletedViolation)
	}
}
