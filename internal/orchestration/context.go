// Package orchestration drives workflow instances to completion by
// replaying their history logs. Replay reconstructs in-memory state
// without re-executing completed activities' side effects; execution
// continues from the first unresolved activity call.
package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/copperline/txgate/internal/activity"
	"github.com/copperline/txgate/internal/history"
	"github.com/copperline/txgate/model"
)

// runContext is the per-run execution state: a cursor over the persisted
// history plus the append position for new events. It is what makes one
// workflow function serve both replay and live execution.
type runContext struct {
	ctx        context.Context
	instanceID string
	store      history.Store
	invoker    *activity.Invoker
	history    []model.HistoryEvent
	cursor     int
	lastSeq    int
	infra      bool // an infrastructure failure aborted the run
	replays    int  // completed calls satisfied from history
}

func newRunContext(ctx context.Context, instanceID string, store history.Store, invoker *activity.Invoker, events []model.HistoryEvent) *runContext {
	return &runContext{
		ctx:        ctx,
		instanceID: instanceID,
		store:      store,
		invoker:    invoker,
		history:    events,
		lastSeq:    len(events),
	}
}

// call resolves one activity call against the history log.
//
// Already completed: the recorded result is fed back without re-executing
// the side effect. Recorded as failed: the recorded error is returned.
// Scheduled but unresolved (crash between side effect and completion
// append): the activity is invoked again with its recorded input, which
// is why activities must be idempotent. Not in history: a Scheduled event
// is appended first, then the activity runs and its outcome is appended.
//
// Errors with rc.infra set mean the run must abort and stay runnable;
// all other errors are activity failures for the workflow's error branch.
func (rc *runContext) call(name string, input, out any) error {
	// Resolved or half-resolved call in history.
	if rc.cursor < len(rc.history) {
		scheduled := rc.history[rc.cursor]
		if scheduled.Kind != model.EventScheduled || scheduled.Activity != name {
			return rc.abort(model.NewNondeterminismError(rc.instanceID, scheduled.Activity, name))
		}
		rc.cursor++

		if rc.cursor < len(rc.history) {
			result := rc.history[rc.cursor]
			if result.Activity != name || result.Kind == model.EventScheduled {
				return rc.abort(model.NewNondeterminismError(rc.instanceID, result.Activity, name))
			}
			rc.cursor++
			rc.replays++

			if result.Kind == model.EventFailed {
				return &model.ErrorEnvelope{Code: result.ErrorCode, Message: result.Error}
			}
			return decodeInto(result.Payload, out)
		}

		// Crash window: scheduled, never resolved. Re-invoke with the
		// recorded input (at-least-once delivery).
		return rc.execute(name, scheduled.Payload, out)
	}

	// First time this call is reached: persist the decision point before
	// the side effect so a crash is recoverable.
	inJSON, err := json.Marshal(input)
	if err != nil {
		return rc.abort(fmt.Errorf("orchestration: marshal %s input: %w", name, err))
	}
	if err := rc.append(model.HistoryEvent{
		Kind:     model.EventScheduled,
		Activity: name,
		Payload:  inJSON,
	}); err != nil {
		return err
	}
	return rc.execute(name, inJSON, out)
}

// execute invokes the activity and appends its outcome.
func (rc *runContext) execute(name string, input json.RawMessage, out any) error {
	output, invokeErr := rc.invoker.Invoke(rc.ctx, name, input)
	if invokeErr != nil {
		if err := rc.append(model.HistoryEvent{
			Kind:      model.EventFailed,
			Activity:  name,
			ErrorCode: model.CodeOf(invokeErr),
			Error:     invokeErr.Error(),
		}); err != nil {
			return err
		}
		return invokeErr
	}

	if err := rc.append(model.HistoryEvent{
		Kind:     model.EventCompleted,
		Activity: name,
		Payload:  output,
	}); err != nil {
		return err
	}
	return decodeInto(output, out)
}

// append durably persists evt at the next sequence slot and mirrors it
// into the in-memory history so the cursor stays consistent.
func (rc *runContext) append(evt model.HistoryEvent) error {
	if err := rc.store.Append(rc.ctx, rc.instanceID, rc.lastSeq, evt); err != nil {
		return rc.abort(err)
	}
	evt.InstanceID = rc.instanceID
	evt.Seq = rc.lastSeq + 1
	rc.lastSeq++
	rc.history = append(rc.history, evt)
	rc.cursor = len(rc.history)
	return nil
}

// abort flags an infrastructure failure. The instance stays runnable and
// a later run resumes from the durably persisted history.
func (rc *runContext) abort(err error) error {
	rc.infra = true
	return err
}

func decodeInto(payload json.RawMessage, out any) error {
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("orchestration: decode activity result: %w", err)
	}
	return nil
}
