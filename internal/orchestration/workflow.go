package orchestration

import (
	"encoding/json"

	"github.com/copperline/txgate/internal/activity"
	"github.com/copperline/txgate/model"
)

// processTransaction is the deterministic workflow definition: a strict
// DAG of five steps. It must issue the same activity calls for the same
// history prefix, so it never reads the clock, randomness, or any I/O
// outside rc.call.
//
//	Started → PolicyFetched → Assessed → {Alerting | Enqueuing} → Completed
//	any failure → Notifying → CompletedWithError
//
// setState persists the logical-state projection; the history log remains
// the source of truth. The returned error is always an infrastructure
// failure — activity errors are converted to the Notifying transition and
// never escape the orchestration boundary.
func processTransaction(rc *runContext, event model.TransactionEvent, setState func(string) error) (string, error) {
	if err := setState(model.StateStarted); err != nil {
		return "", err
	}

	var pol model.TenantPolicy
	if err := rc.call(activity.GetPolicy, activity.GetPolicyInput{TenantID: event.TenantID}, &pol); err != nil {
		return notifyOperations(rc, event, err, setState)
	}
	if err := setState(model.StatePolicyFetched); err != nil {
		return "", err
	}

	var assessed activity.AssessOutput
	assessInput := activity.AssessInput{Event: event, Policy: pol}
	if err := rc.call(activity.AssessTransaction, assessInput, &assessed); err != nil {
		return notifyOperations(rc, event, err, setState)
	}
	if err := setState(model.StateAssessed); err != nil {
		return "", err
	}

	if assessed.Violation != nil {
		if err := setState(model.StateAlerting); err != nil {
			return "", err
		}
		payload, err := json.Marshal(assessed.Violation)
		if err != nil {
			return notifyOperations(rc, event, err, setState)
		}
		alert := activity.PublishInput{DedupKey: event.CorrelationID, Payload: payload}
		if err := rc.call(activity.RaiseAlert, alert, nil); err != nil {
			return notifyOperations(rc, event, err, setState)
		}
		return model.StateCompletedViolation, nil
	}

	if err := setState(model.StateEnqueuing); err != nil {
		return "", err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return notifyOperations(rc, event, err, setState)
	}
	enqueue := activity.PublishInput{DedupKey: event.CorrelationID, Payload: payload}
	if err := rc.call(activity.PublishProcessing, enqueue, nil); err != nil {
		return notifyOperations(rc, event, err, setState)
	}
	return model.StateCompletedClean, nil
}

// notifyOperations is the error branch: publish the failure to the
// operations channel, then complete with error regardless of whether the
// notification itself succeeded.
func notifyOperations(rc *runContext, event model.TransactionEvent, cause error, setState func(string) error) (string, error) {
	if rc.infra {
		return "", cause
	}
	if err := setState(model.StateNotifying); err != nil {
		return "", err
	}

	notify := activity.NotifyInput{
		CorrelationID: event.CorrelationID,
		Message:       cause.Error(),
	}
	if err := rc.call(activity.NotifyOperations, notify, nil); err != nil && rc.infra {
		return "", err
	}
	return model.StateCompletedWithError, nil
}
