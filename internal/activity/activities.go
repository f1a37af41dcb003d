package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/copperline/txgate/internal/policy"
	"github.com/copperline/txgate/internal/risk"
	"github.com/copperline/txgate/internal/routing"
	"github.com/copperline/txgate/model"
)

// GetPolicyInput is the input to the get-policy activity.
type GetPolicyInput struct {
	TenantID string `json:"tenant_id"`
}

// AssessInput is the input to the assess-transaction activity.
type AssessInput struct {
	Event  model.TransactionEvent `json:"event"`
	Policy model.TenantPolicy     `json:"policy"`
}

// AssessOutput carries the assessment result. A nil Violation means the
// transaction is clean.
type AssessOutput struct {
	Violation *model.Violation `json:"violation,omitempty"`
}

// PublishInput is the input shared by the three publish activities. The
// dedup key is the event's correlation ID, stable across retries.
type PublishInput struct {
	DedupKey string          `json:"dedup_key"`
	Payload  json.RawMessage `json:"payload"`
}

// NotifyInput is the input to the notify-operations activity.
type NotifyInput struct {
	CorrelationID string `json:"correlation_id"`
	Message       string `json:"message"`
}

// RegisterAll wires the standard activity set into reg.
func RegisterAll(reg *Registry, policies policy.Store, router routing.Router, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg.Register(GetPolicy, getPolicyHandler(policies))
	reg.Register(AssessTransaction, assessHandler())
	reg.Register(PublishProcessing, publishHandler(router, routing.ProcessingQueue))
	reg.Register(RaiseAlert, publishHandler(router, routing.AlertSink))
	reg.Register(NotifyOperations, notifyHandler(router, logger))
}

// getPolicyHandler is a pure lookup, naturally idempotent and safe to
// retry freely.
func getPolicyHandler(policies policy.Store) Handler {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in GetPolicyInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("get-policy input: %v", err))
		}

		p, err := policies.GetPolicy(ctx, in.TenantID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(p)
	}
}

// assessHandler wraps the pure risk assessment. Deterministic for the
// same input, so replay needs no dedup key.
func assessHandler() Handler {
	return func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in AssessInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("assess-transaction input: %v", err))
		}

		violation := risk.Assess(in.Event, in.Policy, decimal.Zero)
		return json.Marshal(AssessOutput{Violation: violation})
	}
}

// publishHandler publishes to a fatal destination: a failure here, once
// retries are exhausted, routes the workflow to its error branch.
func publishHandler(router routing.Router, dest routing.Destination) Handler {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in PublishInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("publish input: %v", err))
		}

		if err := router.Publish(ctx, dest, in.Payload, in.DedupKey); err != nil {
			// Transient: the invoker retries, then converts to permanent.
			return nil, model.NewActivityTransientError(
				model.NewPublishFailureError(string(dest), err).Message,
			)
		}
		return json.RawMessage(`{}`), nil
	}
}

// notifyHandler publishes to the operations channel. This is the
// last-resort channel: a failure is logged and swallowed because no
// further escalation path exists.
func notifyHandler(router routing.Router, logger *zap.Logger) Handler {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in NotifyInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("notify-operations input: %v", err))
		}

		payload, err := json.Marshal(in)
		if err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("notify-operations payload: %v", err))
		}

		if err := router.Publish(ctx, routing.OperationsChannel, payload, in.CorrelationID); err != nil {
			logger.Error("operations notification dropped",
				zap.String("correlation_id", in.CorrelationID),
				zap.Error(err),
			)
		}
		return json.RawMessage(`{}`), nil
	}
}
