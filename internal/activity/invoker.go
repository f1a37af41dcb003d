package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/copperline/txgate/model"
)

// RetryPolicy bounds how the invoker retries transient activity failures.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

// DefaultRetryPolicy returns the retry bounds used when none are configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		BackoffInitial:    100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		BackoffMax:        5 * time.Second,
	}
}

// Invoker executes registered activities with bounded exponential-backoff
// retries. A plain error from a handler is treated as transient and
// retried; a typed envelope (UNKNOWN_TENANT, VALIDATION_ERROR, ...) fails
// immediately. Once attempts are exhausted the failure surfaces as
// ACTIVITY_PERMANENT and the workflow's error branch takes over — the
// call is never silently dropped.
type Invoker struct {
	registry *Registry
	retry    RetryPolicy
	logger   *zap.Logger
	metrics  Metrics
}

// Metrics receives invocation outcomes. Implemented by the observability
// package; the nil-safe NopMetrics is used in tests.
type Metrics interface {
	ActivityAttempt(name string)
	ActivityRetry(name string)
	ActivityFailure(name string, code string)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ActivityAttempt(string)        {}
func (NopMetrics) ActivityRetry(string)          {}
func (NopMetrics) ActivityFailure(string, string) {}

// NewInvoker creates an invoker over registry.
func NewInvoker(registry *Registry, retry RetryPolicy, logger *zap.Logger, metrics Metrics) *Invoker {
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Invoker{registry: registry, retry: retry, logger: logger, metrics: metrics}
}

// Invoke runs the named activity until it succeeds, fails permanently, or
// retries are exhausted.
func (inv *Invoker) Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	handler, err := inv.registry.Lookup(name)
	if err != nil {
		return nil, model.NewActivityPermanentError(name, err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = inv.retry.BackoffInitial
	expo.Multiplier = inv.retry.BackoffMultiplier
	expo.MaxInterval = inv.retry.BackoffMax
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(inv.retry.MaxAttempts-1)),
		ctx,
	)

	var output json.RawMessage
	attempt := 0
	operation := func() error {
		attempt++
		inv.metrics.ActivityAttempt(name)

		out, err := handler(ctx, input)
		if err == nil {
			output = out
			return nil
		}
		if model.IsPermanent(err) {
			return backoff.Permanent(err)
		}

		inv.metrics.ActivityRetry(name)
		inv.logger.Warn("activity call failed, will retry",
			zap.String("activity", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		code := model.CodeOf(err)
		if code == model.ErrInternalError || code == model.ErrActivityTransient {
			// Retries exhausted on a transient failure.
			err = model.NewActivityPermanentError(name, err)
			code = model.ErrActivityPermanent
		}
		inv.metrics.ActivityFailure(name, code)
		inv.logger.Error("activity failed",
			zap.String("activity", name),
			zap.Int("attempts", attempt),
			zap.String("code", code),
			zap.Error(err),
		)
		return nil, err
	}

	return output, nil
}
