package activity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/copperline/txgate/internal/policy"
	"github.com/copperline/txgate/internal/routing"
	"github.com/copperline/txgate/model"
)

func testSetup(t *testing.T) (*Registry, *policy.MemoryStore, *routing.MemoryBroker) {
	t.Helper()
	policies := policy.NewMemoryStore()
	broker := routing.NewMemoryBroker()
	reg := NewRegistry()
	RegisterAll(reg, policies, broker, nil)
	return reg, policies, broker
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestGetPolicyActivity(t *testing.T) {
	reg, policies, _ := testSetup(t)
	policies.Put(model.TenantPolicy{
		TenantID:                "345",
		PerTransactionThreshold: decimal.NewFromInt(1500),
	})

	handler, err := reg.Lookup(GetPolicy)
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}

	out, err := handler(context.Background(), mustMarshal(t, GetPolicyInput{TenantID: "345"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var p model.TenantPolicy
	if err := json.Unmarshal(out, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.PerTransactionThreshold.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("threshold = %s, want 1500", p.PerTransactionThreshold)
	}
}

func TestGetPolicyActivity_UnknownTenant(t *testing.T) {
	reg, _, _ := testSetup(t)

	handler, _ := reg.Lookup(GetPolicy)
	_, err := handler(context.Background(), mustMarshal(t, GetPolicyInput{TenantID: "999"}))
	if model.CodeOf(err) != model.ErrUnknownTenant {
		t.Errorf("code = %q, want UNKNOWN_TENANT", model.CodeOf(err))
	}
}

func TestPublishActivities_RouteToTheirDestinations(t *testing.T) {
	reg, _, broker := testSetup(t)
	ctx := context.Background()

	input := mustMarshal(t, PublishInput{DedupKey: "corr-1", Payload: json.RawMessage(`{"tx":1}`)})

	for _, tc := range []struct {
		activity string
		dest     routing.Destination
	}{
		{PublishProcessing, routing.ProcessingQueue},
		{RaiseAlert, routing.AlertSink},
	} {
		handler, err := reg.Lookup(tc.activity)
		if err != nil {
			t.Fatalf("Lookup(%s) error: %v", tc.activity, err)
		}
		if _, err := handler(ctx, input); err != nil {
			t.Fatalf("%s handler error: %v", tc.activity, err)
		}
		if n := len(broker.Messages(tc.dest)); n != 1 {
			t.Errorf("%s delivered %d messages to %s, want 1", tc.activity, n, tc.dest)
		}
	}
}

func TestPublishActivity_FailureIsTransient(t *testing.T) {
	reg, _, broker := testSetup(t)
	broker.FailWith(context.DeadlineExceeded)

	handler, _ := reg.Lookup(PublishProcessing)
	input := mustMarshal(t, PublishInput{DedupKey: "corr-1", Payload: json.RawMessage(`{}`)})

	_, err := handler(context.Background(), input)
	if model.CodeOf(err) != model.ErrActivityTransient {
		t.Errorf("code = %q, want ACTIVITY_TRANSIENT so the invoker retries", model.CodeOf(err))
	}
}

func TestNotifyOperations_SwallowsPublishFailure(t *testing.T) {
	reg, _, broker := testSetup(t)
	broker.FailWith(context.DeadlineExceeded)

	handler, _ := reg.Lookup(NotifyOperations)
	input := mustMarshal(t, NotifyInput{CorrelationID: "corr-1", Message: "boom"})

	// The operations channel is last-resort: the failure is logged and
	// dropped, never surfaced.
	if _, err := handler(context.Background(), input); err != nil {
		t.Fatalf("handler error: %v, want nil", err)
	}
}

func TestNotifyOperations_Delivers(t *testing.T) {
	reg, _, broker := testSetup(t)

	handler, _ := reg.Lookup(NotifyOperations)
	input := mustMarshal(t, NotifyInput{CorrelationID: "corr-1", Message: "processing failed"})

	if _, err := handler(context.Background(), input); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	msgs := broker.Messages(routing.OperationsChannel)
	if len(msgs) != 1 {
		t.Fatalf("operations channel has %d messages, want 1", len(msgs))
	}
	var notify NotifyInput
	if err := json.Unmarshal(msgs[0].Payload, &notify); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if notify.Message != "processing failed" {
		t.Errorf("message = %q", notify.Message)
	}
}
