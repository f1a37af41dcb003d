package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/copperline/txgate/internal/activity"
	"github.com/copperline/txgate/internal/history"
	"github.com/copperline/txgate/internal/orchestration"
	"github.com/copperline/txgate/internal/policy"
	"github.com/copperline/txgate/internal/routing"
	"github.com/copperline/txgate/model"
)

type testEnv struct {
	store  *history.MemoryStore
	broker *routing.MemoryBroker
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := history.NewMemoryStore()
	policies := policy.NewMemoryStore()
	policies.Put(model.TenantPolicy{
		TenantID:                "345",
		PerTransactionThreshold: decimal.NewFromInt(1500),
		SourceCountrySanctions:  model.CountrySet{"RUS"},
		DestCountrySanctions:    model.CountrySet{"RUS"},
	})
	broker := routing.NewMemoryBroker()

	reg := activity.NewRegistry()
	activity.RegisterAll(reg, policies, broker, nil)
	invoker := activity.NewInvoker(reg, activity.RetryPolicy{
		MaxAttempts:       2,
		BackoffInitial:    time.Millisecond,
		BackoffMultiplier: 1.1,
		BackoffMax:        2 * time.Millisecond,
	}, nil, nil)

	executor := orchestration.NewExecutor(store, invoker, nil, nil)
	runner := orchestration.NewRunner(executor, 1, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)
	t.Cleanup(func() {
		cancel()
		runner.Stop()
	})

	handler := NewHandler(executor, runner, store, zap.NewNop())
	router := NewRouter(Dependencies{Handler: handler, Logger: zap.NewNop()})

	return &testEnv{store: store, broker: broker, router: router}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// waitTerminal polls until the instance reaches a terminal state.
func (e *testEnv) waitTerminal(t *testing.T, instanceID string) model.WorkflowInstance {
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

func validEvent() map[string]any {
	return map[string]any{
		"correlationId":   "0EC1D320-3FDD-43A0-84B8-3CF8972CDCD8",
		"tenantId":        "345",
		"transactionId":   "tx-1",
		"transactionDate": "2024-02-15 11:36:22",
		"direction":       "Credit",
		"amount":          "345.87",
		"currency":        "EUR",
		"description":     "Mr C A Woods",
		"sourceaccount": map[string]string{
			"accountno": "44421232", "sortcode": "30-23-20", "countrycode": "GBR",
		},
		"destinationaccount": map[string]string{
			"accountno": "87285552", "sortcode": "10-33-12", "countrycode": "HKG",
		},
	}
}

func TestHandleTrigger_AcceptsAndRuns(t *testing.T) {
	e := newTestEnv(t)

	w := e.post(t, "/v1/tenants/345/transactions", validEvent())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", w.Code, w.Body.String())
	}

	var resp struct {
		InstanceID string `json:"instance_id"`
		State      string `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.InstanceID == "" {
		t.Fatal("response carries no instance_id")
	}

	inst := e.waitTerminal(t, resp.InstanceID)
	if inst.State != model.StateCompletedClean {
		t.Errorf("terminal state = %q, want %q", inst.State, model.StateCompletedClean)
	}
	if len(e.broker.Messages(routing.ProcessingQueue)) != 1 {
		t.Error("processing queue did not receive the event")
	}
}

func TestHandleTrigger_DuplicateCorrelationReturnsExisting(t *testing.T) {
	e := newTestEnv(t)

	first := e.post(t, "/v1/tenants/345/transactions", validEvent())
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", first.Code)
	}
	var a struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	second := e.post(t, "/v1/tenants/345/transactions", validEvent())
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d, want 200", second.Code)
	}
	var b struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.InstanceID != b.InstanceID {
		t.Errorf("duplicate trigger created a new instance: %s vs %s", a.InstanceID, b.InstanceID)
	}
}

func TestHandleTrigger_TenantMismatch(t *testing.T) {
	e := newTestEnv(t)

	w := e.post(t, "/v1/tenants/790/transactions", validEvent())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var envelope model.ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Code != model.ErrBadRequest {
		t.Errorf("code = %q, want BAD_REQUEST", envelope.Code)
	}
}

func TestHandleTrigger_MalformedBody(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/345/transactions", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleTrigger_ValidationFailure(t *testing.T) {
	e := newTestEnv(t)

	event := validEvent()
	delete(event, "correlationId")
	event["currency"] = "EURO"

	w := e.post(t, "/v1/tenants/345/transactions", event)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var envelope model.ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Code != model.ErrValidationError {
		t.Errorf("code = %q, want VALIDATION_ERROR", envelope.Code)
	}
	if len(envelope.Details) != 2 {
		t.Errorf("details count = %d, want 2", len(envelope.Details))
	}
}

func TestHandleGetInstance_NotFound(t *testing.T) {
	e := newTestEnv(t)

	w := e.get(t, "/v1/instances/does-not-exist")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleGetInstance_ReturnsHistory(t *testing.T) {
	e := newTestEnv(t)

	post := e.post(t, "/v1/tenants/345/transactions", validEvent())
	var resp struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.Unmarshal(post.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	e.waitTerminal(t, resp.InstanceID)

	w := e.get(t, "/v1/instances/"+resp.InstanceID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}

	var inst struct {
		State   string               `json:"state"`
		History []model.HistoryEvent `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &inst); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if inst.State != model.StateCompletedClean {
		t.Errorf("state = %q, want %q", inst.State, model.StateCompletedClean)
	}
	// get-policy, assess, publish: three scheduled/completed pairs.
	if len(inst.History) != 6 {
		t.Errorf("history length = %d, want 6", len(inst.History))
	}
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		if w := e.get(t, path); w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}
}
