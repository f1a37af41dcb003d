// Package integration provides a reusable test harness for end-to-end
// testing of the txgate server. It starts a full HTTP server over
// in-memory stores and an observable in-memory broker.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/copperline/txgate/internal/activity"
	"github.com/copperline/txgate/internal/history"
	"github.com/copperline/txgate/internal/orchestration"
	"github.com/copperline/txgate/internal/policy"
	"github.com/copperline/txgate/internal/routing"
	"github.com/copperline/txgate/internal/transport"
	"github.com/copperline/txgate/model"
)

// defaultPolicies is the tenant policy file every harness starts with
// unless WithPolicies overrides it.
const defaultPolicies = `
tenants:
  - tenant_id: "345"
    per_transaction_threshold: "1500"
    daily_velocity_limit: "2500"
    source_country_sanctions: [AFG, BLR, RUS]
    dest_country_sanctions: [AFG, BLR, RUS, TKM, UGA]
  - tenant_id: "790"
    per_transaction_threshold: "500"
`

// TestHarness encapsulates a fully wired txgate instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Store    *history.MemoryStore
	Policies *policy.StaticStore
	Broker   *routing.MemoryBroker
	Runner   *orchestration.Runner
	Executor *orchestration.Executor
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policies string
	retry    activity.RetryPolicy
	workers  int
}

// WithPolicies replaces the default tenant policy YAML.
func WithPolicies(yaml string) HarnessOption {
	return func(c *harnessConfig) {
		c.policies = yaml
	}
}

// WithRetry overrides the activity retry policy.
func WithRetry(retry activity.RetryPolicy) HarnessOption {
	return func(c *harnessConfig) {
		c.retry = retry
	}
}

// NewTestHarness builds and starts a complete server. Cleanup is
// registered on t.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	cfg := harnessConfig{
		policies: defaultPolicies,
		retry: activity.RetryPolicy{
			MaxAttempts:       2,
			BackoffInitial:    time.Millisecond,
			BackoffMultiplier: 1.1,
			BackoffMax:        2 * time.Millisecond,
		},
		workers: 2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	policyPath := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(policyPath, []byte(cfg.policies), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	policies, err := policy.NewStaticStore(policyPath)
	if err != nil {
		t.Fatalf("load policies: %v", err)
	}

	store := history.NewMemoryStore()
	broker := routing.NewMemoryBroker()

	reg := activity.NewRegistry()
	activity.RegisterAll(reg, policies, broker, zap.NewNop())
	invoker := activity.NewInvoker(reg, cfg.retry, zap.NewNop(), nil)

	executor := orchestration.NewExecutor(store, invoker, zap.NewNop(), nil)
	runner := orchestration.NewRunner(executor, cfg.workers, 64, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)

	handler := transport.NewHandler(executor, runner, store, zap.NewNop())
	router := transport.NewRouter(transport.Dependencies{Handler: handler, Logger: zap.NewNop()})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		cancel()
		runner.Stop()
	})

	return &TestHarness{
		t:        t,
		server:   server,
		Store:    store,
		Policies: policies,
		Broker:   broker,
		Runner:   runner,
		Executor: executor,
	}
}

// POST sends a JSON body to path and returns the response.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		h.t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		h.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// GET fetches path and returns the response.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()

	resp, err := http.Get(h.server.URL + path)
	if err != nil {
		h.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// AssertJSON checks the status code and decodes the body into out.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, wantStatus int, out any) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("unmarshal %q: %v", body, err)
		}
	}
}

// Trigger posts event for its tenant and returns the new instance ID.
func (h *TestHarness) Trigger(t *testing.T, event map[string]any) string {
	t.Helper()

	tenantID, _ := event["tenantId"].(string)
	resp := h.POST(fmt.Sprintf("/v1/tenants/%s/transactions", tenantID), event)

	var out struct {
		InstanceID string `json:"instance_id"`
	}
	h.AssertJSON(t, resp, http.StatusAccepted, &out)
	if out.InstanceID == "" {
		t.Fatal("trigger response carries no instance_id")
	}
	return out.InstanceID
}

// WaitTerminal polls the store until the instance reaches a terminal
// state, failing the test on timeout.
func (h *TestHarness) WaitTerminal(t *testing.T, instanceID string) model.WorkflowInstance {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := h.Store.GetInstance(context.Background(), instanceID)
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

// Event builds a valid transaction payload for tenant 345. Mutate the
// returned map to vary scenarios.
func Event(correlationID, amount string) map[string]any {
	return map[string]any{
		"correlationId":   correlationID,
		"tenantId":        "345",
		"transactionId":   "tx-" + correlationID[:8],
		"transactionDate": "2024-02-15 11:36:22",
		"direction":       "Credit",
		"amount":          amount,
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
