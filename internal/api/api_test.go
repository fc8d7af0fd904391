package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwarkhq/bulwark/internal/dlq"
	"github.com/bulwarkhq/bulwark/internal/failover"
	"github.com/bulwarkhq/bulwark/pkg/config"
	"github.com/bulwarkhq/bulwark/pkg/errors"
	"github.com/bulwarkhq/bulwark/pkg/logging"
	"github.com/bulwarkhq/bulwark/pkg/providers"
	"github.com/bulwarkhq/bulwark/pkg/ratelimit"
	"github.com/bulwarkhq/bulwark/pkg/resources"
)

type fakeResource struct {
	id      string
	execErr error
}

func (r *fakeResource) ID() string                        { return r.id }
func (r *fakeResource) Connect(ctx context.Context) error { return nil }
func (r *fakeResource) Disconnect() error                 { return nil }
func (r *fakeResource) Ping(ctx context.Context) error    { return nil }

func (r *fakeResource) Execute(ctx context.Context, query string, params ...interface{}) ([]resources.Row, error) {
	if r.execErr != nil {
		return nil, r.execErr
	}
	return []resources.Row{{"ok": true}}, nil
}

type testEnv struct {
	router      http.Handler
	limiter     *ratelimit.Limiter
	manager     *failover.Manager
	deadLetters *dlq.Queue
	primary     *providers.StaticProvider
	backup      *providers.StaticProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Logging.Level = "error"

	manager := failover.NewManager()
	t.Cleanup(manager.Shutdown)

	primary := providers.NewStaticProvider("openai", "hello from openai")
	backup := providers.NewStaticProvider("anthropic", "hello from anthropic")
	manager.RegisterProvider("openai", primary)
	manager.RegisterProvider("anthropic", backup)
	require.NoError(t, manager.Configure(failover.EndpointConfig{
		Endpoint:  "agent1",
		PrimaryID: "openai",
		BackupIDs: []string{"anthropic"},
	}))

	databases := failover.NewDatabaseManager()
	require.NoError(t, databases.RegisterEndpoints("agent1", []failover.DatabaseEndpoint{
		{ID: "pg-primary", Resource: &fakeResource{id: "pg-primary"}, Priority: 0, IsPrimary: true},
		{ID: "pg-replica", Resource: &fakeResource{id: "pg-replica"}, Priority: 1},
	}))

	limiter := ratelimit.NewLimiter()
	deadLetters := dlq.NewQueue(100, 3)

	router := NewRouter(Deps{
		Config:      cfg,
		Logger:      logging.GetLogger(),
		Limiter:     limiter,
		Failover:    manager,
		Databases:   databases,
		DeadLetters: deadLetters,
		Resources: map[string]resources.Resource{
			"pg-primary": &fakeResource{id: "pg-primary"},
		},
	})

	return &testEnv{
		router:      router,
		limiter:     limiter,
		manager:     manager,
		deadLetters: deadLetters,
		primary:     primary,
		backup:      backup,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestRateLimitLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPut, "/api/v1/rate-limits/agent1",
		SetLimitRequest{PerMinute: 5, PerHour: 100})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/rate-limits/agent1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	limit := data["limit"].(map[string]interface{})
	assert.Equal(t, float64(5), limit["per_minute"])

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/rate-limits/agent1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/rate-limits/agent1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvokeDeniedByRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.limiter.SetLimit("agent1", ratelimit.Limit{PerMinute: 1})

	rec, _ := env.do(t, http.MethodPost, "/api/v1/invoke/agent1", InvokeRequest{Prompt: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/invoke/agent1", InvokeRequest{Prompt: "hi"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "per minute")
}

func TestInvokeFailsOverToBackup(t *testing.T) {
	env := newTestEnv(t)
	env.primary.Fail(errors.NewProviderError("openai", "unavailable"))

	rec, resp := env.do(t, http.MethodPost, "/api/v1/invoke/agent1", InvokeRequest{Prompt: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "anthropic", data["provider_id"])
}

func TestInvokeExhaustionCapturesToDLQ(t *testing.T) {
	env := newTestEnv(t)
	env.primary.Fail(errors.NewProviderError("openai", "down"))
	env.backup.Fail(errors.NewProviderError("anthropic", "down"))

	rec, resp := env.do(t, http.MethodPost, "/api/v1/invoke/agent1", InvokeRequest{Prompt: "hi"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Details, "dlq_entry_id")

	entries := env.deadLetters.List(false)
	require.Len(t, entries, 1)
	assert.Equal(t, "agent1", entries[0].Endpoint)
}

func TestFailoverConfigureAndStatus(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPut, "/api/v1/failover/endpoints/agent2", ConfigureEndpointRequest{
		PrimaryID:              "anthropic",
		BackupIDs:              []string{"openai"},
		MaxConsecutiveFailures: 2,
		AutoFailoverEnabled:    true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/failover/endpoints/agent2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "anthropic", data["active_provider"])
}

func TestFailoverConfigureUnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPut, "/api/v1/failover/endpoints/agent2", ConfigureEndpointRequest{
		PrimaryID: "ghost",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFIGURATION_ERROR", resp.Error.Code)
}

func TestManualSwitch(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/failover/endpoints/agent1/switch",
		SwitchProviderRequest{ProviderID: "anthropic"})
	require.Equal(t, http.StatusOK, rec.Code)

	active, ok := env.manager.ActiveProvider("agent1")
	require.True(t, ok)
	assert.Equal(t, "anthropic", active)

	// A provider that fails its probe is rejected without side effects.
	env.primary.Fail(errors.NewProviderError("openai", "down"))
	rec, _ = env.do(t, http.MethodPost, "/api/v1/failover/endpoints/agent1/switch",
		SwitchProviderRequest{ProviderID: "openai"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	active, _ = env.manager.ActiveProvider("agent1")
	assert.Equal(t, "anthropic", active)
}

func TestProviderHealthListing(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/failover/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Contains(t, data, "openai")
	assert.Contains(t, data, "anthropic")
}

func TestProbeProviderEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.primary.Fail(errors.NewProviderError("openai", "down"))

	rec, resp := env.do(t, http.MethodPost, "/api/v1/failover/providers/openai/probe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["healthy"])
}

func TestDatabaseFailoverEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/failover/databases/agent1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "primary", data["status"])

	rec, resp = env.do(t, http.MethodPost, "/api/v1/failover/databases/agent1/failure", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = resp.Data.(map[string]interface{})
	assert.Equal(t, "pg-replica", data["promoted_to"])

	rec, resp = env.do(t, http.MethodPost, "/api/v1/failover/databases/agent1/endpoints/pg-primary/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = resp.Data.(map[string]interface{})
	status := data["status"].(map[string]interface{})
	assert.Equal(t, "primary", status["status"])
}

func TestDLQReplayViaAPI(t *testing.T) {
	env := newTestEnv(t)
	entry := env.deadLetters.Capture("agent1", dlq.Request{Query: "SELECT 1"},
		errors.NewExhaustedError("agent1", []string{"openai"}, nil))

	rec, resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/dlq/%s/replay", entry.ID),
		ReplayRequest{ResourceID: "pg-primary"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	got, ok := env.deadLetters.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, dlq.StatusSuccess, got.Status)
}

func TestDLQReplayUnknownResource(t *testing.T) {
	env := newTestEnv(t)
	entry := env.deadLetters.Capture("agent1", dlq.Request{Query: "SELECT 1"},
		errors.NewTimeoutError("call"))

	rec, _ := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/dlq/%s/replay", entry.ID),
		ReplayRequest{ResourceID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDLQArchiveAndListing(t *testing.T) {
	env := newTestEnv(t)
	entry := env.deadLetters.Capture("agent1", dlq.Request{Query: "SELECT 1"},
		errors.NewTimeoutError("call"))

	rec, _ := env.do(t, http.MethodPost, "/api/v1/dlq/"+entry.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, resp := env.do(t, http.MethodGet, "/api/v1/dlq", nil)
	assert.Empty(t, resp.Data)

	_, resp = env.do(t, http.MethodGet, "/api/v1/dlq?include_archived=true", nil)
	entries := resp.Data.([]interface{})
	assert.Len(t, entries, 1)
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Logging.Level = "error"

	manager := failover.NewManager()
	t.Cleanup(manager.Shutdown)

	router := NewRouter(Deps{
		Config:      cfg,
		Logger:      logging.GetLogger(),
		Limiter:     ratelimit.NewLimiter(),
		Failover:    manager,
		Databases:   failover.NewDatabaseManager(),
		DeadLetters: dlq.NewQueue(10, 3),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rate-limits", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
