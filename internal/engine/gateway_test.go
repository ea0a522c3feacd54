package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventedge/hypepipe/internal/audit"
	"github.com/eventedge/hypepipe/internal/domain"
	"github.com/eventedge/hypepipe/internal/infra/auth"
	"github.com/eventedge/hypepipe/internal/policy"
)

var gwSecret = []byte("gateway-test-secret")

// memAuditor — синхронный аудитор для проверок «ровно одна запись».
type memAuditor struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *memAuditor) Log(rec audit.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *memAuditor) last(t *testing.T) audit.Record {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.records)
	return m.records[len(m.records)-1]
}

func (m *memAuditor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type staticBypass bool

func (s staticBypass) Enabled() bool { return bool(s) }

type gwEnv struct {
	core    *Core
	auditor *memAuditor
	server  *httptest.Server
	calls   *int
}

func newGwEnv(t *testing.T, secret []byte, bypass bool) *gwEnv {
	t.Helper()

	calls := 0
	registry := NewRegistry()
	registry.Register("core.asset.snapshot", Capability{
		TTL: 30 * time.Second,
		Handler: func(ctx context.Context, input map[string]any) (*domain.CapResult, error) {
			calls++
			return &domain.CapResult{
				Payload: map[string]any{"asset": "BTC", "call": float64(calls)},
				AsOf:    "2026-01-01T00:00:00Z",
			}, nil
		},
	})
	registry.Register("macro.regime", Capability{
		TTL: time.Minute,
		Handler: func(ctx context.Context, input map[string]any) (*domain.CapResult, error) {
			return nil, errors.New("dataset table is gone")
		},
	})
	registry.Register("debug.echo", Capability{
		TTL: 0, // некэшируемая
		Handler: func(ctx context.Context, input map[string]any) (*domain.CapResult, error) {
			return &domain.CapResult{Payload: map[string]any{"echo": input}, AsOf: "now"}, nil
		},
	})

	auditor := &memAuditor{}
	core := NewCore(CoreDeps{
		Verifier: auth.NewVerifier(secret),
		Scopes:   policy.NewScopeEnforcer(policy.DefaultScopeTable()),
		Registry: registry,
		Cache:    NewResultCache(nil),
		Bypass:   staticBypass(bypass),
		Auditor:  auditor,
		Metrics:  NewMetrics(nil),
		Logger:   zap.NewNop(),
	})

	mux := http.NewServeMux()
	mux.Handle("/api/v1/hypepipe/cap", TracingMiddleware(http.HandlerFunc(core.HandleCap)))
	mux.HandleFunc("/api/v1/hypepipe/health", core.HandleHealth)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &gwEnv{core: core, auditor: auditor, server: server, calls: &calls}
}

func mintToken(t *testing.T, agentID string, scopes []string) string {
	t.Helper()
	claims := &domain.AgentClaims{
		AgentID: agentID,
		Scopes:  scopes,
		Tier:    "readonly",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(gwSecret)
	require.NoError(t, err)
	return signed
}

func callCap(t *testing.T, env *gwEnv, headers map[string]string, body map[string]any) (*http.Response, domain.CapResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/hypepipe/cap", bytes.NewReader(raw))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope domain.CapResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func authedHeaders(t *testing.T, scopes ...string) map[string]string {
	return map[string]string{
		"X-Agent-Id":    "tg-bot",
		"Authorization": "Bearer " + mintToken(t, "tg-bot", scopes),
	}
}

func TestGateway_Health(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	resp, err := http.Get(env.server.URL + "/api/v1/hypepipe/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "hypepipe", body["service"])
	assert.Zero(t, env.auditor.count(), "health is not audited")
}

func TestGateway_MissingToken(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	resp, envelope := callCap(t, env,
		map[string]string{"X-Agent-Id": "tg-bot"},
		map[string]any{"cap": "core.asset.snapshot", "request_id": "r1"})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, envelope.OK)
	assert.Equal(t, "missing_token", envelope.Error)
	assert.NotEmpty(t, envelope.Meta.TraceID)

	rec := env.auditor.last(t)
	assert.Equal(t, audit.DecisionDeny, rec.Decision)
	assert.Equal(t, "missing_token", rec.DenyReason)
	assert.Equal(t, "tg-bot", rec.AgentID)
	assert.Equal(t, "r1", rec.RequestID)
}

func TestGateway_MissingAgentHeader(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	resp, envelope := callCap(t, env,
		map[string]string{"Authorization": "Bearer " + mintToken(t, "tg-bot", nil)},
		map[string]any{"cap": "core.asset.snapshot", "request_id": "r1"})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_header", envelope.Error)

	rec := env.auditor.last(t)
	assert.Equal(t, audit.DecisionDeny, rec.Decision)
	assert.Equal(t, "unknown", rec.AgentID, "identity is unproven without the header")
}

func TestGateway_NoSecretConfigured(t *testing.T) {
	env := newGwEnv(t, nil, false) // секрет не задан

	resp, envelope := callCap(t, env,
		authedHeaders(t, "read:core.asset.snapshot"),
		map[string]any{"cap": "core.asset.snapshot", "request_id": "r1"})

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "server_error", envelope.Error)
	assert.Equal(t, "server auth configuration missing", envelope.Detail)

	rec := env.auditor.last(t)
	assert.Equal(t, audit.DecisionError, rec.Decision)
	assert.Equal(t, "auth_config", rec.DenyReason)
}

func TestGateway_ScopeDenied(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	resp, envelope := callCap(t, env,
		authedHeaders(t, "read:macro.regime"), // не тот scope
		map[string]any{"cap": "core.asset.snapshot", "request_id": "r1"})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "scope_denied", envelope.Error)
	assert.Equal(t, "missing required scope 'read:core.asset.snapshot'", envelope.Detail)
	assert.Zero(t, *env.calls, "handler must not run on scope denial")

	rec := env.auditor.last(t)
	assert.Equal(t, audit.DecisionScopeDenied, rec.Decision)
	assert.Equal(t, "scope_denied", rec.DenyReason)
}

func TestGateway_UnknownCap(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	resp, envelope := callCap(t, env,
		authedHeaders(t),
		map[string]any{"cap": "core.asset.teleport", "request_id": "r1"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, envelope.Error, "core.asset.teleport")
	assert.Equal(t, []string{"core.asset.snapshot", "debug.echo", "macro.regime"}, envelope.KnownCaps)

	rec := env.auditor.last(t)
	assert.Equal(t, audit.DecisionUnknownCap, rec.Decision)
	assert.Equal(t, "unknown_cap", rec.DenyReason)
}

func TestGateway_EmptyRequestID(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	resp, envelope := callCap(t, env,
		authedHeaders(t, "read:core.asset.snapshot"),
		map[string]any{"cap": "core.asset.snapshot", "request_id": "   "})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "request_id required", envelope.Detail)
	assert.Zero(t, env.auditor.count(), "nothing to audit before the envelope is valid")
}

func TestGateway_CacheHitOnSecondCall(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)
	headers := authedHeaders(t, "read:core.asset.snapshot")
	body := map[string]any{"cap": "core.asset.snapshot", "input": map[string]any{"asset": "BTC"}, "request_id": "r1"}

	resp, first := callCap(t, env, headers, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, first.Meta.CacheHit)
	assert.False(t, *first.Meta.CacheHit)

	_, second := callCap(t, env, headers, body)
	require.NotNil(t, second.Meta.CacheHit)
	assert.True(t, *second.Meta.CacheHit)
	assert.Equal(t, 1, *env.calls, "second call must be served from cache")

	// asof кэшированного результата совпадает с оригиналом
	assert.Equal(t, *first.Meta.AsOf, *second.Meta.AsOf)

	rec := env.auditor.last(t)
	assert.Equal(t, audit.DecisionAllow, rec.Decision)
	require.NotNil(t, rec.CacheHit)
	assert.True(t, *rec.CacheHit)
}

func TestGateway_FreshnessZeroForcesMiss(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)
	headers := authedHeaders(t, "read:core.asset.snapshot")
	body := map[string]any{"cap": "core.asset.snapshot", "input": map[string]any{"asset": "BTC"}, "request_id": "r1"}

	callCap(t, env, headers, body)

	zero := map[string]any{
		"cap": "core.asset.snapshot", "input": map[string]any{"asset": "BTC"},
		"opts": map[string]any{"freshness_s": 0}, "request_id": "r2",
	}
	_, forced := callCap(t, env, headers, zero)
	require.NotNil(t, forced.Meta.CacheHit)
	assert.False(t, *forced.Meta.CacheHit)
	assert.Equal(t, 2, *env.calls, "freshness_s=0 must bypass the cached entry")

	// Свежий результат перезаписал кэш и виден обычному вызову
	_, third := callCap(t, env, headers, body)
	assert.True(t, *third.Meta.CacheHit)
	assert.Equal(t, 2, *env.calls)
}

func TestGateway_BypassDisablesCaching(t *testing.T) {
	env := newGwEnv(t, gwSecret, true) // bypass on
	headers := authedHeaders(t, "read:core.asset.snapshot")
	body := map[string]any{"cap": "core.asset.snapshot", "request_id": "r1"}

	_, first := callCap(t, env, headers, body)
	assert.Nil(t, first.Meta.CacheHit, "cache_hit is null when caching is off")

	callCap(t, env, headers, body)
	assert.Equal(t, 2, *env.calls)
}

func TestGateway_UncacheableCap(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	_, envelope := callCap(t, env,
		authedHeaders(t),
		map[string]any{"cap": "debug.echo", "input": map[string]any{"x": 1.0}, "request_id": "r1"})

	assert.True(t, envelope.OK)
	assert.Nil(t, envelope.Meta.CacheHit, "TTL=0 cap reports null cache_hit")
}

func TestGateway_HandlerFailure(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	resp, envelope := callCap(t, env,
		authedHeaders(t, "read:macro.regime"),
		map[string]any{"cap": "macro.regime", "request_id": "r1"})

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal_error", envelope.Error)
	assert.Equal(t, "internal capability error", envelope.Detail)
	assert.NotContains(t, envelope.Detail, "dataset", "handler errors must not leak")

	rec := env.auditor.last(t)
	assert.Equal(t, audit.DecisionError, rec.Decision)
}

func TestGateway_NoStoreOnEveryResponse(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)

	resp, _ := callCap(t, env, nil, map[string]any{"cap": "core.asset.snapshot", "request_id": "r1"})
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, _ = callCap(t, env, authedHeaders(t, "read:core.asset.snapshot"),
		map[string]any{"cap": "core.asset.snapshot", "request_id": "r2"})
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestGateway_TraceIDFreshPerAttempt(t *testing.T) {
	env := newGwEnv(t, gwSecret, false)
	headers := authedHeaders(t, "read:core.asset.snapshot")
	// Клиентский X-Trace-Id игнорируется
	headers["X-Trace-Id"] = "spoofed"
	body := map[string]any{"cap": "core.asset.snapshot", "request_id": "same"}

	_, first := callCap(t, env, headers, body)
	_, second := callCap(t, env, headers, body)

	assert.NotEqual(t, "spoofed", first.Meta.TraceID)
	assert.NotEqual(t, first.Meta.TraceID, second.Meta.TraceID,
		"retries with one request_id get distinct trace ids")
}

// Отказ хранилища аудита не должен ломать пользовательский ответ.
func TestGateway_AuditStorageFailureDoesNotBreakResponse(t *testing.T) {
	registry := NewRegistry()
	registry.Register("debug.echo", Capability{
		Handler: func(ctx context.Context, input map[string]any) (*domain.CapResult, error) {
			return &domain.CapResult{Payload: map[string]any{}, AsOf: "now"}, nil
		},
	})

	recorder := audit.NewRecorder(failingStorage{}, zap.NewNop(), audit.RecorderOptions{
		BufferSize:    8,
		FlushInterval: 10 * time.Millisecond,
	})
	recorder.Start()
	defer recorder.Stop()

	core := NewCore(CoreDeps{
		Verifier: auth.NewVerifier(gwSecret),
		Scopes:   policy.NewScopeEnforcer(nil),
		Registry: registry,
		Cache:    NewResultCache(nil),
		Bypass:   staticBypass(false),
		Auditor:  recorder,
		Metrics:  NewMetrics(nil),
		Logger:   zap.NewNop(),
	})

	server := httptest.NewServer(TracingMiddleware(http.HandlerFunc(core.HandleCap)))
	defer server.Close()

	raw, _ := json.Marshal(map[string]any{"cap": "debug.echo", "request_id": "r1"})
	req, _ := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader(raw))
	req.Header.Set("X-Agent-Id", "tg-bot")
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "tg-bot", nil))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type failingStorage struct{}

func (failingStorage) EnsureSchema(ctx context.Context) error { return errors.New("pg down") }
func (failingStorage) InsertBatch(ctx context.Context, records []audit.Record) error {
	return errors.New("pg down")
}
