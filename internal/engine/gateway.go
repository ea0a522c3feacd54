package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eventedge/hypepipe/internal/audit"
	"github.com/eventedge/hypepipe/internal/domain"
	"github.com/eventedge/hypepipe/internal/infra/auth"
	"github.com/eventedge/hypepipe/internal/policy"
)

// RequestVerifier проверяет токен и привязку X-Agent-Id.
type RequestVerifier interface {
	VerifyRequest(agentHeader, authHeader string) (*domain.AgentClaims, error)
}

// CacheSwitch сообщает, выключен ли сейчас кэш результатов.
type CacheSwitch interface {
	Enabled() bool
}

// Core — оркестратор шлюза: auth -> scope -> registry -> cache ->
// handler -> audit. Единственная точка, где собирается конверт ответа
// и пишется ровно одна строка аудита на обращение.
type Core struct {
	verifier RequestVerifier
	scopes   *policy.ScopeEnforcer
	registry *Registry
	cache    *ResultCache
	bypass   CacheSwitch
	auditor  audit.Auditor
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type CoreDeps struct {
	Verifier RequestVerifier
	Scopes   *policy.ScopeEnforcer
	Registry *Registry
	Cache    *ResultCache
	Bypass   CacheSwitch
	Auditor  audit.Auditor
	Metrics  *Metrics
	Logger   *zap.Logger
	Now      func() time.Time // nil = time.Now
}

func NewCore(deps CoreDeps) *Core {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Core{
		verifier: deps.Verifier,
		scopes:   deps.Scopes,
		registry: deps.Registry,
		cache:    deps.Cache,
		bypass:   deps.Bypass,
		auditor:  deps.Auditor,
		metrics:  deps.Metrics,
		logger:   deps.Logger.Named("gateway"),
		now:      deps.Now,
	}
}

// HandleHealth — неаутентифицированный liveness-чек.
func (c *Core) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      true,
		"service": "hypepipe",
		"ts":      c.now().UTC().Format(time.RFC3339),
	})
}

// capCall — всё состояние одного обращения, чтобы не таскать десяток
// аргументов между шагами.
type capCall struct {
	req     domain.CapRequest
	claims  *domain.AgentClaims
	agentID string
	traceID string
	started time.Time
}

// HandleCap — единственная RPC-точка шлюза.
func (c *Core) HandleCap(w http.ResponseWriter, r *http.Request) {
	call := &capCall{
		started: c.now(),
		traceID: TraceID(r.Context()),
		agentID: "unknown",
	}

	// ---- 0. Разбор конверта (до аудита: нечего еще записывать) ----
	if err := json.NewDecoder(r.Body).Decode(&call.req); err != nil {
		c.writeResponse(w, http.StatusBadRequest, call, domain.CapResponse{
			OK:     false,
			Error:  "bad_request",
			Detail: "malformed JSON body",
		})
		return
	}
	call.req.RequestID = strings.TrimSpace(call.req.RequestID)
	if call.req.RequestID == "" {
		c.writeResponse(w, http.StatusBadRequest, call, domain.CapResponse{
			OK:     false,
			Error:  "bad_request",
			Detail: "request_id required",
		})
		return
	}

	// ---- 1. Аутентификация + привязка агента ----
	agentHeader := r.Header.Get("X-Agent-Id")
	if agentHeader != "" {
		call.agentID = agentHeader
	}

	claims, err := c.verifier.VerifyRequest(agentHeader, r.Header.Get("Authorization"))
	if err != nil {
		var denyErr *auth.DenyError
		if errors.As(err, &denyErr) {
			c.finish(w, http.StatusUnauthorized, call, audit.DecisionDeny, string(denyErr.Reason),
				domain.CapResponse{OK: false, Error: string(denyErr.Reason), Detail: denyErr.Detail})
			return
		}
		// Секрет не сконфигурирован: это сбой сервера, а не отказ вызывающему
		c.logger.Error("auth verification failed", zap.Error(err), zap.String("trace_id", call.traceID))
		c.finish(w, http.StatusInternalServerError, call, audit.DecisionError, "auth_config",
			domain.CapResponse{OK: false, Error: "server_error", Detail: "server auth configuration missing"})
		return
	}
	call.claims = claims
	call.agentID = claims.AgentID

	// ---- 2. Scope policy ----
	if missing, ok := c.scopes.Authorize(claims, call.req.Cap); !ok {
		c.finish(w, http.StatusForbidden, call, audit.DecisionScopeDenied, string(domain.DenyScope),
			domain.CapResponse{
				OK:     false,
				Error:  "scope_denied",
				Detail: "missing required scope '" + missing + "'",
			})
		return
	}

	// ---- 3. Реестр способностей ----
	capability, known := c.registry.Resolve(call.req.Cap)
	if !known {
		c.finish(w, http.StatusBadRequest, call, audit.DecisionUnknownCap, string(domain.DenyUnknownCap),
			domain.CapResponse{
				OK:        false,
				Error:     "unknown capability '" + call.req.Cap + "'",
				KnownCaps: c.registry.Known(),
			})
		return
	}

	// ---- 4. Кэш ----
	// Кэшируемость решают TTL способности и глобальный bypass;
	// freshness_s влияет только на допустимый возраст при чтении.
	cacheable := capability.TTL > 0 && !c.bypass.Enabled()
	cacheKey := ""
	if cacheable {
		cacheKey = CacheKey(call.req.Cap, call.req.Input)
		maxAge := EffectiveMaxAge(capability.TTL, call.req.Opts.FreshnessS)
		if payload, asOf, hit := c.cache.Get(cacheKey, maxAge); hit {
			c.countCache(call.req.Cap, "hit")
			hitFlag := true
			c.finish(w, http.StatusOK, call, audit.DecisionAllow, "",
				domain.CapResponse{OK: true, Data: payload, Meta: domain.CapMeta{AsOf: &asOf, CacheHit: &hitFlag}})
			return
		}
		c.countCache(call.req.Cap, "miss")
	} else if capability.TTL > 0 {
		c.countCache(call.req.Cap, "bypass")
	}

	// ---- 5. Хендлер ----
	result, err := capability.Handler(r.Context(), call.req.Input)
	if err != nil {
		// Деталей наружу не отдаем: текст ошибки хендлера может
		// содержать внутренние ключи датасетов
		c.logger.Error("capability handler failed",
			zap.String("cap", call.req.Cap),
			zap.String("trace_id", call.traceID),
			zap.Error(err))
		c.finish(w, http.StatusInternalServerError, call, audit.DecisionError, "",
			domain.CapResponse{OK: false, Error: "internal_error", Detail: "internal capability error"})
		return
	}

	// Сохраняем даже при форсированном промахе (freshness_s=0): свежий
	// результат полезен следующему вызову с обычным TTL.
	if cacheable {
		c.cache.Put(cacheKey, result.Payload, result.AsOf)
	}

	resp := domain.CapResponse{OK: true, Data: result.Payload, Meta: domain.CapMeta{AsOf: &result.AsOf}}
	if cacheable {
		hitFlag := false
		resp.Meta.CacheHit = &hitFlag
	}
	c.finish(w, http.StatusOK, call, audit.DecisionAllow, "", resp)
}

// finish пишет строку аудита, метрики и отдает ответ.
// Единственный выход изо всех веток после шага разбора конверта.
func (c *Core) finish(w http.ResponseWriter, status int, call *capCall, decision, denyReason string, resp domain.CapResponse) {
	latency := c.now().Sub(call.started).Milliseconds()

	rec := audit.Record{
		Ts:         c.now().UTC(),
		AgentID:    call.agentID,
		UserID:     call.req.Ctx.UserID,
		Cap:        call.req.Cap,
		RequestID:  call.req.RequestID,
		TraceID:    call.traceID,
		Decision:   decision,
		LatencyMs:  latency,
		DenyReason: denyReason,
		CacheHit:   resp.Meta.CacheHit,
	}
	if call.claims != nil {
		rec.PolicyVersion = call.claims.PolicyVersion
	}
	if resp.Meta.AsOf != nil {
		rec.AsOf = *resp.Meta.AsOf
	}
	c.auditor.Log(rec)

	if c.metrics != nil {
		c.metrics.RequestDuration.WithLabelValues(call.req.Cap, decision).
			Observe(float64(latency) / 1000)
		c.metrics.TotalRequests.WithLabelValues(call.agentID, call.req.Cap).Inc()
	}

	c.writeResponse(w, status, call, resp)
}

func (c *Core) writeResponse(w http.ResponseWriter, status int, call *capCall, resp domain.CapResponse) {
	resp.Meta.Cap = call.req.Cap
	resp.Meta.TraceID = call.traceID

	w.Header().Set("Content-Type", "application/json")
	// Кэшировать ответы шлюза могут только мы сами
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (c *Core) countCache(capID, outcome string) {
	if c.metrics != nil {
		c.metrics.CacheEvents.WithLabelValues(capID, outcome).Inc()
	}
}
