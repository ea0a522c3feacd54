package domain

// CapContext — контекст вызова, передается агентом информативно.
// agent_id здесь сверяется с токеном на уровне транспорта (X-Agent-Id),
// user_id уходит в аудит как есть.
type CapContext struct {
	AgentID string `json:"agent_id,omitempty"`
	UserID  *int64 `json:"user_id,omitempty"`
	Tier    string `json:"tier,omitempty"`
}

// CapOpts — опции конкретного вызова.
// FreshnessS позволяет запросить данные свежее дефолтного TTL,
// но никогда не старее (клампится шлюзом).
type CapOpts struct {
	FreshnessS *int `json:"freshness_s,omitempty"`
	Trace      bool `json:"trace,omitempty"`
}

// CapRequest — один входящий вызов /cap.
// RequestID задает вызывающий (ретраи должны быть различимы),
// сервер его не генерирует.
type CapRequest struct {
	Cap       string         `json:"cap"`
	Input     map[string]any `json:"input"`
	Ctx       CapContext     `json:"ctx"`
	Opts      CapOpts        `json:"opts"`
	RequestID string         `json:"request_id"`
}

// CapMeta — метаданные ответа. TraceID генерируется сервером на каждую
// попытку и не совпадает с request_id.
type CapMeta struct {
	Cap      string  `json:"cap"`
	TraceID  string  `json:"trace_id"`
	AsOf     *string `json:"asof"`
	CacheHit *bool   `json:"cache_hit"`
}

// CapResponse — единый конверт ответа на любом пути (успех/отказ/ошибка).
type CapResponse struct {
	OK        bool     `json:"ok"`
	Data      any      `json:"data,omitempty"`
	Error     string   `json:"error,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	KnownCaps []string `json:"known_caps,omitempty"`
	Meta      CapMeta  `json:"meta"`
}

// CapResult — результат работы хендлера способности.
// AsOf заполняется всегда, даже если исходный снапшот отсутствует
// (хендлер синтезирует "сейчас"). Note != "" означает деградированный
// (заглушечный) результат; шлюз трактует его как обычный успех.
type CapResult struct {
	Payload map[string]any
	AsOf    string
	Note    string
}

// Degraded сообщает, собран ли результат из заглушки.
func (r *CapResult) Degraded() bool {
	return r.Note != ""
}

// GatewayStats — агрегаты для дашборда консоли за последний час.
type GatewayStats struct {
	Activity  ActivityStats `json:"activity"`  // Нагрузка и трафик
	Incidents IncidentStats `json:"incidents"` // Отказы и сбои
	Quality   QualityStats  `json:"quality"`   // SLO/SLI (Latency, кэш)
}

type ActivityStats struct {
	RPS           float64 `json:"rps"`
	TotalRequests int64   `json:"total_requests"`
	UniqueAgents  int64   `json:"unique_agents"`
}

type IncidentStats struct {
	Denied       int64 `json:"denied"`        // deny + scope_denied + unknown_cap
	HandlerFails int64 `json:"handler_fails"` // decision = error
}

type QualityStats struct {
	P95Latency float64 `json:"p95_latency_ms"`
	CacheHits  int64   `json:"cache_hits"`
}
