package audit

import "time"

// Decision — терминальный исход одного обращения к шлюзу.
// Единая шкала: причина отказа всегда дублируется кодом в DenyReason,
// так что auth-отказы и scope-отказы не смешиваются в один бакет.
const (
	DecisionAllow       = "allow"
	DecisionDeny        = "deny" // отказ аутентификации
	DecisionScopeDenied = "scope_denied"
	DecisionUnknownCap  = "unknown_cap"
	DecisionError       = "error"
)

// Record — одна неизменяемая строка аудита на каждое обращение.
// TraceID генерируется сервером на попытку; RequestID приходит от
// вызывающего и при ретраях повторяется.
type Record struct {
	Ts            time.Time `json:"ts"`
	AgentID       string    `json:"agent_id"`
	UserID        *int64    `json:"user_id,omitempty"`
	Cap           string    `json:"cap"`
	RequestID     string    `json:"request_id"`
	TraceID       string    `json:"trace_id"`
	Decision      string    `json:"decision"`
	LatencyMs     int64     `json:"latency_ms"`
	PolicyVersion string    `json:"policy_version,omitempty"`
	DenyReason    string    `json:"deny_reason,omitempty"`
	AsOf          string    `json:"asof,omitempty"`
	CacheHit      *bool     `json:"cache_hit,omitempty"`
}
