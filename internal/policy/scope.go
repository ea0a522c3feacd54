package policy

import "github.com/eventedge/hypepipe/internal/domain"

// ScopeEnforcer — статическая таблица «способность -> требуемый scope».
// Таблица фиксируется в коде при старте и не администрируется в рантайме.
// Способность без записи в таблице открыта любому аутентифицированному
// вызывающему (scope не требуется).
type ScopeEnforcer struct {
	required map[string]string
}

// DefaultScopeTable — боевая таблица шлюза.
func DefaultScopeTable() map[string]string {
	return map[string]string{
		"core.asset.snapshot": "read:core.asset.snapshot",
		"macro.regime":        "read:macro.regime",
		"macro.pillars":       "read:macro.pillars",
	}
}

func NewScopeEnforcer(table map[string]string) *ScopeEnforcer {
	if table == nil {
		table = map[string]string{}
	}
	return &ScopeEnforcer{required: table}
}

// Authorize проверяет наличие требуемого scope в наборе вызывающего.
// Сравнение точное, case-sensitive, без иерархий и wildcard.
// Возвращает недостающий scope и флаг допуска.
func (e *ScopeEnforcer) Authorize(claims *domain.AgentClaims, capID string) (missing string, ok bool) {
	required, exists := e.required[capID]
	if !exists || required == "" {
		return "", true
	}
	if claims.HasScope(required) {
		return "", true
	}
	return required, false
}
