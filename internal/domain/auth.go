package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tier — классификация вызывающего агента. Закрытый список,
// токен с любым другим значением считается невалидным.
type Tier string

const (
	TierReadonly     Tier = "readonly"
	TierPaper        Tier = "paper"
	TierOrchestrator Tier = "orchestrator"
)

func (t Tier) Valid() bool {
	switch t {
	case TierReadonly, TierPaper, TierOrchestrator:
		return true
	}
	return false
}

// DenyReason — словарь причин отказа. Коды попадают и в тело ответа,
// и в колонку deny_reason аудита, поэтому менять их нельзя без миграции.
type DenyReason string

const (
	DenyMissingHeader DenyReason = "missing_header"
	DenyMissingToken  DenyReason = "missing_token"
	DenyInvalidToken  DenyReason = "invalid_token"
	DenyExpired       DenyReason = "expired"
	DenyAgentMismatch DenyReason = "agent_mismatch"
	DenyScope         DenyReason = "scope_denied"
	DenyUnknownCap    DenyReason = "unknown_cap"
)

// AgentClaims — проверенная личность вызывающего для одного запроса.
// Конструируется только верификатором токенов, никогда не кэшируется.
type AgentClaims struct {
	AgentID       string   `json:"agent_id"`
	Scopes        []string `json:"scopes"`
	Tier          string   `json:"tier"`
	PolicyVersion string   `json:"policy_version,omitempty"`
	jwt.RegisteredClaims
}

// HasScope — точное сравнение строк, без иерархий и wildcard.
func (c *AgentClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Secure Token Issuing (консоль)
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Никогда не отправляем на фронт
	Tier         string    `json:"tier"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
