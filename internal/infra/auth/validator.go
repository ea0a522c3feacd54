package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eventedge/hypepipe/internal/domain"
)

// ErrNoSecret — фатальная ошибка конфигурации, не per-request deny.
// Наверх уходит как 500, чтобы операторы отличали «ни один вызов
// не пройдет» от «этот вызывающий не авторизован».
var ErrNoSecret = errors.New("auth: HYPEPIPE_JWT_SECRET is not configured")

// DenyError — типизированный отказ аутентификации с кодом из словаря
// DenyReason. Код уходит в тело 401 и в deny_reason аудита.
type DenyError struct {
	Reason domain.DenyReason
	Detail string
}

func (e *DenyError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Detail
}

func deny(reason domain.DenyReason, detail string) *DenyError {
	return &DenyError{Reason: reason, Detail: detail}
}

// Verifier содержит общую логику проверки HS256.
// Секрет симметричный и один на весь деплой (single shared secret).
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify проверяет подпись и обязательные claims токена.
// Реализует интерфейс auth.TokenValidator.
func (v *Verifier) Verify(tokenStr string) (*domain.AgentClaims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenStr, &domain.AgentClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, deny(domain.DenyExpired, "token expired")
		}
		// Сюда же попадают битые scopes (не список) и отсутствующий exp —
		// все структурные проблемы схлопываются в invalid_token.
		return nil, deny(domain.DenyInvalidToken, "invalid token")
	}

	claims, ok := token.Claims.(*domain.AgentClaims)
	if !ok || !token.Valid {
		return nil, deny(domain.DenyInvalidToken, "invalid claims")
	}

	// Обязательные claims: agent_id, scopes, tier, exp
	if claims.AgentID == "" || claims.Scopes == nil || claims.ExpiresAt == nil {
		return nil, deny(domain.DenyInvalidToken, "missing required claims")
	}
	if !domain.Tier(claims.Tier).Valid() {
		return nil, deny(domain.DenyInvalidToken, fmt.Sprintf("unknown tier: %s", claims.Tier))
	}

	return claims, nil
}

// VerifyRequest — полная проверка запроса шлюза: токен плюс привязка
// транспортного X-Agent-Id к криптографически проверенному claim.
// Без этой сверки подмена заголовка молча проходила бы под чужим
// валидным токеном.
func (v *Verifier) VerifyRequest(agentHeader, authHeader string) (*domain.AgentClaims, error) {
	if strings.TrimSpace(agentHeader) == "" {
		return nil, deny(domain.DenyMissingHeader, "missing X-Agent-Id header")
	}
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, deny(domain.DenyMissingToken, "missing or invalid Authorization Bearer token")
	}
	if strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")) == "" {
		return nil, deny(domain.DenyMissingToken, "empty bearer token")
	}

	claims, err := v.Verify(authHeader)
	if err != nil {
		return nil, err
	}

	if claims.AgentID != agentHeader {
		return nil, deny(domain.DenyAgentMismatch, "X-Agent-Id header does not match token agent_id claim")
	}

	return claims, nil
}
