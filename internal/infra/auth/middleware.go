package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/eventedge/hypepipe/internal/domain"
)

// TokenValidator — интерфейс, который реализует Verifier.
// Консоль использует его для защищенного периметра.
type TokenValidator interface {
	Verify(tokenStr string) (*domain.AgentClaims, error)
}

type claimsKey struct{}

// ClaimsFromContext достает проверенные claims после NewMiddleware.
func ClaimsFromContext(ctx context.Context) *domain.AgentClaims {
	c, _ := ctx.Value(claimsKey{}).(*domain.AgentClaims)
	return c
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.Verify(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем проверенные claims в контекст
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
