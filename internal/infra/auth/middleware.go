package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/api/respond"
	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

// TokenValidator - интерфейс проверки токена (RS256)
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey string

const claimsKey ctxKey = "claims"

// ClaimsFromContext возвращает claims, положенные middleware.
func ClaimsFromContext(ctx context.Context) (*domain.CustomClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*domain.CustomClaims)
	return c, ok
}

// NewMiddleware пропускает только запросы с валидным Bearer токеном.
// Если requiredScope не пуст, токен обязан его выдавать.
func NewMiddleware(v TokenValidator, requiredScope string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, http.StatusUnauthorized, "missing access token")
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.Error(err))
				deny(w, http.StatusUnauthorized, "invalid access token")
				return
			}

			if requiredScope != "" && !claims.Scopes[requiredScope] {
				logger.Warn("scope denied",
					zap.String("user_id", claims.UserID),
					zap.String("scope", requiredScope))
				deny(w, http.StatusForbidden, "token does not grant "+requiredScope)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	respond.JSON(w, status, domain.ErrorResponse{Status: domain.StatusError, Message: msg})
}
