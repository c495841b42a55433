package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/api"
)

// Define a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key used to store the access token claims in the context
	ClaimsContextKey contextKey = "claims"
)

type AuthMiddleware struct {
	service *Service
	log     *zap.Logger
}

func NewAuthMiddleware(service *Service, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		service: service,
		log:     log,
	}
}

// RequireBearer rejects requests without a valid, unrevoked access token.
func (m *AuthMiddleware) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing token", Code: api.CodeInvalidToken})
			return
		}

		claims, err := m.service.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) {
				m.log.Error("token check failed", zap.Error(err))
			}
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: ErrInvalidToken.Error(), Code: api.CodeInvalidToken})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsContextKey, claims)))
	})
}

// GetClaimsFromContext returns the claims stored by RequireBearer.
func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	if !ok {
		return nil, errors.New("claims not found in context")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
