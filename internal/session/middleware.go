package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/response"
)

type claimsContextKey struct{}

// FromContext returns the claims stored by RequireBearer.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return c, ok
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// RequireBearer rejects requests without a valid "Authorization: Bearer" token.
// A missing or malformed header and an invalid token answer 401, an expired
// token answers 403.
func RequireBearer(codec *Codec, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				response.Error(w, http.StatusUnauthorized, response.CodeTokenMissing, "Access token required")
				return
			}

			claims, err := codec.Verify(token)
			switch {
			case errors.Is(err, ErrTokenExpired):
				logger.Debugw("expired token", "path", r.URL.Path)
				response.Error(w, http.StatusForbidden, response.CodeTokenExpired, "Token has expired")
				return
			case err != nil:
				logger.Debugw("invalid token", "path", r.URL.Path, "err", err)
				response.Error(w, http.StatusUnauthorized, response.CodeTokenInvalid, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
