package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kami.app/kami-server/internal/auth"
	"kami.app/kami-server/internal/store"
)

type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

// UserFromContext returns the user set by AuthMiddleware.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userKey).(*store.User)
	return user, ok
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthMiddleware resolves the bearer token and stores the user in the request context.
// With allowQuery the token may also come from the "token" query parameter, which
// browsers need for websocket connections.
func (h *APIHandler) AuthMiddleware(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && allowQuery {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				h.sendError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			user, ok := h.resolve(w, r, token)
			if !ok {
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolve writes the error response itself and reports whether the caller may continue.
func (h *APIHandler) resolve(w http.ResponseWriter, r *http.Request, token string) (*store.User, bool) {
	user, err := h.sessions.Resolve(r.Context(), token)
	if errors.Is(err, auth.ErrInvalidToken) {
		h.logger.Debug("Rejected token", zap.String("path", r.URL.Path))
		h.sendError(w, "Invalid token", http.StatusUnauthorized)
		return nil, false
	}
	if err != nil {
		h.internalError(w, r, "Failed to resolve session", err)
		return nil, false
	}
	return user, true
}
