package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tropiwallet/wallet-service/internal/app"
	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

type contextKey string

const sessionUserIDContextKey contextKey = "sessionUserID"

// SessionAuthMiddleware requires a session bearer token whose subject is the
// {userId} of the route. It is a no-op when tokens are disabled.
func SessionAuthMiddleware(tokens *app.SessionTokens, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !tokens.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(strings.TrimSpace(r.Header.Get("Authorization")))
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: tropipay.KindAuthentication, Message: "Authorization required"})
				return
			}
			subject, err := tokens.Verify(tokenString)
			if err != nil {
				logger.Debug("rejected session token", "component", "api", "error", err)
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: tropipay.KindAuthentication, Message: "Invalid or expired session"})
				return
			}
			if routeUserID := chi.URLParam(r, "userId"); routeUserID != "" && routeUserID != subject {
				logger.Warn("session token does not match route user", "component", "api", "token_user_id", subject, "route_user_id", routeUserID)
				writeJSON(w, http.StatusForbidden, errorResponse{Error: tropipay.KindAuthentication, Message: "Forbidden"})
				return
			}
			ctx := context.WithValue(r.Context(), sessionUserIDContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionUserID returns the user id of a verified session token from context.
func GetSessionUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(sessionUserIDContextKey).(string)
	return userID, ok
}

func bearerToken(authHeader string) (string, bool) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// RateLimitMiddleware throttles requests per {userId}. Limiter failures let the
// request through.
func RateLimitMiddleware(limiter app.RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := chi.URLParam(r, "userId")
			allowed, retryAfter, err := limiter.Allow(r.Context(), subject)
			if err != nil {
				logger.Warn("rate limiter unavailable", "component", "api", "user_id", subject, "error", err)
			}
			if !allowed {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error:      tropipay.KindRateLimit,
					Message:    "Too many transfer requests, please wait a moment and try again",
					RetryAfter: seconds,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
