// Package mw contains HTTP middleware shared by the services.
package mw

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"vowmarket/internal/http/response"
	"vowmarket/internal/lib/jwt"
	"vowmarket/internal/lib/sl"
)

type ctxKey struct{}

// TokenParser is satisfied by jwt.Maker.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.Claims, error)
}

// Authenticate rejects requests without a valid bearer token and stores the
// token claims in the request context.
func Authenticate(log *slog.Logger, parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				response.Write(w, r, http.StatusUnauthorized, response.Error("missing or invalid authorization header"))
				return
			}
			claims, err := parser.ParseToken(tokenStr)
			if err != nil {
				log.Info("rejected bearer token",
					slog.String("request_id", middleware.GetReqID(r.Context())),
					sl.Err(err))
				response.Write(w, r, http.StatusUnauthorized, response.Error("invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole lets the request through only if the token carries role.
// It must run after Authenticate.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				response.Write(w, r, http.StatusUnauthorized, response.Error("missing or invalid authorization header"))
				return
			}
			if claims.Role != role {
				response.Write(w, r, http.StatusForbidden, response.Error("forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithClaims(ctx context.Context, claims *jwt.Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

func ClaimsFrom(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*jwt.Claims)
	return claims, ok && claims != nil
}

// AccountID returns the authenticated account, or uuid.Nil.
func AccountID(ctx context.Context) uuid.UUID {
	if claims, ok := ClaimsFrom(ctx); ok {
		return claims.AccountID
	}
	return uuid.Nil
}
