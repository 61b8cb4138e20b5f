package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey int

const operatorKey contextKey = iota

// WithOperator attaches an authenticated operator id to the context.
func WithOperator(ctx context.Context, operator uuid.UUID) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

// OperatorID returns the operator the request was authenticated as. The
// second return is false when authentication is disabled.
func OperatorID(ctx context.Context) (uuid.UUID, bool) {
	operator, ok := ctx.Value(operatorKey).(uuid.UUID)
	return operator, ok
}

// RequireAuth wraps a handler with HS256 bearer token verification. The
// token's subject claim is the operator id and is made available to handlers
// via OperatorID. /health stays open for load balancer probes. An empty
// secret disables authentication entirely.
func RequireAuth(secret string, next http.Handler) http.Handler {
	if secret == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			writeError(w, http.StatusUnauthorized, "token has no subject")
			return
		}
		operator, err := uuid.Parse(sub)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "token subject is not an operator id")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operator)))
	})
}
