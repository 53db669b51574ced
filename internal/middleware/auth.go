// Package middleware holds the HTTP middleware chain: recipient
// authentication, request IDs, and per-client rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"lakeshare/internal/domain"
)

type recipientKey struct{}

// WithRecipient stores the authenticated recipient in the context.
func WithRecipient(ctx context.Context, r domain.RecipientID) context.Context {
	return context.WithValue(ctx, recipientKey{}, r)
}

// RecipientFromContext extracts the recipient from the context. Handlers
// behind the auth middleware can rely on ok being true.
func RecipientFromContext(ctx context.Context) (domain.RecipientID, bool) {
	r, ok := ctx.Value(recipientKey{}).(domain.RecipientID)
	return r, ok
}

// AuthConfig configures the recipient auth middleware.
type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens; the token subject is the
	// recipient name. Empty disables bearer auth.
	JWTSecret []byte
	// AllowAnonymous serves requests without a valid credential as the
	// anonymous recipient instead of rejecting them.
	AllowAnonymous bool
}

// Auth resolves each request to a RecipientID. A valid bearer token wins;
// otherwise the request is either served anonymously or rejected with 401,
// depending on configuration.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := r.Header.Get("Authorization"); len(cfg.JWTSecret) > 0 && strings.HasPrefix(auth, "Bearer ") {
				tokenStr := strings.TrimPrefix(auth, "Bearer ")
				token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
					return cfg.JWTSecret, nil
				}, jwt.WithValidMethods([]string{"HS256"}))

				if err == nil && token.Valid {
					if claims, ok := token.Claims.(jwt.MapClaims); ok {
						if sub, ok := claims["sub"].(string); ok && sub != "" {
							client, err := domain.NewClientID(sub)
							if err != nil {
								writeUnauthorized(w, "token subject is not a valid client name")
								return
							}
							ctx := WithRecipient(r.Context(), client.Recipient())
							next.ServeHTTP(w, r.WithContext(ctx))
							return
						}
					}
				}
				// A presented credential must verify even when anonymous
				// access is open; a forged token is never downgraded.
				writeUnauthorized(w, "invalid bearer token")
				return
			}

			if cfg.AllowAnonymous {
				ctx := WithRecipient(r.Context(), domain.Anonymous)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			writeUnauthorized(w, "missing bearer token")
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"errorCode": "UNAUTHENTICATED",
		"message":   message,
	})
}
