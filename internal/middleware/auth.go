package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const userKey contextKey = iota

// User is the caller identity forwarded by the gateway
type User struct {
	ID   string
	Name string
}

// Auth checks the shared internal API key and reads the forwarded caller
// identity from X-User-ID and X-User-Name. Requests without a user id are
// rejected.
func Auth(apiKey string) func(http.Handler) http.Handler {
	expected := []byte("Bearer " + apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(authHeader), expected) != 1 {
				slog.Warn("Unauthorized request", "path", r.URL.Path, "has_auth", authHeader != "")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID == "" {
				http.Error(w, "Missing X-User-ID header", http.StatusUnauthorized)
				return
			}

			user := User{ID: userID, Name: strings.TrimSpace(r.Header.Get("X-User-Name"))}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser attaches user to ctx
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFrom returns the caller attached by Auth
func UserFrom(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userKey).(User)
	return user, ok
}
