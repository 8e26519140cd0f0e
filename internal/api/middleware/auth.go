package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/subtitler/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// Auth guards mutating routes with a single shared API key, stored only as
// a bcrypt hash. With no hash configured every request passes.
type Auth struct {
	hash []byte
}

// NewAuth creates a new Auth middleware from a bcrypt hash.
func NewAuth(keyHash string) *Auth {
	return &Auth{hash: []byte(keyHash)}
}

// Enabled reports whether a key is required.
func (a *Auth) Enabled() bool {
	return len(a.hash) > 0
}

// Authenticate validates the Bearer token against the configured hash.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.hash, []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
