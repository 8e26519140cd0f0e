package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// ClientIP resolves the caller's address once per request and stores it in
// the context. The first X-Forwarded-For hop wins over RemoteAddr.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetClientIP(r.Context(), resolveClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func SetClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// GetClientIP returns the address stored by ClientIP, or resolves it from
// the request when the middleware did not run.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return resolveClientIP(r)
}

func resolveClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
