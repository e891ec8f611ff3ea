package middleware

import (
	"encoding/json"
	"net"
	"net/http"
)

// RateLimit rejects requests with 429 once the limiter denies their key.
// keyOf defaults to the client address.
func RateLimit(l Limiter, keyOf func(*http.Request) string) func(http.Handler) http.Handler {
	if keyOf == nil {
		keyOf = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(r.Context(), r.URL.Path+"|"+keyOf(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the remote host of the request without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
