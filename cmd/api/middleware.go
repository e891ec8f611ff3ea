package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/auth"
	"github.com/PaulBabatuyi/recircle-chat/internal/data"
	"github.com/PaulBabatuyi/recircle-chat/internal/metrics"
)

// context key type for storing auth claims in context
type authContextKey struct{}

// withClaims attaches verified claims to ctx.
func withClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, authContextKey{}, c)
}

// getClaimsFromContext extracts auth claims from the context, if present.
func getClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(authContextKey{}).(*auth.Claims)
	return c, ok && c != nil
}

// Messages of the three 401 cases.
const (
	msgMissingToken = "unauthorised request"
	msgExpired      = "Session expired"
	msgInvalid      = "unauthorised access"
)

// requireAuth verifies the bearer token and that its user still exists.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := auth.BearerToken(r.Header.Get("Authorization"))
		claims, err := s.auth.VerifyToken(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				writeMessage(w, http.StatusUnauthorized, msgMissingToken)
			case errors.Is(err, auth.ErrTokenExpired):
				writeMessage(w, http.StatusUnauthorized, msgExpired)
			default:
				writeMessage(w, http.StatusUnauthorized, msgInvalid)
			}
			return
		}

		if _, err := s.users.FindProfile(r.Context(), claims.UserID); err != nil {
			if errors.Is(err, data.ErrNotFound) || errors.Is(err, data.ErrInvalidID) {
				writeMessage(w, http.StatusUnauthorized, msgInvalid)
				return
			}
			s.serverError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// withRequestLogging logs every request and counts it by route pattern.
// The ResponseWriter wrapper keeps http.Hijacker so WebSocket upgrades work.
func withRequestLogging(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(lrw.status)).Inc()

		log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	// A hijacked connection reports 101 rather than the default 200.
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *loggingResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
