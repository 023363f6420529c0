package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dockpeek/dockpeek/pkg/log"
)

const apiKeyHeader = "X-API-Key"

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs every request with a trace id, generating one when
// the caller did not send it.
func LoggingMiddleware() mux.MiddlewareFunc {
	logger := log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = uuid.NewString()
			}
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("trace_id", traceID).
				Msg("request")
		})
	}
}

// RecoveryMiddleware converts handler panics into 500 responses.
func RecoveryMiddleware() mux.MiddlewareFunc {
	logger := log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware gates every route behind either a valid X-API-Key or the
// admin basic credentials. A disabled gate passes everything through.
func (s *Server) authMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.Auth.Disabled {
				next.ServeHTTP(w, r)
				return
			}

			if key := r.Header.Get(apiKeyHeader); key != "" {
				if s.keys != nil && s.keys.Validate(key) != nil {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			if user, pass, ok := r.BasicAuth(); ok && s.adminCredentialsMatch(user, pass) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("WWW-Authenticate", `Basic realm="dockpeek"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
		})
	}
}

// adminOnlyMiddleware restricts key-management routes to the admin account;
// an API key must not be able to mint more keys.
func (s *Server) adminOnlyMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.Auth.Disabled {
				next.ServeHTTP(w, r)
				return
			}
			if user, pass, ok := r.BasicAuth(); ok && s.adminCredentialsMatch(user, pass) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="dockpeek"`)
			writeError(w, http.StatusUnauthorized, "admin credentials required")
		})
	}
}

func (s *Server) adminCredentialsMatch(user, pass string) bool {
	if s.cfg.Auth.AdminUsername == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Auth.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth.AdminPassword)) == 1
	return userOK && passOK
}

// requestHostname extracts the hostname a request arrived on. Forwarded
// headers are consulted only when proxy headers are trusted, and only the
// value appended by the innermost trusted hop counts: each proxy in the
// chain appends one entry, so with N trusted hops the N-th entry from the
// right is the one our own proxies vouch for.
func (s *Server) requestHostname(r *http.Request) string {
	host := r.Host
	if s.cfg.Proxy.TrustHeaders {
		if fwd := trustedForwardedValue(r.Header.Get("X-Forwarded-Host"), s.cfg.Proxy.TrustedHops); fwd != "" {
			host = fwd
		}
	}
	if strings.Contains(host, ":") {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
	}
	return host
}

// trustedForwardedValue picks the entry of a comma-separated forwarded
// header contributed by the innermost of hops trusted proxies. Anything
// further left was supplied by the client and is not trusted.
func trustedForwardedValue(header string, hops int) string {
	if header == "" || hops < 1 {
		return ""
	}
	entries := strings.Split(header, ",")
	idx := len(entries) - hops
	if idx < 0 {
		idx = 0
	}
	return strings.TrimSpace(entries[idx])
}
