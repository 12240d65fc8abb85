package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/mwexplorer/chainstate/internal/util"
)

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)
		util.Info("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"latency_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)
		latency := float64(time.Since(start).Milliseconds())
		path := normalizePath(r.URL.Path)
		apiRequestsTotal.WithLabelValues(r.Method, path, http.StatusText(ww.statusCode)).Inc()
		apiLatencyMs.WithLabelValues(r.Method, path).Observe(latency)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// normalizePath collapses path parameters to hold metric cardinality down.
func normalizePath(path string) string {
	const prefix = "/api/blockchains/"
	if !strings.HasPrefix(path, prefix) || path == prefix {
		return path
	}
	rest := path[len(prefix):]
	switch {
	case strings.Contains(rest, "/blocks/"):
		return prefix + "{slug}/blocks/{id}"
	case strings.Contains(rest, "/reorgs"):
		return prefix + "{slug}/reorgs/"
	case strings.Contains(rest, "/tip"):
		return prefix + "{slug}/tip/"
	case strings.Contains(rest, "/accepted"):
		return prefix + "{slug}/accepted/"
	case strings.Contains(rest, "/bootstrap"):
		return prefix + "{slug}/bootstrap/"
	default:
		return prefix + "{slug}/"
	}
}
