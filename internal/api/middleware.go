package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// responseWriter captures status code and bytes written for logging and
// metrics. Write-before-WriteHeader counts as an implicit 200.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingConfig controls which requests the access log records.
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
}

// DefaultLoggingConfig skips health probe noise.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{LogHealthChecks: false}
}

var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
}

// Logger returns access-logging middleware.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkipLog(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			logging.Info("%s %s %s %d %d %dms",
				clientIP(r),
				sanitizeLogField(r.Method),
				sanitizeLogField(r.URL.Path),
				wrapped.statusCode,
				wrapped.bytesWritten,
				time.Since(start).Milliseconds())
		})
	}
}

func shouldSkipLog(path string, config LoggingConfig) bool {
	for _, skip := range config.SkipPaths {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}
	return !config.LogHealthChecks && healthCheckPaths[path]
}

// sanitizeLogField strips control characters that could forge log lines.
func sanitizeLogField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteRune(' ')
		case r == '\x00' || r == '\x1b':
			continue
		case r < 0x20 && r != '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// MetricsConfig holds the paths excluded from request metrics.
type MetricsConfig struct {
	SkipPaths []string
}

// DefaultMetricsConfig excludes self-observation endpoints.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SkipPaths: []string{"/metrics", "/health", "/healthz", "/livez", "/readyz"},
	}
}

// Metrics returns middleware recording request counts and latencies.
func Metrics(config MetricsConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range config.SkipPaths {
				if strings.HasPrefix(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			wrapped := newResponseWriter(w)
			start := time.Now()
			next.ServeHTTP(wrapped, r)

			path := normalizePath(r.URL.Path)
			status := strconv.Itoa(wrapped.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath caps label cardinality by collapsing deep dynamic segments.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i > 3 {
			parts[i] = "{path}"
			return strings.Join(parts[:i+1], "/")
		}
	}
	return path
}
