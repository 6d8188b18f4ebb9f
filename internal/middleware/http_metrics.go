package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion in metrics, mapping
// /v1/records/note/123/revision to /v1/records/{type}/{id}/revision.
func normalizePath(path string) string {
	staticRoutes := map[string]bool{
		"/":                 true,
		"/v1/audited-types": true,
		"/v1/notes":         true,
		"/health":           true,
		"/metrics":          true,
	}
	if staticRoutes[path] {
		return path
	}

	if strings.HasPrefix(path, "/v1/notes/") {
		if parts := strings.Split(path, "/"); len(parts) == 4 && parts[3] != "" {
			return "/v1/notes/{id}"
		}
	}

	if strings.HasPrefix(path, "/v1/records/") {
		parts := strings.Split(path, "/")
		// /v1/records/{type}/{id}
		if len(parts) == 5 && parts[3] != "" && parts[4] != "" {
			return "/v1/records/{type}/{id}"
		}
		// /v1/records/{type}/{id}/latest|revision|undo
		if len(parts) == 6 {
			switch parts[5] {
			case "latest", "revision", "undo":
				return "/v1/records/{type}/{id}/" + parts[5]
			}
		}
	}

	// Fallback: return as-is so new routes still get counted.
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// HTTPMetrics records duration, counts, and response sizes per request.
// Health check endpoints are excluded to avoid noise.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				mrw.size,
			)
		})
	}
}
