package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pliu/roomchat/internal/metrics"
)

// Metrics records Prometheus request counters and latencies.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := wrap(w)
		next.ServeHTTP(ww, r)

		path := normalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses room ids and static assets to keep label
// cardinality bounded.
func normalizePath(path string) string {
	switch {
	case path == "/", path == "/ws", path == "/healthz", path == "/metrics", path == "/api/rooms":
		return path
	case strings.HasPrefix(path, "/api/rooms/"):
		if strings.HasSuffix(path, "/check-password") {
			return "/api/rooms/:id/check-password"
		}
		return "/api/rooms/:id"
	case strings.HasPrefix(path, "/api/"):
		return "/api/other"
	default:
		return "/static"
	}
}
