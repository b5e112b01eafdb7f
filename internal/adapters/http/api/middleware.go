package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/okian/duel/pkg/metrics"
)

// routeOps names the engine operation behind each instrumented route pattern.
var routeOps = map[string]string{
	"/healthz":                 "health",
	"/stats":                   "stats",
	"/candidates":              "select_candidates",
	"/battles":                 "submit_battle",
	"/images":                  "import_images",
	"/leaderboards":            "list_leaderboards",
	"/leaderboards/":           "list_leaderboards",
	"/leaderboards/regenerate": "force_regenerate",
	"/leaderboards/{key}":      "get_leaderboard",
}

// operation resolves the metrics label of a request after routing. Requests
// that matched no route share one label to keep cardinality bounded.
func operation(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if op, ok := routeOps[rctx.RoutePattern()]; ok {
		return op
	}
	return "unmatched"
}

// instrument records request count, latency and error class per operation.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		op := operation(r)
		code := strconv.Itoa(status)
		ms := float64(time.Since(start).Microseconds()) / 1000
		metrics.RecordHTTPRequest(op, r.Method, code)
		metrics.RecordHTTPRequestDuration(op, r.Method, code, ms)

		if status >= http.StatusBadRequest {
			class := errorClass(op, status)
			metrics.RecordErrorByEndpoint(op, r.Method, class)
			metrics.RecordErrorByType(class, errorSeverity(status))
			metrics.RecordErrorLatency("http", class, ms)
		}
	})
}

// errorClass maps a failed response to a label in terms of what the caller
// was trying to do.
func errorClass(op string, status int) string {
	switch {
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "battle_rate_limited"
	case status == http.StatusConflict && op == "force_regenerate":
		return "regeneration_in_progress"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusNotFound && op == "submit_battle":
		return "unknown_image"
	case status == http.StatusNotFound:
		return "not_found"
	case status >= http.StatusBadRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

func errorSeverity(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "high"
	case status >= http.StatusBadRequest:
		return "medium"
	default:
		return "low"
	}
}
