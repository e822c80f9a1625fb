package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware records HTTP metrics
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(ww.Status())

		// Use the route pattern if available (to avoid high cardinality)
		routePattern := ""
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			routePattern = rctx.RoutePattern()
		}
		if routePattern == "" {
			routePattern = req.URL.Path
		}

		r.httpRequestsTotal.WithLabelValues(req.Method, routePattern, status).Inc()
		r.httpRequestDuration.WithLabelValues(req.Method, routePattern, status).Observe(duration)
	})
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
