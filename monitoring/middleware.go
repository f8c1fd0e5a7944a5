package monitoring

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

type ServerMiddleware struct {
	handler http.Handler
}

func (m *ServerMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := routePath(r)
	if path == "/metrics" {
		// Skip collecting metrics from metrics endpoint itself
		m.handler.ServeHTTP(w, r)
		return
	}

	// increment total request counter
	HttpRequestsTotal.WithLabelValues(path, r.Method).Inc()

	// increment number of active connections
	ActiveConnections.Inc()
	defer ActiveConnections.Dec()

	// begin timer to measure the requests duration
	timer := prometheus.NewTimer(HttpRequestDuration.WithLabelValues(path, r.Method))
	defer timer.ObserveDuration()

	m.handler.ServeHTTP(w, r)
}

// routePath - route template keeps label cardinality bounded (/api/posts/{id} instead of every id)
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return "other"
}

func NewServerMiddleware(handlerToWrap http.Handler) http.Handler {
	return &ServerMiddleware{handlerToWrap}
}
