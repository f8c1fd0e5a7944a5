package monitoring

import "github.com/prometheus/client_golang/prometheus"

var (
	HttpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method"},
	)

	HttpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	SchemaColumnsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_columns_created_total",
			Help: "Total number of dynamic post columns provisioned",
		},
		[]string{"type"},
	)

	UploadedFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploaded_files_total",
			Help: "Total number of uploaded files by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HttpRequestsTotal,
		HttpRequestDuration,
		ActiveConnections,
		SchemaColumnsCreated,
		UploadedFiles,
	)
}
