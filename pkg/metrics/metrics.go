package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upload metrics
	ChunksReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fde_chunks_received_total",
			Help: "Total number of chunks accepted by the server",
		},
	)

	ChunkBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fde_chunk_bytes_total",
			Help: "Total chunk payload bytes written to staging",
		},
	)

	ChunkMD5Failures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fde_chunk_md5_failures_total",
			Help: "Total number of chunks rejected for MD5 mismatch",
		},
	)

	UploadsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fde_uploads_completed_total",
			Help: "Total number of chunked uploads merged successfully",
		},
	)

	UploadTasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fde_upload_tasks_active",
			Help: "Number of chunked upload tasks currently staged on disk",
		},
	)

	UploadTasksSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fde_upload_tasks_swept_total",
			Help: "Total number of stale upload tasks removed by the sweeper",
		},
	)

	// Deploy metrics
	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fde_deploys_total",
			Help: "Total number of deploys by environment and result",
		},
		[]string{"env", "result"},
	)

	DeploysRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fde_deploys_running",
			Help: "Number of deploys currently executing",
		},
	)

	DeployDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fde_deploy_duration_seconds",
			Help:    "Deploy command duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"env"},
	)

	DeploysRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fde_deploys_rejected_total",
			Help: "Total number of deploys rejected by the concurrency or cooldown gate",
		},
		[]string{"env"},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fde_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fde_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ChunksReceivedTotal)
	prometheus.MustRegister(ChunkBytesTotal)
	prometheus.MustRegister(ChunkMD5Failures)
	prometheus.MustRegister(UploadsCompletedTotal)
	prometheus.MustRegister(UploadTasksActive)
	prometheus.MustRegister(UploadTasksSwept)
	prometheus.MustRegister(DeploysTotal)
	prometheus.MustRegister(DeploysRunning)
	prometheus.MustRegister(DeployDuration)
	prometheus.MustRegister(DeploysRejected)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
