// Package metrics exposes Prometheus instrumentation for encodr. All metrics
// are prefixed with "encodr_".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encodr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "encodr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Decision metrics
var (
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encodr_decisions_total",
			Help: "Encoding decisions by delivery type and whether video and audio are copied",
		},
		[]string{"type", "video_copy", "audio_copy"},
	)

	DecisionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encodr_decision_errors_total",
			Help: "Failed encoding decisions by error class",
		},
		[]string{"reason"},
	)
)

// Transcode job metrics
var (
	JobsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encodr_transcode_jobs_started_total",
			Help: "Transcode jobs whose encoder was started",
		},
		[]string{"type"},
	)

	JobsExitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encodr_transcode_jobs_exited_total",
			Help: "Transcode jobs that exited, by outcome",
		},
		[]string{"type", "status"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "encodr_transcode_jobs_active",
			Help: "Transcode jobs currently running",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "encodr_transcode_job_duration_seconds",
			Help:    "Encoder run time in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"type"},
	)

	JobsThrottled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "encodr_transcode_jobs_throttled",
			Help: "Transcode jobs whose encoder is currently paused",
		},
	)

	ThrottleTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encodr_throttle_transitions_total",
			Help: "Encoder pause and resume transitions",
		},
		[]string{"action"},
	)

	EncodeFramerate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "encodr_encode_framerate",
			Help:    "Encoder frame rate reported in progress lines",
			Buckets: []float64{5, 10, 24, 30, 60, 120, 240, 480},
		},
	)
)

// Maintenance metrics
var (
	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encodr_maintenance_runs_total",
			Help: "Maintenance task runs by task and outcome",
		},
		[]string{"task", "status"},
	)

	MaintenanceRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encodr_maintenance_files_total",
			Help: "Files removed or archived by maintenance tasks",
		},
		[]string{"task"},
	)
)
