package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Controllers currently held by the gateway
	ActiveAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attempt_controllers_active",
			Help: "Attempt controllers currently held in memory",
		},
	)

	// Lifecycle transitions
	AttemptTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_transitions_total",
			Help: "Attempt lifecycle transitions",
		},
		[]string{"event"}, // started, completed_manual, completed_auto, dismissed
	)

	// Submission round-trips against the exam backend
	SubmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attempt_submit_duration_seconds",
			Help:    "Time spent posting submissions upstream",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Store writes that fell back to memory
	StoreFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_store_fallbacks_total",
			Help: "Attempt store operations served from memory because Redis failed",
		},
		[]string{"op"},
	)

	// Audit signals received while proctoring was armed
	ProctorSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_proctor_signals_total",
			Help: "Proctoring signals observed while an attempt was armed",
		},
		[]string{"kind"},
	)

	// Recorded answer uploads
	RecordingUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_recording_uploads_total",
			Help: "Recorded answer uploads",
		},
		[]string{"backend", "status"},
	)

	// Open WebSocket attempt streams
	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attempt_stream_connections_current",
			Help: "Open attempt WebSocket streams",
		},
	)

	// Rows persisted by the background workers
	WorkerPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_worker_rows_total",
			Help: "Rows persisted by background workers",
		},
		[]string{"worker", "status"},
	)
)
