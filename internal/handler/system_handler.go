package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// SystemHandler serves health, metrics and an operator overview.
type SystemHandler struct {
	rdb       *redis.Client
	checks    map[string]Pinger
	degraded  func() bool
	held      func() int
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. degraded reports whether
// the attempt store fell back to memory; held counts live controllers.
func NewSystemHandler(rdb *redis.Client, checks map[string]Pinger, degraded func() bool, held func() int, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		checks:    checks,
		degraded:  degraded,
		held:      held,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// 200 while the gateway can serve attempts. A failing Redis degrades the
// store to memory and is reported, not fatal.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			deps[name] = "down"
			continue
		}
		deps[name] = "up"
	}

	status := "ok"
	if h.degraded != nil && h.degraded() {
		status = "degraded"
	}
	response.Success(c, http.StatusOK, gin.H{
		"status":       status,
		"dependencies": deps,
		"uptime":       time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Metrics godoc
// GET /metrics
func (h *SystemHandler) Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

type systemOverview struct {
	Timestamp  int64  `json:"timestamp"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	GoVersion  string `json:"go_version"`

	AttemptsHeld  int  `json:"attempts_held"`
	StoreDegraded bool `json:"store_degraded"`

	// Worker Queues
	QueueProctor int64 `json:"queue_proctor"`
	QueueAnswers int64 `json:"queue_answers"`
	QueueResults int64 `json:"queue_results"`
}

// Overview godoc
// GET /api/v1/admin/system/overview
func (h *SystemHandler) Overview(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	o := systemOverview{
		Timestamp:  time.Now().Unix(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		GoVersion:  runtime.Version(),
	}
	if h.held != nil {
		o.AttemptsHeld = h.held()
	}
	if h.degraded != nil {
		o.StoreDegraded = h.degraded()
	}

	// ── Worker Queues (pipelined LLEN) ──
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	pipe := h.rdb.Pipeline()
	proctorCmd := pipe.LLen(ctx, config.WorkerKey.PersistProctorQueue)
	answersCmd := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	resultsCmd := pipe.LLen(ctx, config.WorkerKey.PersistResultsQueue)
	if _, err := pipe.Exec(ctx); err == nil {
		o.QueueProctor, _ = proctorCmd.Result()
		o.QueueAnswers, _ = answersCmd.Result()
		o.QueueResults, _ = resultsCmd.Result()
	} else {
		h.log.Warn().Err(err).Msg("Queue lengths unavailable")
	}

	response.Success(c, http.StatusOK, o)
}
