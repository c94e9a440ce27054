// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	FramesReceived  prometheus.Counter
	FramesDropped   prometheus.Counter
	AcksSent        prometheus.Counter
	HeartbeatsSent  prometheus.Counter
	ChatEvents      prometheus.Counter
	SinkErrors      prometheus.Counter
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	ProbeCycles     prometheus.Counter
	ProbeFailures   prometheus.Counter

	// Histograms (seconds)
	ProbeDuration prometheus.Observer

	// Gauges
	ActiveSessions prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		FramesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_frames_received_total", Help: "Inbound push frames received"})
		FramesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_frames_dropped_total", Help: "Inbound push frames dropped (malformed or undecodable payload)"})
		AcksSent = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_acks_sent_total", Help: "Ack frames sent in reply to server ack requests"})
		HeartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_heartbeats_sent_total", Help: "Keepalive heartbeat frames sent"})
		ChatEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_chat_events_total", Help: "Chat events decoded and dispatched to sinks"})
		SinkErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_sink_errors_total", Help: "Sink append failures"})
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_sessions_started_total", Help: "Capture sessions started"})
		SessionsStopped = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_sessions_stopped_total", Help: "Capture sessions stopped"})
		ProbeCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_probe_cycles_total", Help: "Live-status probe cycles executed"})
		ProbeFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_probe_failures_total", Help: "Live-status probe cycles that failed"})
		ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "danmu_probe_duration_seconds", Help: "Live-status probe duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "danmu_active_sessions", Help: "Capture sessions currently running"})
	})
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
