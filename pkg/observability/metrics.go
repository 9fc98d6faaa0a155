// Package observability exposes Prometheus metrics and health endpoints
// for the synchronization core.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event pipeline metrics
	eventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsync_events_dispatched_total",
			Help: "Total number of inbound events dispatched to handlers",
		},
		[]string{"event"},
	)

	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsync_events_dropped_total",
			Help: "Total number of inbound events dropped",
		},
		[]string{"reason"},
	)

	// Outbound channel metrics
	emitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsync_emits_total",
			Help: "Total number of outbound channel emissions",
		},
		[]string{"event", "status"},
	)

	// Connection metrics
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentsync_reconnects_total",
			Help: "Total number of channel reconnections",
		},
	)

	connectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentsync_connection_up",
			Help: "Whether the event channel is currently connected (1 or 0)",
		},
	)

	// Streaming metrics
	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentsync_active_streams",
			Help: "Number of in-progress agent reply streams",
		},
	)

	streamTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsync_stream_tokens_total",
			Help: "Total number of stream tokens accumulated",
		},
		[]string{"channel"},
	)

	streamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentsync_stream_duration_seconds",
			Help:    "Duration of agent reply streams from start to finalize",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Attention metrics
	attentionUnread = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentsync_attention_unread",
			Help: "Number of unread attention items for the active session",
		},
	)

	attentionTrimmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentsync_attention_trimmed_total",
			Help: "Total number of attention items removed by the trimmer",
		},
	)

	// Approval metrics
	approvalsOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentsync_approvals_outstanding",
			Help: "Number of approval requests awaiting a decision",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all collectors. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			eventsDispatchedTotal,
			eventsDroppedTotal,
			emitsTotal,
			reconnectsTotal,
			connectionUp,
			activeStreams,
			streamTokensTotal,
			streamDuration,
			attentionUnread,
			attentionTrimmedTotal,
			approvalsOutstanding,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordEventDispatched counts one dispatched inbound event.
func RecordEventDispatched(event string) {
	eventsDispatchedTotal.WithLabelValues(event).Inc()
}

// RecordEventDropped counts one dropped inbound event.
func RecordEventDropped(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordEmit counts one outbound emission with its outcome.
func RecordEmit(event, status string) {
	emitsTotal.WithLabelValues(event, status).Inc()
}

// RecordReconnect counts one channel reconnection.
func RecordReconnect() {
	reconnectsTotal.Inc()
}

// SetConnected sets the connection gauge.
func SetConnected(up bool) {
	if up {
		connectionUp.Set(1)
	} else {
		connectionUp.Set(0)
	}
}

// SetActiveStreams sets the in-progress stream gauge.
func SetActiveStreams(count int) {
	activeStreams.Set(float64(count))
}

// RecordStreamToken counts one accumulated token. The channel label is
// "content" or "thinking".
func RecordStreamToken(channel string) {
	streamTokensTotal.WithLabelValues(channel).Inc()
}

// RecordStreamDuration observes a completed stream's duration.
func RecordStreamDuration(d time.Duration) {
	streamDuration.Observe(d.Seconds())
}

// SetAttentionUnread sets the unread attention gauge.
func SetAttentionUnread(count int) {
	attentionUnread.Set(float64(count))
}

// RecordAttentionTrimmed counts items removed by the trimmer.
func RecordAttentionTrimmed(count int) {
	attentionTrimmedTotal.Add(float64(count))
}

// SetApprovalsOutstanding sets the outstanding approval gauge.
func SetApprovalsOutstanding(count int) {
	approvalsOutstanding.Set(float64(count))
}
