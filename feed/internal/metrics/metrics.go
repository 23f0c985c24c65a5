// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Upstream metrics
	TicksTotal        *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
	UpstreamConnected prometheus.Gauge
	UpstreamState     prometheus.Gauge
	Reconnects        prometheus.Counter
	ConnectionsLost   prometheus.Counter
	Subscriptions     prometheus.Gauge

	// Fanout metrics
	ActiveSubscribers prometheus.Gauge
	DroppedMessages   *prometheus.CounterVec

	// Signal metrics
	SignalsTotal *prometheus.CounterVec

	// Notifier metrics
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter

	// News metrics
	NewsPolls    prometheus.Counter
	NewsArticles prometheus.Counter

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec
}

// namespace is the metrics namespace.
const namespace = "tickfeed"

// New creates a Metrics instance with registered metrics.
func New() *Metrics {
	return &Metrics{
		TicksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Total number of normalized ticks received",
			},
			[]string{"symbol"},
		),
		DecodeErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Total number of inbound frames dropped as undecodable",
			},
		),
		UpstreamConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_connected",
				Help:      "Whether the upstream socket is open (1=yes, 0=no)",
			},
		),
		UpstreamState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_state",
				Help:      "Connection state (0=idle 1=connecting 2=open 3=closing 4=reconnecting 5=failed)",
			},
		),
		Reconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Total number of reconnect attempts",
			},
		),
		ConnectionsLost: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_lost_total",
				Help:      "Total number of terminal reconnect failures",
			},
		),
		Subscriptions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscriptions",
				Help:      "Current number of subscribed symbols",
			},
		),
		ActiveSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_subscribers",
				Help:      "Current number of downstream subscribers",
			},
		),
		DroppedMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_messages_total",
				Help:      "Total number of messages dropped due to slow consumers",
			},
			[]string{"symbol"},
		),
		SignalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Total number of trading signals emitted",
			},
			[]string{"symbol", "action"},
		),
		NotificationsSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notification emails delivered",
			},
		),
		NotificationsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of notification emails that failed to send",
			},
		),
		NewsPolls: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "news_polls_total",
				Help:      "Total number of news endpoint polls",
			},
		),
		NewsArticles: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "news_articles_total",
				Help:      "Total number of news articles ingested",
			},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_hits_total",
				Help:      "Total number of rate limit hits",
			},
			[]string{"type"}, // type: rps, streams
		),
	}
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTick records one received tick.
func (m *Metrics) RecordTick(symbol string) {
	m.TicksTotal.WithLabelValues(symbol).Inc()
}

// RecordState records a connection state transition.
func (m *Metrics) RecordState(state int) {
	m.UpstreamState.Set(float64(state))
	if state == 2 { // open
		m.UpstreamConnected.Set(1)
	} else {
		m.UpstreamConnected.Set(0)
	}
}

// RecordSignal records an emitted trading signal.
func (m *Metrics) RecordSignal(symbol, action string) {
	m.SignalsTotal.WithLabelValues(symbol, action).Inc()
}

// RecordDroppedMessage records a message dropped by the fanout hub.
func (m *Metrics) RecordDroppedMessage(symbol string) {
	m.DroppedMessages.WithLabelValues(symbol).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}
