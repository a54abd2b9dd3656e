package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Hub metrics
	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_connections",
			Help: "Live connection handles by kind",
		},
		[]string{"kind"}, // "direct", "global", "status", "room"
	)

	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_routed_total",
			Help: "Total inbound messages routed",
		},
		[]string{"kind"}, // "direct" or "room"
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_delivery_failures_total",
			Help: "Sends to a handle that failed and removed it",
		},
		[]string{"kind"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_dropped_total",
			Help: "Inbound messages dropped before routing",
		},
		[]string{"reason"},
	)

	PresenceBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_presence_broadcasts_total",
			Help: "Total presence reconcile-and-broadcast cycles",
		},
	)

	PresenceWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_presence_writes_total",
			Help: "Online flags corrected in the store by reconcile",
		},
	)

	PongsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_pongs_received_total",
			Help: "Pong frames answered on global connections",
		},
	)
)
