package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwire_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwire_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	Heartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwire_heartbeats_total",
			Help: "Total heartbeat refreshes",
		},
	)

	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_messages_published_total",
			Help: "Total messages published",
		},
		[]string{"message_type"},
	)

	// Stream metrics
	StreamClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentwire_stream_clients",
			Help: "Currently connected SSE clients",
		},
		[]string{"table"},
	)

	StreamEventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_stream_events_sent_total",
			Help: "Total SSE events written to clients",
		},
		[]string{"table", "event"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwire_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwire_store_latency_seconds",
			Help:    "Storage operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"backend", "op"},
	)
)
