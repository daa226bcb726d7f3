// Package metrics holds the Prometheus instruments. Everything is registered
// on the default registry under the parley namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route, and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parley",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Name:      "ws_connections",
		Help:      "Open WebSocket sessions.",
	})

	WSEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "ws_events_total",
		Help:      "WebSocket events fanned out, by event type.",
	}, []string{"event"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "messages_sent_total",
		Help:      "Messages accepted by the message engine.",
	})

	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "broadcast_drops_total",
		Help:      "Events dropped because a session send buffer was full.",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "cache_hits_total",
		Help:      "Cache hits by kind.",
	}, []string{"kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "cache_misses_total",
		Help:      "Cache misses by kind.",
	}, []string{"kind"})
)
