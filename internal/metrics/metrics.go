package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections is the number of currently active websocket sessions.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "minichat_connections",
		Help: "Active websocket connections.",
	})

	// OnlineUsers is the number of users currently online.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "minichat_online_users",
		Help: "Users with at least one live connection.",
	})

	// EventsPublished counts events published to the broadcast bus, by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minichat_events_published_total",
		Help: "Events published to the broadcast bus.",
	}, []string{"type"})

	// EventsDropped counts events dropped for individual slow subscribers.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minichat_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	})

	// StoreSeconds observes message store operation latency.
	StoreSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "minichat_store_seconds",
		Help:    "Message store operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// AuthFailures counts refused connections.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minichat_auth_failures_total",
		Help: "Connections refused at authorization.",
	})
)
