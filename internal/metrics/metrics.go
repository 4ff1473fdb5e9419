package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_ws_connections_active",
			Help: "Open websocket connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_ws_rooms_active",
			Help: "Rooms with at least one joined connection",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_ws_events_total",
			Help: "Inbound websocket events by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: "ok", "ignored", "rejected", "failed", "malformed"
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_ws_broadcasts_total",
			Help: "Room broadcasts by event type",
		},
		[]string{"type"},
	)

	DeliveriesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_ws_deliveries_skipped_total",
			Help: "Broadcast deliveries skipped because the connection was not ready",
		},
		[]string{"reason"}, // "closed" or "queue_full"
	)

	// Business metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_rooms_deleted_total",
			Help: "Total rooms deleted",
		},
	)
)
