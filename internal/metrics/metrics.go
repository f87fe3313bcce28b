package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_messages_total",
			Help: "Inbound messages answered, by configured mode and the responder that produced the reply",
		},
		[]string{"mode", "source"},
	)

	GroundedFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_grounded_fallbacks_total",
			Help: "Grounded responder degradations, by reason",
		},
		[]string{"reason"},
	)

	GroundedDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_grounded_request_duration_seconds",
			Help:    "Duration of calls to the text generation service",
			Buckets: prometheus.DefBuckets,
		},
	)

	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_catalog_reloads_total",
			Help: "Menu catalog loads, by outcome",
		},
		[]string{"outcome"},
	)

	OrdersFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_finalized_total",
			Help: "Conversations that reached done=true, by order status",
		},
		[]string{"status"},
	)
)
