package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishesTotal tracks publish attempts by outcome: executed, replayed, rejected, failed.
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_publishes_total",
			Help: "Newsletter publish attempts by outcome",
		},
		[]string{"outcome"},
	)

	// DeliveriesTotal tracks delivery task resolutions: delivered, requeued, dropped.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Delivery task resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// DeliveryQueueClaimDuration tracks how long a claim is held, send included.
	DeliveryQueueClaimDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_delivery_claim_duration_seconds",
			Help:    "Time from claiming a delivery task to resolving it",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// SubscriptionsTotal tracks subscription events: pending, confirmed.
	SubscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_subscriptions_total",
			Help: "Subscription events by stage",
		},
		[]string{"stage"},
	)
)
