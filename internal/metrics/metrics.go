// Package metrics exposes Prometheus collectors for the session and payment
// subsystems. Served on the loopback API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OAuthPollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosk",
		Subsystem: "oauth",
		Name:      "poll_ticks_total",
		Help:      "Status polls issued while an OAuth flow is in flight.",
	})

	OAuthFlowOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Subsystem: "oauth",
		Name:      "flow_outcomes_total",
		Help:      "Terminal OAuth flow outcomes.",
	}, []string{"outcome"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Subsystem: "oauth",
		Name:      "token_refreshes_total",
		Help:      "Token refresh attempts by result.",
	}, []string{"result"})

	PaymentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Subsystem: "payment",
		Name:      "outcomes_total",
		Help:      "Terminal payment outcomes by classification.",
	}, []string{"outcome"})

	IdempotencyKeyReuse = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosk",
		Subsystem: "payment",
		Name:      "idempotency_key_reuse_total",
		Help:      "Payments submitted with a key reused from the ledger.",
	})

	SDKReauthorizations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosk",
		Subsystem: "sdk",
		Name:      "reauthorizations_total",
		Help:      "Deauthorize-then-reauthorize cycles forced by a location mismatch.",
	})
)
