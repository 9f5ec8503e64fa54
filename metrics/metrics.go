// Package metrics provides Prometheus instrumentation for the tutorhub SDK.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttempts counts hub connect attempts by outcome.
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorhub_hub_connect_attempts_total",
			Help: "Hub connect attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Reconnects counts automatic reconnect attempts by outcome.
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorhub_hub_reconnects_total",
			Help: "Automatic hub reconnect attempts by outcome",
		},
		[]string{"outcome"},
	)

	// HubState exposes the current connection state as a number.
	HubState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorhub_hub_state",
			Help: "Hub connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		},
	)

	// Invocations counts hub RPC invocations by target and outcome.
	Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorhub_hub_invocations_total",
			Help: "Hub RPC invocations by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	// PushesReceived counts inbound hub events by event name.
	PushesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorhub_hub_pushes_total",
			Help: "Inbound hub events by event name",
		},
		[]string{"event"},
	)

	// TimelinePushes counts pushes applied to the timeline by result.
	TimelinePushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorhub_timeline_pushes_total",
			Help: "Real-time pushes handled by the timeline by result",
		},
		[]string{"result"},
	)

	// Provisional counts optimistic messages by fate.
	Provisional = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorhub_provisional_messages_total",
			Help: "Provisional messages by fate (inserted, reconciled, rolled_back)",
		},
		[]string{"fate"},
	)

	// RequestDuration tracks REST request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorhub_api_request_duration_seconds",
			Help:    "REST request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "status"},
	)

	// PaymentOutcomes counts payment side-channel resolutions by signal.
	PaymentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorhub_payment_outcomes_total",
			Help: "Payment resolutions by winning signal",
		},
		[]string{"signal"},
	)
)

// RecordRequest records metrics for a REST request.
func RecordRequest(method, status string, seconds float64) {
	RequestDuration.WithLabelValues(method, status).Observe(seconds)
}

// RecordInvocation records the outcome of a hub invocation.
func RecordInvocation(target string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Invocations.WithLabelValues(target, outcome).Inc()
}
