// Package metrics holds the Prometheus collectors shared by the bot, the
// approval engine and the notice worker. Collectors register with the default
// registry; the gateway serves them on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relia_bot"

var (
	// MessagesTotal counts inbound messages by routed intent.
	// Labels: intent
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bot",
		Name:      "messages_total",
		Help:      "Inbound messages by routed intent",
	}, []string{"intent"})

	// MessageFailures counts messages answered with the generic apology.
	// Labels: reason (panic, error)
	MessageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bot",
		Name:      "message_failures_total",
		Help:      "Messages that ended in the generic apology reply",
	}, []string{"reason"})

	MessageLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "bot",
		Name:      "message_latency_seconds",
		Help:      "End to end handling time of one inbound message",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// DecisionsTotal counts decision attempts by outcome.
	// Labels: action (APPROVE, REJECT), outcome (applied, already_decided, not_found, error)
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "approval",
		Name:      "decisions_total",
		Help:      "Decision attempts by action and outcome",
	}, []string{"action", "outcome"})

	// DecisionConflicts counts conditional writes lost to a concurrent decision.
	DecisionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "approval",
		Name:      "conflicts_total",
		Help:      "Decision transactions that lost the pending-status compare-and-set",
	})

	// NoticesTotal counts delivery attempts by result.
	// Labels: result (sent, retry)
	NoticesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Decision notice delivery attempts by result",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
