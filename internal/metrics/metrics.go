// Package metrics provides Prometheus instrumentation for the room
// synchronizer. It exposes counters for inbound events and reconciliation
// outcomes, gauges for connection and session state, and a histogram for
// history fetch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts decoded inbound stream events, labeled by event type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_events_total",
		Help: "Total number of inbound stream events decoded",
	}, []string{"type"})

	// EventsMalformed counts inbound frames that could not be decoded and
	// were discarded.
	EventsMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_events_malformed_total",
		Help: "Total number of inbound frames discarded as malformed",
	})

	// ReconcileTotal counts confirmed messages applied to a timeline, labeled
	// by outcome: "appended", "promoted", "duplicate" or "echo_dropped".
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_reconcile_total",
		Help: "Confirmed messages applied to the timeline by outcome",
	}, []string{"outcome"})

	// OutboundTotal counts outbound stream messages handed to the transport,
	// labeled by type and result ("ok" or "error"). Events held back locally
	// are counted by ThrottledTotal instead.
	OutboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_outbound_total",
		Help: "Outbound stream messages by type and result",
	}, []string{"type", "result"})

	// ThrottledTotal counts outbound events refused by a local throttle,
	// labeled by rule name.
	ThrottledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_throttled_total",
		Help: "Outbound events held back by a local throttle",
	}, []string{"rule"})

	// RollbacksTotal counts optimistic messages removed after a failed send.
	RollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_optimistic_rollbacks_total",
		Help: "Optimistic messages rolled back after a failed send",
	})

	// HistoryLatency records history page fetch latency in seconds.
	HistoryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomsync_history_fetch_seconds",
		Help:    "History page fetch latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// HistoryErrors counts failed history fetches.
	HistoryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_history_fetch_errors_total",
		Help: "Failed history page fetches",
	})

	// StaleResults counts async results discarded because the room changed
	// while they were in flight.
	StaleResults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_stale_results_total",
		Help: "Async results discarded because their room session ended",
	})

	// ConnectionsOpen tracks the number of open stream connections.
	ConnectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomsync_connections_open",
		Help: "Current number of open room stream connections",
	})

	// OnlineParticipants tracks the size of the local presence set.
	OnlineParticipants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomsync_online_participants",
		Help: "Participants in the local presence set",
	})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		EventsMalformed,
		ReconcileTotal,
		OutboundTotal,
		ThrottledTotal,
		RollbacksTotal,
		HistoryLatency,
		HistoryErrors,
		StaleResults,
		ConnectionsOpen,
		OnlineParticipants,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
