package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for chieftain.
// Using promauto for automatic registration with default registry.
var (
	// --- Election Metrics ---

	// ElectionsStarted counts elections this peer has started.
	ElectionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "election",
			Name:      "started_total",
			Help:      "Total number of elections started by this peer",
		},
	)

	// ElectionsWon counts elections this peer has won.
	ElectionsWon = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "election",
			Name:      "won_total",
			Help:      "Total number of elections won by this peer",
		},
	)

	// StateTransitions counts state machine transitions by edge.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "election",
			Name:      "state_transitions_total",
			Help:      "Total number of state transitions",
		},
		[]string{"from", "to"},
	)

	// CurrentState exposes the current state as a one-hot gauge.
	CurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chieftain",
			Subsystem: "election",
			Name:      "state",
			Help:      "Current state of this peer (1 for the active state)",
		},
		[]string{"state"},
	)

	// ChiefConflicts counts victory claims resolved while already chief.
	ChiefConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "election",
			Name:      "chief_conflicts_total",
			Help:      "Total number of conflicting chief claims resolved",
		},
	)

	// --- Heartbeat Metrics ---

	// HeartbeatsSent counts heartbeats broadcast while chief.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "heartbeat",
			Name:      "sent_total",
			Help:      "Total number of heartbeats sent",
		},
	)

	// HeartbeatsAccepted counts heartbeats accepted from the chief.
	HeartbeatsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "heartbeat",
			Name:      "accepted_total",
			Help:      "Total number of heartbeats accepted from a chief",
		},
	)

	// ChiefSuspicions counts liveness timeouts that triggered re-election.
	ChiefSuspicions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "heartbeat",
			Name:      "suspicions_total",
			Help:      "Total number of chief failures suspected via heartbeat absence",
		},
	)

	// --- Message Metrics ---

	// MessagesReceived counts accepted inbound messages by type.
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Total number of messages received by type",
		},
		[]string{"type"},
	)

	// DataBroadcasts counts application payloads broadcast by this peer.
	DataBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "messages",
			Name:      "data_broadcast_total",
			Help:      "Total number of data payloads broadcast",
		},
	)

	// TransportPublishFailures counts failed sends by transport kind.
	TransportPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "transport",
			Name:      "publish_failures_total",
			Help:      "Total number of failed transport publishes",
		},
		[]string{"transport"},
	)

	// --- Callback Metrics ---

	// CallbackPanics counts recovered panics from observers and tasks.
	CallbackPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chieftain",
			Subsystem: "callbacks",
			Name:      "panics_total",
			Help:      "Total number of recovered panics in user callbacks",
		},
		[]string{"kind"},
	)
)
