package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the bridge.
type Metrics struct {
	// Popup lifecycle metrics
	PopupsOpened prometheus.Counter
	PopupsReused prometheus.Counter
	PopupsClosed prometheus.Counter

	// Messaging metrics
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesDropped  prometheus.Counter
	PendingListeners prometheus.Gauge
	RejectedRequests prometheus.Counter

	// Wallet operation metrics
	WalletRequests   *prometheus.CounterVec
	BatchesSubmitted prometheus.Counter
	BatchesFailed    prometheus.Counter

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
}

// NewMetrics initializes and registers Prometheus metrics on the default
// registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a
// custom registry. Tests pass a fresh registry to avoid duplicate
// registration panics.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		PopupsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_popups_opened_total",
			Help: "Number of popup windows opened",
		}),
		PopupsReused: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_popups_reused_total",
			Help: "Number of times an already-open popup was reused",
		}),
		PopupsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_popups_closed_total",
			Help: "Number of popup windows closed",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_messages_sent_total",
			Help: "Number of messages posted to the popup",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_messages_received_total",
			Help: "Number of messages received from the popup",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_messages_dropped_total",
			Help: "Number of inbound messages dropped by origin filtering",
		}),
		PendingListeners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_pending_listeners",
			Help: "Number of in-flight message listeners",
		}),
		RejectedRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_rejected_requests_total",
			Help: "Number of pending requests rejected by popup unload or disconnect",
		}),
		WalletRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_wallet_requests_total",
			Help: "Number of wallet operations by event",
		}, []string{"event"}),
		BatchesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_batches_submitted_total",
			Help: "Number of EIP-5792 call batches submitted",
		}),
		BatchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_batches_failed_total",
			Help: "Number of EIP-5792 call batches that failed to submit",
		}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_provider_requests_total",
			Help: "Number of provider requests by method",
		}, []string{"method"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_provider_errors_total",
			Help: "Number of provider errors by code",
		}, []string{"code"}),
	}
}
