package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the reconciliation core.
type Metrics struct {
	// Registry owns these metrics. A private registry avoids duplicate
	// collector panics when NewMetrics is called more than once (e.g. tests).
	Registry *prometheus.Registry

	providerCalls      *prometheus.CounterVec
	providerLatency    *prometheus.HistogramVec
	providerExhausted  prometheus.Counter
	webhooksReceived   *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	ledgerTransitions  *prometheus.CounterVec
	reconcilerTicks    prometheus.Counter
	reconcilerResolved *prometheus.CounterVec
}

// NewMetrics creates a dedicated registry and registers all instruments in it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vela_provider_calls_total",
			Help: "Outbound provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vela_provider_call_duration_seconds",
			Help:    "Latency of outbound provider calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		providerExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vela_provider_failover_exhausted_total",
			Help: "Operations that exhausted every ranked provider.",
		}),
		webhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vela_webhooks_received_total",
			Help: "Inbound webhooks by source and gateway outcome.",
		}, []string{"source", "outcome"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vela_webhook_events_total",
			Help: "Routed webhook events by type and processing outcome.",
		}, []string{"type", "outcome"}),
		ledgerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vela_ledger_transitions_total",
			Help: "Terminal ledger transitions by outcome (applied or replayed).",
		}, []string{"outcome"}),
		reconcilerTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "vela_reconciler_ticks_total",
			Help: "Polling reconciler scan cycles.",
		}),
		reconcilerResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vela_reconciler_resolved_total",
			Help: "Pending transactions resolved by polling, by terminal status.",
		}, []string{"status"}),
	}
}

// ProviderCall records one outbound provider call.
func (m *Metrics) ProviderCall(provider, outcome string, latency time.Duration) {
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// ProviderExhausted records an operation that ran out of providers.
func (m *Metrics) ProviderExhausted() {
	m.providerExhausted.Inc()
}

// WebhookReceived records a gateway decision for an inbound webhook.
func (m *Metrics) WebhookReceived(source, outcome string) {
	m.webhooksReceived.WithLabelValues(source, outcome).Inc()
}

// WebhookEvent records the processing outcome of one routed event.
func (m *Metrics) WebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// LedgerTransition records a terminal transition attempt outcome.
func (m *Metrics) LedgerTransition(outcome string) {
	m.ledgerTransitions.WithLabelValues(outcome).Inc()
}

// ReconcilerTick records one polling cycle.
func (m *Metrics) ReconcilerTick() {
	m.reconcilerTicks.Inc()
}

// ReconcilerResolved records a transaction resolved via polling.
func (m *Metrics) ReconcilerResolved(status string) {
	m.reconcilerResolved.WithLabelValues(status).Inc()
}
