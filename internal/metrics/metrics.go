package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	InboundMessages   *prometheus.CounterVec
	OutboundFragments *prometheus.CounterVec
	AIRequests        *prometheus.CounterVec
	AILatency         *prometheus.HistogramVec
	ProviderRequests  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	PendingClaims     *prometheus.CounterVec
	SweeperItems      *prometheus.CounterVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Total inbound messages accepted by channel and kind.",
			}, []string{"channel", "kind"}),
			OutboundFragments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbound_fragments_total",
				Help:      "Total outbound reply fragments by channel and outcome.",
			}, []string{"channel", "status"}),
			AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_requests_total",
				Help:      "Total inference requests by provider and outcome.",
			}, []string{"provider", "status"}),
			AILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ai_request_duration_seconds",
				Help:      "Latency distribution for inference calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "status"}),
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total messaging-provider API requests by channel, endpoint and status.",
			}, []string{"channel", "endpoint", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Latency distribution for messaging-provider API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"channel", "endpoint", "status"}),
			PendingClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pending_claims_total",
				Help:      "Pending-response claim attempts by result.",
			}, []string{"result"}),
			SweeperItems: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeper_items_total",
				Help:      "Due pending responses handled by the sweeper, by result.",
			}, []string{"result"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.InboundMessages,
			metricsInstance.OutboundFragments,
			metricsInstance.AIRequests,
			metricsInstance.AILatency,
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.PendingClaims,
			metricsInstance.SweeperItems,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
