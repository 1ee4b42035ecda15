// Package metrics exposes Prometheus instrumentation for the reconciliation
// engine. All metrics carry the trafegodns_ namespace.
package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "trafegodns"

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information, always 1.",
	}, []string{"version", "go_version"})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "reconciliations_total",
		Help:      "Reconciliation cycles by provider and outcome.",
	}, []string{"provider", "status"})

	ReconciliationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "reconciliation_duration_seconds",
		Help:      "Duration of reconciliation cycles.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	RecordsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "records_created_total",
		Help:      "DNS records created, by provider.",
	}, []string{"provider"})

	RecordsUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "records_updated_total",
		Help:      "DNS records updated, by provider.",
	}, []string{"provider"})

	RecordsUpToDateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "records_up_to_date_total",
		Help:      "Desired records found already correct, by provider.",
	}, []string{"provider"})

	RecordsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "records_deleted_total",
		Help:      "Orphaned records deleted, by provider.",
	}, []string{"provider"})

	RecordErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "record_errors_total",
		Help:      "Failed record operations, by provider and operation.",
	}, []string{"provider", "operation"})

	CacheLastRefresh = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "cache_last_refresh_timestamp_seconds",
		Help:      "Unix time of the last provider record cache refresh.",
	}, []string{"provider"})

	ProviderHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "provider_healthy",
		Help:      "1 when the provider passed its last connection test.",
	}, []string{"provider"})

	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "polls_total",
		Help:      "Source poll attempts by source and outcome.",
	}, []string{"source", "status"})

	TunnelIngressRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "tunnel_ingress_rules",
		Help:      "Ingress rules currently deployed to the tunnel, excluding the catch-all.",
	})
)

// SetBuildInfo publishes the build version gauge.
func SetBuildInfo(version string) {
	BuildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// NewReconcileTimer times one reconcile cycle for a provider.
func NewReconcileTimer(provider string) *prometheus.Timer {
	return prometheus.NewTimer(ReconciliationDuration.WithLabelValues(provider))
}
