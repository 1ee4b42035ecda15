package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCounters(t *testing.T) {
	RecordsCreatedTotal.Reset()
	RecordsDeletedTotal.Reset()
	RecordErrorsTotal.Reset()

	RecordsCreatedTotal.WithLabelValues("cloudflare").Add(3)
	RecordsDeletedTotal.WithLabelValues("cloudflare").Inc()
	RecordErrorsTotal.WithLabelValues("route53", "create").Inc()

	if got := testutil.ToFloat64(RecordsCreatedTotal.WithLabelValues("cloudflare")); got != 3 {
		t.Errorf("created = %f, want 3", got)
	}
	if got := testutil.ToFloat64(RecordsDeletedTotal.WithLabelValues("cloudflare")); got != 1 {
		t.Errorf("deleted = %f, want 1", got)
	}
	if got := testutil.ToFloat64(RecordErrorsTotal.WithLabelValues("route53", "create")); got != 1 {
		t.Errorf("errors = %f, want 1", got)
	}
}

func TestProviderHealthGauge(t *testing.T) {
	ProviderHealthy.Reset()

	ProviderHealthy.WithLabelValues("cloudflare").Set(1)
	ProviderHealthy.WithLabelValues("route53").Set(0)

	if got := testutil.ToFloat64(ProviderHealthy.WithLabelValues("cloudflare")); got != 1 {
		t.Errorf("cloudflare healthy = %f, want 1", got)
	}
	if got := testutil.ToFloat64(ProviderHealthy.WithLabelValues("route53")); got != 0 {
		t.Errorf("route53 healthy = %f, want 0", got)
	}
}

func TestMetricNamespace(t *testing.T) {
	collectors := []prometheus.Collector{
		BuildInfo,
		ReconciliationsTotal,
		ReconciliationDuration,
		RecordsCreatedTotal,
		RecordsUpdatedTotal,
		RecordsUpToDateTotal,
		RecordsDeletedTotal,
		RecordErrorsTotal,
		CacheLastRefresh,
		ProviderHealthy,
		PollsTotal,
		TunnelIngressRules,
	}

	for _, c := range collectors {
		ch := make(chan *prometheus.Desc, 10)
		c.Describe(ch)
		close(ch)
		for desc := range ch {
			if !strings.Contains(desc.String(), Namespace+"_") {
				t.Errorf("metric %s missing %s_ prefix", desc.String(), Namespace)
			}
		}
	}
}
