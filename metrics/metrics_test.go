package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingMetricsCount(t *testing.T) {
	m := NewMetrics("pricing_test")
	p := m.Pricing

	p.IncSegment("STAR")
	p.IncSegment("STAR")
	p.IncElasticity("LEARNED")
	p.IncCache(true)
	p.IncCache(false)
	p.IncExclusion("non_positive_cost")
	p.ObserveOptimization("local", "fully_achieved", 1)
	p.Since("analyze", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(p.ProductsClassified.WithLabelValues("STAR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ElasticityEstimates.WithLabelValues("LEARNED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ElasticityCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Exclusions.WithLabelValues("non_positive_cost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.OptimizerRuns.WithLabelValues("local", "fully_achieved")))
}

func TestNilPricingMetricsIsSafe(t *testing.T) {
	var p *PricingMetrics
	assert.NotPanics(t, func() {
		p.IncSegment("STAR")
		p.ObserveOptimization("local", "fully_achieved", 1)
		p.Since("analyze", time.Now())
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics("pricing_http")
	m.RegisterBuildInfo("pricing", "v1")
	m.Pricing.IncExclusion("no_sales")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pricing_http_build_info{config_version="v1",`)
	assert.Contains(t, body, `service="pricing"} 1`)
	assert.Contains(t, body, `pricing_http_product_exclusions_total{reason="no_sales"} 1`)
}

func TestDuplicateRegistrationReusesCollector(t *testing.T) {
	m := NewMetrics("pricing_dup")
	opts := prometheus.GaugeOpts{Name: "circuit_breaker_state", Help: "state"}
	a := m.NewGaugeVec(opts, []string{"name"})
	b := m.NewGaugeVec(opts, []string{"name"})
	assert.Same(t, a, b)
}
