package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PricingMetrics 定价引擎的业务指标，方法对 nil 接收者安全。
type PricingMetrics struct {
	ProductsClassified  *prometheus.CounterVec   // 维度: segment
	ElasticityEstimates *prometheus.CounterVec   // 维度: source
	ElasticityCache     *prometheus.CounterVec   // 维度: result (hit/miss)
	Exclusions          *prometheus.CounterVec   // 维度: reason
	OptimizerRuns       *prometheus.CounterVec   // 维度: solver, status
	AchievementRatio    prometheus.Histogram     // 组合优化目标达成率
	OperationDuration   *prometheus.HistogramVec // 维度: operation
}

func newPricingMetrics(m *Metrics) *PricingMetrics {
	achievement := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "optimizer_achievement_ratio",
		Help:      "Achieved over targeted profit gain per optimization run",
		Buckets:   []float64{0, 0.25, 0.5, 0.8, 0.9, 0.95, 1, 1.5},
	})
	m.registry.MustRegister(achievement)

	return &PricingMetrics{
		ProductsClassified: m.NewCounterVec(prometheus.CounterOpts{
			Name: "products_classified_total",
			Help: "Products assigned to each segment",
		}, []string{"segment"}),
		ElasticityEstimates: m.NewCounterVec(prometheus.CounterOpts{
			Name: "elasticity_estimates_total",
			Help: "Elasticity estimates by source",
		}, []string{"source"}),
		ElasticityCache: m.NewCounterVec(prometheus.CounterOpts{
			Name: "elasticity_cache_lookups_total",
			Help: "Elasticity cache lookups by result",
		}, []string{"result"}),
		Exclusions: m.NewCounterVec(prometheus.CounterOpts{
			Name: "product_exclusions_total",
			Help: "Products excluded from pricing by reason",
		}, []string{"reason"}),
		OptimizerRuns: m.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_runs_total",
			Help: "Portfolio optimization runs by winning solver and status",
		}, []string{"solver", "status"}),
		AchievementRatio: achievement,
		OperationDuration: m.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "Duration of pricing operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// IncSegment 记录一次分类结果.
func (p *PricingMetrics) IncSegment(segment string) {
	if p == nil {
		return
	}
	p.ProductsClassified.WithLabelValues(segment).Inc()
}

// IncElasticity 记录一次弹性估计来源.
func (p *PricingMetrics) IncElasticity(source string) {
	if p == nil {
		return
	}
	p.ElasticityEstimates.WithLabelValues(source).Inc()
}

// IncCache 记录一次弹性缓存查询结果.
func (p *PricingMetrics) IncCache(hit bool) {
	if p == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	p.ElasticityCache.WithLabelValues(result).Inc()
}

// IncExclusion 记录一次商品排除.
func (p *PricingMetrics) IncExclusion(reason string) {
	if p == nil {
		return
	}
	p.Exclusions.WithLabelValues(reason).Inc()
}

// ObserveOptimization 记录一次组合优化结果.
func (p *PricingMetrics) ObserveOptimization(solver, status string, ratio float64) {
	if p == nil {
		return
	}
	p.OptimizerRuns.WithLabelValues(solver, status).Inc()
	p.AchievementRatio.Observe(ratio)
}

// Since 记录从 start 到现在的操作耗时.
func (p *PricingMetrics) Since(operation string, start time.Time) {
	if p == nil {
		return
	}
	p.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
