// Package metrics 封装了基于 Prometheus 的独立注册表与定价引擎的业务指标。
package metrics

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 封装了基于 Prometheus 的指标采集注册表及预定义的业务指标。
type Metrics struct {
	registry  *prometheus.Registry // 内部独立的 Prometheus 注册中心
	namespace string

	BuildInfo *prometheus.GaugeVec
	Pricing   *PricingMetrics
}

// NewMetrics 初始化并返回一个新的指标采集器。
// 它会自动注册 Go 运行时指标和进程指标，以及定价业务指标。
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg, namespace: namespace}
	m.Pricing = newPricingMetrics(m)

	slog.Info("unified metrics registry initialized", "namespace", namespace)
	return m
}

// NewCounterVec 创建并注册一个新的计数器指标。
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	if opts.Namespace == "" {
		opts.Namespace = m.namespace
	}
	cv := prometheus.NewCounterVec(opts, labelNames)
	return register(m.registry, cv)
}

// NewGaugeVec 创建并注册一个新的仪表盘指标。
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	if opts.Namespace == "" {
		opts.Namespace = m.namespace
	}
	gv := prometheus.NewGaugeVec(opts, labelNames)
	return register(m.registry, gv)
}

// NewHistogramVec 创建并注册一个新的直方图指标。
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	if opts.Namespace == "" {
		opts.Namespace = m.namespace
	}
	hv := prometheus.NewHistogramVec(opts, labelNames)
	return register(m.registry, hv)
}

// register 注册采集器；同名同标签的指标已存在时复用已注册的实例.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Registerer 返回底层注册表，供其他包注册自有指标。
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Gatherer 返回底层注册表的采集接口。
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler 返回用于暴露指标的 HTTP 处理器，由宿主服务挂载。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
