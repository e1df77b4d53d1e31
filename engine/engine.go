// Package engine 是定价引擎的对外门面：串联订单聚合、六象限分类、弹性估计、价格区间、
// 单品建议与组合优化。每次分析都是输入数据的纯函数，结果以 Analysis 的形式交给后续调用。
package engine

import (
	"context"
	"sync"

	"github.com/wyfcoding/pricing/advisor"
	"github.com/wyfcoding/pricing/cache"
	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/elasticity"
	"github.com/wyfcoding/pricing/idgen"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/optimizer"
	"github.com/wyfcoding/pricing/scheduler"
	"github.com/wyfcoding/pricing/segment"
	"github.com/wyfcoding/pricing/source"
)

// RefreshJob 定时刷新任务名.
const RefreshJob = "elasticity-refresh"

// Option 引擎可选项.
type Option func(*Engine)

// WithCache 注入弹性缓存，未注入时按配置创建.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics 注入指标注册表.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger 注入日志.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator 注入运行编号生成器.
func WithIDGenerator(g idgen.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// Engine 定价引擎.
type Engine struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	cache   cache.Cache
	ids     idgen.Generator

	classifier *segment.Classifier
	estimator  *elasticity.Estimator
	advisor    *advisor.Advisor
	optimizer  *optimizer.Optimizer

	mu     sync.RWMutex
	latest *Analysis
}

// New 校验配置并组装各组件，配置非法时返回 ErrConfiguration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = newLogger(cfg.Log)
	}

	e.metrics.RegisterBuildInfo(cfg.Log.Service, cfg.Version)

	if e.cache == nil {
		c, err := cache.New(cfg, e.metrics, e.logger)
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	if e.ids == nil {
		g, err := idgen.NewGenerator(cfg.IDGen)
		if err != nil {
			return nil, err
		}
		e.ids = g
	}

	pm := e.pricing()

	est, err := elasticity.NewEstimator(cfg.Elasticity,
		elasticity.WithCache(e.cache),
		elasticity.WithMetrics(pm),
		elasticity.WithLogger(e.logger.Named("elasticity")),
	)
	if err != nil {
		return nil, err
	}
	adv, err := advisor.New(cfg.Advisor, e.logger.Named("advisor"))
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(cfg.Optimizer,
		optimizer.WithIDGenerator(e.ids),
		optimizer.WithMetrics(pm),
		optimizer.WithLogger(e.logger.Named("optimizer")),
	)
	if err != nil {
		return nil, err
	}

	e.classifier = segment.NewClassifier(segment.Config(cfg.Segment))
	e.estimator = est
	e.advisor = adv
	e.optimizer = opt
	return e, nil
}

// Config 返回引擎使用的配置.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Latest 返回最近一次完成的分析，尚未分析时为 nil.
func (e *Engine) Latest() *Analysis {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Refresh 重新读取订单来源并重建分析，弹性结果同时写入缓存.
func (e *Engine) Refresh(ctx context.Context, src source.Source) error {
	_, err := e.AnalyzeSource(ctx, src)
	return err
}

// Schedule 将定时刷新任务注册到调度器.
func (e *Engine) Schedule(s *scheduler.Scheduler, src source.Source) error {
	return s.AddJob(scheduler.FromConfig(RefreshJob, e.cfg.Scheduler), func(ctx context.Context) error {
		return e.Refresh(ctx, src)
	})
}

// Close 释放缓存等资源.
func (e *Engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// newLogger 按日志配置创建引擎日志并设为全局默认.
func newLogger(cfg config.LogConfig) *logging.Logger {
	l := logging.NewFromConfig(logging.Config{
		Service:    cfg.Service,
		Module:     "engine",
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		Console:    cfg.Console,
	})
	logging.SetDefault(l)
	return l
}

func (e *Engine) pricing() *metrics.PricingMetrics {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Pricing
}
