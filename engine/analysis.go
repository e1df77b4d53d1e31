package engine

import (
	"context"
	"time"

	"github.com/wyfcoding/pricing/bounds"
	"github.com/wyfcoding/pricing/elasticity"
	"github.com/wyfcoding/pricing/idgen"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/segment"
	"github.com/wyfcoding/pricing/source"
	"github.com/wyfcoding/pricing/xerrors"
)

// Analysis 一次分析的完整结果，之后的单品建议与组合优化都基于它.
type Analysis struct {
	RunID        string                         `json:"run_id"`
	CreatedAt    time.Time                      `json:"created_at"`
	Aggregates   []order.ProductAggregate       `json:"aggregates"`
	Segments     []segment.Assignment           `json:"segments"`
	Labels       map[string]segment.Label       `json:"labels"`
	Bounds       map[string]bounds.PriceBounds  `json:"bounds"`
	Elasticities map[string]elasticity.Estimate `json:"elasticities"`
	// Exclusions 聚合与区间阶段被排除的商品及原因.
	Exclusions []order.Exclusion `json:"exclusions"`
	Lines      int               `json:"lines"`
	Skipped    int               `json:"skipped"`

	index map[string]order.ProductAggregate
}

// Product 按键查找商品聚合.
func (a *Analysis) Product(key string) (order.ProductAggregate, bool) {
	agg, ok := a.index[key]
	return agg, ok
}

// Exclusion 返回商品的排除记录.
func (a *Analysis) Exclusion(key string) (order.Exclusion, bool) {
	for _, ex := range a.Exclusions {
		if ex.Key == key {
			return ex, true
		}
	}
	return order.Exclusion{}, false
}

// Counts 各分类的商品数.
func (a *Analysis) Counts() map[segment.Label]int {
	return segment.Counts(a.Labels)
}

// Analyze 对订单明细执行聚合、分类、价格区间与弹性估计.
// 单个商品的异常只会记入排除清单，不中断整批分析。
func (e *Engine) Analyze(ctx context.Context, lines []order.Line) (*Analysis, error) {
	if len(lines) == 0 {
		return nil, xerrors.ErrEmptyData.Derive("no order lines to analyze")
	}
	start := time.Now()
	defer e.pricing().Since("analyze", start)

	aggs, excluded := order.Aggregate(lines, order.AggregateOptions{
		NonSellableCategories: e.cfg.Pricing.NonSellableCategories,
	})

	assignments := e.classifier.ClassifyDetailed(aggs)
	labels := make(map[string]segment.Label, len(assignments))
	for _, as := range assignments {
		labels[as.Key] = as.Label
		e.pricing().IncSegment(string(as.Label))
	}

	boundsMap, degenerate, err := bounds.ComputeAll(aggs, e.cfg.Pricing.PlatformFeeRate)
	if err != nil {
		return nil, err
	}
	excluded = append(excluded, degenerate...)
	order.SortExclusions(excluded)
	for _, ex := range excluded {
		e.pricing().IncExclusion(ex.Reason)
	}

	index := order.Index(aggs)
	histories := elasticity.BuildHistories(lines)
	for key := range histories {
		if _, ok := index[key]; !ok {
			delete(histories, key)
		}
	}
	estimates, err := e.estimator.EstimateAll(ctx, histories)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		RunID:        idgen.RunID(e.ids),
		CreatedAt:    time.Now(),
		Aggregates:   aggs,
		Segments:     assignments,
		Labels:       labels,
		Bounds:       boundsMap,
		Elasticities: estimates,
		Exclusions:   excluded,
		Lines:        len(lines),
		index:        index,
	}

	e.mu.Lock()
	e.latest = a
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "analysis completed",
		"run_id", a.RunID,
		"products", len(aggs),
		"excluded", len(excluded),
		"bounded", len(boundsMap),
		"duration", time.Since(start),
	)
	return a, nil
}

// AnalyzeSource 从订单来源读取后分析.
func (e *Engine) AnalyzeSource(ctx context.Context, src source.Source) (*Analysis, error) {
	res, err := source.LoadLogged(ctx, src, e.logger)
	if err != nil {
		return nil, err
	}
	a, err := e.Analyze(ctx, res.Lines)
	if err != nil {
		return nil, err
	}
	a.Skipped = res.Skipped
	return a, nil
}
