package engine

import (
	"context"
	"slices"

	"github.com/wyfcoding/pricing/advisor"
	"github.com/wyfcoding/pricing/optimizer"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/segment"
	"github.com/wyfcoding/pricing/xerrors"
)

// AdviseSinglePrice 为分析结果中的单个商品给出建议价.
// 商品不存在时返回 ErrProductNotFound，商品因区间退化被排除时返回带原因码的 ErrDegenerateBounds。
func (e *Engine) AdviseSinglePrice(ctx context.Context, a *Analysis, key string, targetMarginPct float64,
	intent advisor.Intent,
) (advisor.Recommendation, error) {
	agg, ok := a.Product(key)
	if !ok {
		if ex, excluded := a.Exclusion(key); excluded {
			return advisor.Recommendation{}, xerrors.ErrProductNotFound.Derive("product %s excluded: %s", key, ex.Reason).
				WithContext("reason", ex.Reason)
		}
		return advisor.Recommendation{}, xerrors.ErrProductNotFound.Derive("product %s", key)
	}

	b, ok := a.Bounds[key]
	if !ok {
		reason := order.ReasonNoBounds
		if ex, excluded := a.Exclusion(key); excluded {
			reason = ex.Reason
		}
		return advisor.Recommendation{}, xerrors.DegenerateBounds(key, reason)
	}

	est, ok := a.Elasticities[key]
	if !ok {
		est = e.estimator.Default(key)
	}
	return e.advisor.Advise(ctx, agg, b, est, targetMarginPct, intent, advisor.Options{Segment: string(a.Labels[key])})
}

// PortfolioFilter 选择参与组合优化的商品子集，各条件之间为“与”，空条件不过滤.
type PortfolioFilter struct {
	Categories []string        `json:"categories,omitempty"`
	Segments   []segment.Label `json:"segments,omitempty"`
	Keys       []string        `json:"keys,omitempty"`
}

// Match 判断商品是否被选中.
func (f PortfolioFilter) Match(agg order.ProductAggregate, label segment.Label) bool {
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, agg.Category) {
		return false
	}
	if len(f.Segments) > 0 && !slices.Contains(f.Segments, label) {
		return false
	}
	if len(f.Keys) > 0 && !slices.Contains(f.Keys, agg.Key) {
		return false
	}
	return true
}

// DefaultConstraints 由配置生成的默认优化约束.
func (e *Engine) DefaultConstraints() optimizer.Constraints {
	return optimizer.ConstraintsFrom(e.cfg.Optimizer, e.cfg.Elasticity.DefaultValue)
}

// OptimizePortfolio 在选中的商品上求解组合调价方案.
// 在分析阶段已被排除的商品沿用原排除原因，而不是笼统的 no_bounds。
func (e *Engine) OptimizePortfolio(ctx context.Context, a *Analysis, goal optimizer.Goal,
	cons optimizer.Constraints, filter PortfolioFilter,
) (*optimizer.Result, error) {
	selected := make([]order.ProductAggregate, 0, len(a.Aggregates))
	for _, agg := range a.Aggregates {
		if filter.Match(agg, a.Labels[agg.Key]) {
			selected = append(selected, agg)
		}
	}
	if len(selected) == 0 {
		return nil, xerrors.ErrEmptyData.Derive("no products match the portfolio filter")
	}

	res, err := e.optimizer.Optimize(ctx, selected, a.Bounds, a.Elasticities, goal, cons)
	if err != nil {
		return nil, err
	}
	for i, ex := range res.Exclusions {
		if ex.Reason != order.ReasonNoBounds {
			continue
		}
		if orig, ok := a.Exclusion(ex.Key); ok {
			res.Exclusions[i].Reason = orig.Reason
			res.Exclusions[i].Detail = orig.Detail
		}
	}
	order.SortExclusions(res.Exclusions)
	return res, nil
}
