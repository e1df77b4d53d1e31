// Package advisor 根据目标毛利率与调价意图给出单品建议价，并用弹性模型估计销量与利润变化.
package advisor

import (
	"context"
	"math"

	algomath "github.com/wyfcoding/pricing/algorithm/math"
	"github.com/wyfcoding/pricing/bounds"
	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/elasticity"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/ruleengine"
	"github.com/wyfcoding/pricing/xerrors"
)

// Intent 调价意图.
type Intent string

const (
	IntentUp   Intent = "up"
	IntentDown Intent = "down"
	IntentAuto Intent = "auto"
)

// Direction 建议的调价方向.
type Direction string

const (
	Up        Direction = "up"
	Down      Direction = "down"
	Unchanged Direction = "unchanged"
	Blocked   Direction = "blocked"
)

const priceTolerance = 1e-9

// Recommendation 单品定价建议.
type Recommendation struct {
	Key            string    `json:"key"`
	CurrentPrice   float64   `json:"current_price"`
	TargetPrice    float64   `json:"target_price"` // 目标毛利率对应的理论价格（未经区间约束）
	SuggestedPrice float64   `json:"suggested_price"`
	Direction      Direction `json:"direction"`
	HitFloor       bool      `json:"hit_floor"`
	HitCeiling     bool      `json:"hit_ceiling"`
	// EffectiveMarginPct 实际使用的目标毛利率（可能被裁剪）.
	EffectiveMarginPct         float64 `json:"effective_margin_pct"`
	PriceChangePct             float64 `json:"price_change_pct"`
	Elasticity                 float64 `json:"elasticity"`
	ElasticitySource           string  `json:"elasticity_source"`
	EstimatedQuantity          float64 `json:"estimated_quantity"`
	EstimatedQuantityChangePct float64 `json:"estimated_quantity_change_pct"`
	EstimatedProfitChangePct   float64 `json:"estimated_profit_change_pct"`
	// ProfitChangeNA 当前利润恰为 0，利润变化率无意义.
	ProfitChangeNA bool   `json:"profit_change_na"`
	BlockedBy      string `json:"blocked_by,omitempty"`
}

// BoundLimited 建议价是否受区间约束而未完全达成理论目标.
func (r Recommendation) BoundLimited() bool {
	return r.HitFloor || r.HitCeiling
}

// Advisor 单品定价顾问.
type Advisor struct {
	cfg    config.AdvisorConfig
	guards *ruleengine.Engine
	logger *logging.Logger
}

// New 创建顾问，并将配置中的守卫表达式编译为规则.
func New(cfg config.AdvisorConfig, logger *logging.Logger) (*Advisor, error) {
	if cfg.DeadZonePct < 0 {
		return nil, xerrors.Configuration("advisor dead_zone_pct must be non-negative, got %v", cfg.DeadZonePct)
	}
	if cfg.DefaultMarkdown < 0 || cfg.DefaultMarkdown >= 1 {
		return nil, xerrors.Configuration("advisor default_markdown must be in [0,1), got %v", cfg.DefaultMarkdown)
	}
	guards, err := ruleengine.NewGuardEngine(cfg.GuardRules)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Advisor{cfg: cfg, guards: guards, logger: logger}, nil
}

// Options 单次建议的可选参数.
type Options struct {
	Segment string // 商品分类标签，供守卫规则使用
}

// Advise 计算建议价。目标毛利率 >= 100 且未启用裁剪时返回 ErrConfiguration；
// 区间退化或当前价格非正时返回 ErrDegenerateBounds。
func (a *Advisor) Advise(ctx context.Context, agg order.ProductAggregate, b bounds.PriceBounds, est elasticity.Estimate,
	targetMarginPct float64, intent Intent, opts Options,
) (Recommendation, error) {
	margin, err := a.effectiveMargin(targetMarginPct)
	if err != nil {
		return Recommendation{}, err
	}
	if b.Floor <= 0 || b.Floor > b.Ceiling {
		return Recommendation{}, xerrors.DegenerateBounds(agg.Key, order.ReasonFloorAboveCeiling)
	}
	if agg.UnitCost <= 0 {
		return Recommendation{}, xerrors.DegenerateBounds(agg.Key, order.ReasonNonPositiveCost)
	}
	current := agg.RealizedPrice
	if current <= 0 {
		return Recommendation{}, xerrors.DegenerateBounds(agg.Key, order.ReasonNonPositivePrice)
	}

	rec := Recommendation{
		Key:                agg.Key,
		CurrentPrice:       current,
		TargetPrice:        agg.UnitCost / (1 - margin/100),
		EffectiveMarginPct: margin,
		Elasticity:         est.Coefficient,
		ElasticitySource:   string(est.Source),
	}

	rule, err := a.guards.FirstMatch(ctx, ruleengine.Facts{
		Key:        agg.Key,
		Category:   agg.Category,
		Channel:    agg.Channel,
		Segment:    opts.Segment,
		Price:      current,
		ListPrice:  agg.ListPrice,
		UnitCost:   agg.UnitCost,
		ProfitRate: agg.ProfitRate,
		Velocity:   agg.VelocityIndex,
		Quantity:   agg.QuantitySold,
		Floor:      b.Floor,
		Ceiling:    b.Ceiling,
		BelowFloor: b.BelowFloor,
		Elasticity: est.Coefficient,
	})
	if err != nil {
		return Recommendation{}, err
	}
	if rule != nil {
		rec.Direction = Blocked
		rec.SuggestedPrice = current
		rec.BlockedBy = rule.Name
		a.estimate(&rec, agg)
		a.logger.DebugContext(ctx, "price adjustment blocked", "key", agg.Key, "rule", rule.ID)
		return rec, nil
	}

	switch intent {
	case IntentUp:
		a.adviseUp(&rec, b)
	case IntentDown:
		a.adviseDown(&rec, b)
	case IntentAuto, "":
		a.adviseAuto(&rec, b)
	default:
		return Recommendation{}, xerrors.Configuration("unknown direction %q", intent)
	}
	a.estimate(&rec, agg)
	return rec, nil
}

func (a *Advisor) effectiveMargin(m float64) (float64, error) {
	if !algomath.IsFinite(m) {
		return 0, xerrors.Configuration("target margin must be finite, got %v", m)
	}
	if a.cfg.ClampMargin {
		return algomath.Clamp(m, a.cfg.MarginClampMin, a.cfg.MarginClampMax), nil
	}
	if m >= 100 {
		return 0, xerrors.Configuration("target margin %.2f%% implies an unbounded price", m)
	}
	return m, nil
}

// adviseUp 建议价 = max(目标价, 当前价)，不超过上限价.
func (a *Advisor) adviseUp(rec *Recommendation, b bounds.PriceBounds) {
	p := rec.CurrentPrice
	s := min(max(b.Clamp(rec.TargetPrice), p), b.Ceiling)
	rec.HitCeiling = rec.TargetPrice > b.Ceiling+priceTolerance && s >= b.Ceiling-priceTolerance
	if s <= p+priceTolerance {
		rec.SuggestedPrice = p
		rec.Direction = Unchanged
		rec.HitCeiling = p >= b.Ceiling-priceTolerance
		return
	}
	rec.SuggestedPrice = s
	rec.Direction = Up
}

// adviseDown 目标价低于当前价时降到目标价（不低于保本价），否则按默认降幅给出促销建议.
func (a *Advisor) adviseDown(rec *Recommendation, b bounds.PriceBounds) {
	p := rec.CurrentPrice
	want := rec.TargetPrice
	if want >= p {
		want = p * (1 - a.cfg.DefaultMarkdown)
	}
	s := max(want, b.Floor)
	rec.HitFloor = want < b.Floor-priceTolerance
	if s >= p-priceTolerance {
		rec.SuggestedPrice = p
		rec.Direction = Unchanged
		return
	}
	rec.SuggestedPrice = s
	rec.Direction = Down
}

// adviseAuto 以 ±DeadZonePct 为死区比较约束后的目标价与当前价.
func (a *Advisor) adviseAuto(rec *Recommendation, b bounds.PriceBounds) {
	p := rec.CurrentPrice
	s := b.Clamp(rec.TargetPrice)
	rec.HitCeiling = rec.TargetPrice > b.Ceiling+priceTolerance
	rec.HitFloor = rec.TargetPrice < b.Floor-priceTolerance

	diff := algomath.PctChange(p, s, 0)
	switch {
	case math.Abs(diff) <= a.cfg.DeadZonePct:
		rec.SuggestedPrice = p
		rec.Direction = Unchanged
	case diff > 0:
		rec.SuggestedPrice = s
		rec.Direction = Up
	default:
		rec.SuggestedPrice = s
		rec.Direction = Down
	}
}

// estimate 用弹性系数估计销量与利润变化.
func (a *Advisor) estimate(rec *Recommendation, agg order.ProductAggregate) {
	p, s, q, c := rec.CurrentPrice, rec.SuggestedPrice, agg.QuantitySold, agg.UnitCost

	priceChange := algomath.SafeRatio(s-p, p, 0)
	newQty := max(0, q*(1+priceChange*rec.Elasticity))

	rec.PriceChangePct = priceChange * 100
	rec.EstimatedQuantity = newQty
	rec.EstimatedQuantityChangePct = algomath.PctChange(q, newQty, 0)

	before := (p - c) * q
	after := (s - c) * newQty
	if math.Abs(before) < algomath.Epsilon {
		rec.ProfitChangeNA = true
		return
	}
	rec.EstimatedProfitChangePct = (after - before) / math.Abs(before) * 100
}
