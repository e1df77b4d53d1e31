// Package optimizer 在每个商品的价格区间内求解组合调价率，使总利润尽量达到目标.
// 先用局部求解器（谱投影梯度），达成率不足且规模可控时再用差分进化做全局搜索.
package optimizer

import (
	"context"
	"math"
	"sort"
	"time"

	algomath "github.com/wyfcoding/pricing/algorithm/math"
	"github.com/wyfcoding/pricing/algorithm/optimization"
	"github.com/wyfcoding/pricing/bounds"
	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/elasticity"
	"github.com/wyfcoding/pricing/idgen"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/xerrors"
)

// GoalType 决定目标总利润的计算方式.
type GoalType string

const (
	AbsoluteIncrease   GoalType = "absolute_increase"   // T = P0 + v
	AbsoluteTarget     GoalType = "absolute_target"     // T = v
	PercentageIncrease GoalType = "percentage_increase" // T = P0 + |P0|·v/100
)

// Goal 利润目标.
type Goal struct {
	Type  GoalType `json:"type"`
	Value float64  `json:"value"`
}

// TargetProfit 根据当前总利润计算目标总利润.
func (g Goal) TargetProfit(current float64) (float64, error) {
	if !algomath.IsFinite(g.Value) {
		return 0, xerrors.Configuration("goal value must be finite, got %v", g.Value)
	}
	switch g.Type {
	case AbsoluteIncrease:
		return current + g.Value, nil
	case AbsoluteTarget:
		return g.Value, nil
	case PercentageIncrease:
		return current + math.Abs(current)*g.Value/100, nil
	default:
		return 0, xerrors.Configuration("unknown goal type %q", g.Type)
	}
}

// Priority 热启动时优先上调的商品选择策略.
type Priority string

const (
	ProfitContribution Priority = "profit_contribution"
	SalesVolume        Priority = "sales_volume"
	LowElasticity      Priority = "low_elasticity"
	LowMargin          Priority = "low_margin"
)

// Constraints 单次优化的约束.
type Constraints struct {
	MaxPriceUpPct   float64  `json:"max_price_up_pct"`
	MaxPriceDownPct float64  `json:"max_price_down_pct"`
	Priority        Priority `json:"priority"`
	Lambda          float64  `json:"lambda"`
	// DefaultElasticity 弹性表中缺失的商品使用的系数.
	DefaultElasticity float64 `json:"default_elasticity"`
}

// ConstraintsFrom 由配置生成默认约束.
func ConstraintsFrom(cfg config.OptimizerConfig, defaultElasticity float64) Constraints {
	return Constraints{
		MaxPriceUpPct:     cfg.MaxPriceUpPct,
		MaxPriceDownPct:   cfg.MaxPriceDownPct,
		Priority:          Priority(cfg.Priority),
		Lambda:            cfg.Lambda,
		DefaultElasticity: defaultElasticity,
	}
}

func (c Constraints) validate() error {
	if c.MaxPriceUpPct < 0 || c.MaxPriceDownPct < 0 || c.MaxPriceDownPct >= 100 {
		return xerrors.Configuration("price caps up=%.2f%% down=%.2f%% invalid", c.MaxPriceUpPct, c.MaxPriceDownPct)
	}
	if c.Lambda < 0 || !algomath.IsFinite(c.Lambda) {
		return xerrors.Configuration("lambda %v must be a non-negative number", c.Lambda)
	}
	switch c.Priority {
	case ProfitContribution, SalesVolume, LowElasticity, LowMargin, "":
		return nil
	default:
		return xerrors.Configuration("unknown priority %q", c.Priority)
	}
}

// Status 目标达成情况，按达成率分档：≥0.95 完全达成，≥0.8 基本达成，≥ infeasible_ratio 部分达成，否则不可达.
// Result.Infeasible 与分档独立：低于 infeasible_ratio，或仍有缺口且所有商品都已用满区间时置位.
type Status string

const (
	FullyAchieved     Status = "fully_achieved"
	MostlyAchieved    Status = "mostly_achieved"
	PartiallyAchieved Status = "partially_achieved"
	TargetInfeasible  Status = "target_infeasible"
)

// 求解器标识.
const (
	SolverNone   = "none"
	SolverLocal  = "local"
	SolverGlobal = "local+global"
)

// ProductPlan 单个商品的调价方案.
type ProductPlan struct {
	Key             string  `json:"key"`
	DisplayName     string  `json:"display_name"`
	Category        string  `json:"category"`
	CurrentPrice    float64 `json:"current_price"`
	NewPrice        float64 `json:"new_price"`
	RateChange      float64 `json:"rate_change"` // 带符号小数
	MinRate         float64 `json:"min_rate"`
	MaxRate         float64 `json:"max_rate"`
	Floor           float64 `json:"floor_price"`
	Ceiling         float64 `json:"ceiling_price"`
	Elasticity      float64 `json:"elasticity"`
	CurrentQuantity float64 `json:"current_quantity"`
	NewQuantity     float64 `json:"new_quantity"`
	CurrentProfit   float64 `json:"current_profit"`
	NewProfit       float64 `json:"new_profit"`
	HitFloor        bool    `json:"hit_floor"`
	HitCeiling      bool    `json:"hit_ceiling"`
	// RateLimited 调价率触到用户配置的涨跌幅上限.
	RateLimited bool `json:"rate_limited"`
	// Fixed 没有调价空间，作为常数计入总利润.
	Fixed bool `json:"fixed"`
}

// BoundLimited 是否受价格区间或涨跌幅上限约束.
func (p ProductPlan) BoundLimited() bool {
	return p.HitFloor || p.HitCeiling || p.RateLimited
}

// Result 组合优化结果.
type Result struct {
	RunID               string            `json:"run_id"`
	Goal                Goal              `json:"goal"`
	Constraints         Constraints       `json:"constraints"`
	Solver              string            `json:"solver"`
	Plans               []ProductPlan     `json:"plans"`
	Exclusions          []order.Exclusion `json:"exclusions"`
	CurrentTotalProfit  float64           `json:"current_total_profit"`
	TargetTotalProfit   float64           `json:"target_total_profit"`
	AchievedTotalProfit float64           `json:"achieved_total_profit"`
	TargetGain          float64           `json:"target_gain"`
	AchievedGain        float64           `json:"achieved_gain"`
	AchievementRatio    float64           `json:"achievement_ratio"`
	Status              Status            `json:"status"`
	// Infeasible 即使用满约束也无法达到目标，需要放宽约束或调整目标；可与任一 Status 同时出现.
	Infeasible bool    `json:"infeasible"`
	Shortfall  float64 `json:"shortfall"`
	Iterations int     `json:"iterations"`
}

// Changed 返回实际调价的商品方案.
func (r *Result) Changed() []ProductPlan {
	var out []ProductPlan
	for _, p := range r.Plans {
		if math.Abs(p.RateChange) > 1e-6 {
			out = append(out, p)
		}
	}
	return out
}

// Option 优化器可选项.
type Option func(*Optimizer)

// WithIDGenerator 注入运行编号生成器.
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *Optimizer) { o.ids = g }
}

// WithMetrics 注入业务指标.
func WithMetrics(m *metrics.PricingMetrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// WithLogger 注入日志.
func WithLogger(l *logging.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// Optimizer 组合调价优化器，每次调用互不共享状态.
type Optimizer struct {
	cfg     config.OptimizerConfig
	ids     idgen.Generator
	metrics *metrics.PricingMetrics
	logger  *logging.Logger
}

// New 创建优化器.
func New(cfg config.OptimizerConfig, opts ...Option) (*Optimizer, error) {
	if cfg.GlobalTriggerRatio < 0 || cfg.GlobalTriggerRatio > 1 {
		return nil, xerrors.Configuration("optimizer.global_trigger_ratio %v must be in [0,1]", cfg.GlobalTriggerRatio)
	}
	o := &Optimizer{cfg: cfg, logger: logging.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

const (
	rateEpsilon       = 1e-9
	limitEpsilon      = 1e-6
	saturationEpsilon = 1e-4 // 调价率距端点不足万分之一即视为用满
)

// Optimize 求解组合调价。缺少价格区间、当前价非正或低于保本价且无法在上调上限内回到保本价的商品被排除；
// 没有调价空间的商品作为常数计入。返回的每个新价格都位于 [保本价, 上限价] 内。
func (o *Optimizer) Optimize(ctx context.Context, aggs []order.ProductAggregate, boundsMap map[string]bounds.PriceBounds,
	elasticityMap map[string]elasticity.Estimate, goal Goal, cons Constraints,
) (*Result, error) {
	start := time.Now()
	defer o.metrics.Since("optimize", start)

	if err := cons.validate(); err != nil {
		return nil, err
	}
	if _, err := goal.TargetProfit(0); err != nil {
		return nil, err
	}

	res := &Result{Goal: goal, Constraints: cons, Solver: SolverNone}
	if o.ids != nil {
		res.RunID = idgen.PlanID(o.ids)
	}

	variables, fixed, excluded := o.partition(aggs, boundsMap, elasticityMap, cons)
	res.Exclusions = excluded
	for _, e := range excluded {
		o.metrics.IncExclusion(e.Reason)
	}

	var fixedProfit, current float64
	for _, f := range fixed {
		fixedProfit += f.profit(f.lo)
		current += f.profit(0)
	}
	for _, it := range variables {
		current += it.profit(0)
	}
	target, _ := goal.TargetProfit(current)
	res.CurrentTotalProfit = current
	res.TargetTotalProfit = target
	res.TargetGain = target - current

	prob := newProblem(variables, fixedProfit, current, target, cons.Lambda)
	x, err := o.solve(ctx, prob, cons, res)
	if err != nil {
		return nil, err
	}

	o.report(res, variables, fixed, x)
	o.metrics.ObserveOptimization(res.Solver, string(res.Status), res.AchievementRatio)
	o.logger.InfoContext(ctx, "portfolio optimized",
		"run_id", res.RunID,
		"products", len(res.Plans),
		"variables", len(variables),
		"excluded", len(excluded),
		"solver", res.Solver,
		"status", res.Status,
		"achievement_ratio", res.AchievementRatio,
		"duration", time.Since(start),
	)
	return res, nil
}

// partition 计算每个商品的调价率区间，并划分为决策变量、常数与排除项.
func (o *Optimizer) partition(aggs []order.ProductAggregate, boundsMap map[string]bounds.PriceBounds,
	elasticityMap map[string]elasticity.Estimate, cons Constraints,
) (variables, fixed []item, excluded []order.Exclusion) {
	sorted := append([]order.ProductAggregate(nil), aggs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	maxUp := cons.MaxPriceUpPct / 100
	maxDown := cons.MaxPriceDownPct / 100
	for _, a := range sorted {
		b, ok := boundsMap[a.Key]
		if !ok {
			excluded = append(excluded, order.Exclusion{Key: a.Key, Name: a.DisplayName, Reason: order.ReasonNoBounds})
			continue
		}
		p := a.RealizedPrice
		if p <= 0 {
			excluded = append(excluded, order.Exclusion{Key: a.Key, Name: a.DisplayName, Reason: order.ReasonNonPositivePrice})
			continue
		}
		e := cons.DefaultElasticity
		if est, ok := elasticityMap[a.Key]; ok {
			e = est.Coefficient
		}

		it := item{
			key:        a.Key,
			name:       a.DisplayName,
			category:   a.Category,
			price:      p,
			cost:       a.UnitCost,
			qty:        a.QuantitySold,
			elasticity: e,
			floor:      b.Floor,
			ceiling:    b.Ceiling,
			maxUp:      maxUp,
			maxDown:    maxDown,
			hi:         min(maxUp, (b.Ceiling-p)/p),
			lo:         max(-maxDown, (b.Floor-p)/p),
		}
		if p >= b.Floor {
			it.lo = min(it.lo, 0)
			it.hi = max(it.hi, 0)
		} else if it.lo > it.hi+rateEpsilon {
			excluded = append(excluded, order.Exclusion{
				Key:    a.Key,
				Name:   a.DisplayName,
				Reason: order.ReasonBelowFloorUnreachable,
				Detail: "floor price cannot be reached within max_price_up_pct",
			})
			continue
		}

		if it.hi-it.lo < rateEpsilon {
			it.hi = it.lo
			fixed = append(fixed, it)
			continue
		}
		variables = append(variables, it)
	}
	return variables, fixed, excluded
}

// solve 局部求解，必要时追加全局搜索，返回决策变量的调价率.
func (o *Optimizer) solve(ctx context.Context, prob *problem, cons Constraints, res *Result) ([]float64, error) {
	n := len(prob.items)
	if n == 0 {
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	box := prob.box()
	spg := optimization.DefaultSPGOptions()
	if o.cfg.LocalMaxIter > 0 {
		spg.MaxIter = o.cfg.LocalMaxIter
	}

	x0 := prob.warmStart(cons.Priority, res.TargetGain > 0)
	local := optimization.MinimizeSPG(prob.objective, prob.gradient, x0, box, spg)
	res.Solver = SolverLocal
	res.Iterations = local.Iter

	best := local.X
	if res.TargetGain <= 0 {
		return best, nil
	}
	ratio := (prob.totalProfit(best) - res.CurrentTotalProfit) / res.TargetGain
	if ratio >= o.cfg.GlobalTriggerRatio || n > o.cfg.GlobalMaxProducts {
		return best, nil
	}

	de := optimization.DefaultDEOptions()
	if o.cfg.DEPopulation > 0 {
		de.Population = o.cfg.DEPopulation
	}
	if o.cfg.DEGenerations > 0 {
		de.Generations = o.cfg.DEGenerations
	}
	if o.cfg.DEWorkers > 0 {
		de.Workers = o.cfg.DEWorkers
	}
	de.Seed = o.cfg.Seed

	global, err := optimization.DifferentialEvolution(ctx, prob.objective, box, de, local.X, x0)
	if err != nil {
		return nil, err
	}
	polished := optimization.MinimizeSPG(prob.objective, prob.gradient, global.X, box, spg)
	res.Solver = SolverGlobal
	res.Iterations += global.Iter + polished.Iter

	if prob.totalProfit(polished.X) > prob.totalProfit(best) {
		best = polished.X
	}
	o.logger.DebugContext(ctx, "global search finished",
		"local_ratio", ratio,
		"generations", global.Iter,
		"global_profit", prob.totalProfit(polished.X),
	)
	return best, nil
}

// report 生成商品方案并汇总达成情况；新价格最终约束在 [保本价, 上限价] 内.
func (o *Optimizer) report(res *Result, variables, fixed []item, x []float64) {
	plans := make([]ProductPlan, 0, len(variables)+len(fixed))
	for i, it := range variables {
		plans = append(plans, plan(it, x[i], false))
	}
	for _, it := range fixed {
		plans = append(plans, plan(it, it.lo, true))
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Key < plans[j].Key })
	res.Plans = plans

	var achieved float64
	for _, p := range plans {
		achieved += p.NewProfit
	}
	res.AchievedTotalProfit = achieved
	res.AchievedGain = achieved - res.CurrentTotalProfit

	if res.TargetGain <= 0 {
		res.AchievementRatio = 1
	} else {
		res.AchievementRatio = res.AchievedGain / res.TargetGain
	}
	res.Shortfall = max(0, res.TargetTotalProfit-achieved)

	switch r := res.AchievementRatio; {
	case r >= 0.95:
		res.Status = FullyAchieved
	case r >= 0.8:
		res.Status = MostlyAchieved
	case r >= o.cfg.InfeasibleRatio:
		res.Status = PartiallyAchieved
	default:
		res.Status = TargetInfeasible
		res.Infeasible = true
	}
	// 仍有缺口且所有商品都已用满调价区间：目标在当前约束下不可达
	if res.Shortfall > shortfallTolerance(res.TargetTotalProfit) && allSaturated(plans) {
		res.Infeasible = true
	}
}

func shortfallTolerance(target float64) float64 {
	return limitEpsilon * max(1, math.Abs(target))
}

// allSaturated 判断每个商品的调价率是否都停在区间端点，固定商品视为已用满.
func allSaturated(plans []ProductPlan) bool {
	for _, p := range plans {
		if p.Fixed {
			continue
		}
		if math.Abs(p.RateChange-p.MinRate) > saturationEpsilon && math.Abs(p.RateChange-p.MaxRate) > saturationEpsilon {
			return false
		}
	}
	return true
}

func plan(it item, r float64, fixed bool) ProductPlan {
	newPrice := min(max(it.price*(1+r), it.floor), it.ceiling)
	rate := newPrice/it.price - 1
	if math.Abs(rate) < rateEpsilon && it.price >= it.floor && it.price <= it.ceiling {
		rate, newPrice = 0, it.price
	}
	return ProductPlan{
		Key:             it.key,
		DisplayName:     it.name,
		Category:        it.category,
		CurrentPrice:    it.price,
		NewPrice:        newPrice,
		RateChange:      rate,
		MinRate:         it.lo,
		MaxRate:         it.hi,
		Floor:           it.floor,
		Ceiling:         it.ceiling,
		Elasticity:      it.elasticity,
		CurrentQuantity: it.qty,
		NewQuantity:     it.quantity(rate),
		CurrentProfit:   it.profit(0),
		NewProfit:       it.profit(rate),
		HitFloor:        rate < 0 && newPrice <= it.floor*(1+limitEpsilon),
		HitCeiling:      rate > 0 && newPrice >= it.ceiling*(1-limitEpsilon),
		RateLimited:     (it.maxUp > 0 && rate >= it.maxUp-limitEpsilon) || (it.maxDown > 0 && rate <= -it.maxDown+limitEpsilon),
		Fixed:           fixed,
	}
}
