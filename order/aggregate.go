package order

import (
	"slices"
	"strings"
	"time"

	algomath "github.com/wyfcoding/pricing/algorithm/math"
	"github.com/wyfcoding/pricing/money"
)

// 排除原因码，贯穿聚合、边界与优化各阶段.
const (
	ReasonNonSellableCategory   = "non_sellable_category"
	ReasonNoSales               = "no_sales"
	ReasonNonPositiveCost       = "non_positive_cost"
	ReasonFloorAboveCeiling     = "floor_above_ceiling"
	ReasonNoBounds              = "no_bounds"
	ReasonBelowFloorUnreachable = "below_floor_unreachable"
	ReasonNonPositivePrice      = "non_positive_price"
)

// Exclusion 被排除在计算之外的商品及原因.
type Exclusion struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ProductAggregate 单个商品在分析周期内的汇总指标，每次分析重新计算.
type ProductAggregate struct {
	Key           string
	DisplayName   string
	Category      string
	Channel       string
	UnitCost      float64 // 加权平均单位成本
	RealizedPrice float64 // 实收单价 = 收入 / 销量
	ListPrice     float64 // 标价，缺失时等于实收单价
	QuantitySold  float64
	OrderCount    int
	Revenue       float64
	Cost          float64
	Profit        float64
	UnitProfit    float64
	ProfitRate    float64 // 百分比
	VelocityIndex float64 // [0,1]
	FirstSeen     time.Time
	LastSeen      time.Time
}

// 动销指数中销量与订单数的权重.
const (
	velocityQtyWeight   = 0.6
	velocityOrderWeight = 0.4
)

// AggregateOptions 聚合参数.
type AggregateOptions struct {
	NonSellableCategories []string
}

type accumulator struct {
	agg          ProductAggregate
	revenue      money.Money
	cost         money.Money
	orders       map[string]struct{}
	anonymous    int
	listPriceAt  time.Time
	hasListPrice bool
}

// Aggregate 将订单明细按商品键汇总，返回按键排序的聚合结果与被排除的商品。
// 非售卖类目整体排除；数量不为正的明细（退货、异常）在汇总前丢弃，
// 只有这类明细的商品记为 no_sales。
func Aggregate(lines []Line, opts AggregateOptions) ([]ProductAggregate, []Exclusion) {
	nonSellable := make(map[string]struct{}, len(opts.NonSellableCategories))
	for _, c := range opts.NonSellableCategories {
		nonSellable[normalizeCategory(c)] = struct{}{}
	}

	accs := make(map[string]*accumulator)
	excluded := make(map[string]Exclusion)
	returned := make(map[string]string)

	for _, l := range lines {
		key := l.Key()
		if _, ok := nonSellable[normalizeCategory(l.Category)]; ok && l.Category != "" {
			if _, seen := excluded[key]; !seen {
				excluded[key] = Exclusion{Key: key, Name: l.ProductName, Reason: ReasonNonSellableCategory, Detail: l.Category}
			}
			continue
		}

		// 退货与数量异常的明细不参与汇总，也不计入订单数
		if l.Quantity <= 0 {
			if _, seen := returned[key]; !seen {
				returned[key] = l.ProductName
			}
			continue
		}

		acc, ok := accs[key]
		if !ok {
			acc = &accumulator{
				agg:     ProductAggregate{Key: key},
				revenue: money.Zero,
				cost:    money.Zero,
				orders:  make(map[string]struct{}),
			}
			accs[key] = acc
		}
		acc.add(l)
	}

	for key, name := range returned {
		if _, ok := accs[key]; ok {
			continue
		}
		if _, ok := excluded[key]; !ok {
			excluded[key] = Exclusion{Key: key, Name: name, Reason: ReasonNoSales}
		}
	}

	aggs := make([]ProductAggregate, 0, len(accs))
	for key, acc := range accs {
		delete(excluded, key)
		aggs = append(aggs, acc.finish())
	}

	slices.SortFunc(aggs, func(a, b ProductAggregate) int { return strings.Compare(a.Key, b.Key) })
	applyVelocity(aggs)

	exclusions := make([]Exclusion, 0, len(excluded))
	for _, e := range excluded {
		exclusions = append(exclusions, e)
	}
	SortExclusions(exclusions)
	return aggs, exclusions
}

func (a *accumulator) add(l Line) {
	if a.agg.DisplayName == "" {
		a.agg.DisplayName = l.ProductName
	}
	if a.agg.Category == "" {
		a.agg.Category = l.Category
	}
	if a.agg.Channel == "" {
		a.agg.Channel = l.Channel
	}

	a.agg.QuantitySold += l.Quantity
	a.revenue = a.revenue.Add(money.New(l.Revenue))
	a.cost = a.cost.Add(money.New(l.Cost))

	if l.OrderID != "" {
		a.orders[l.OrderID] = struct{}{}
	} else {
		a.anonymous++
	}

	if !l.OrderTime.IsZero() {
		if a.agg.FirstSeen.IsZero() || l.OrderTime.Before(a.agg.FirstSeen) {
			a.agg.FirstSeen = l.OrderTime
		}
		if l.OrderTime.After(a.agg.LastSeen) {
			a.agg.LastSeen = l.OrderTime
		}
	}

	// 标价取最近一次出现的正值
	if l.ListPrice > 0 && (!a.hasListPrice || !l.OrderTime.Before(a.listPriceAt)) {
		a.agg.ListPrice = l.ListPrice
		a.listPriceAt = l.OrderTime
		a.hasListPrice = true
	}
}

func (a *accumulator) finish() ProductAggregate {
	p := a.agg
	qty := p.QuantitySold
	p.Revenue = a.revenue.Round(4).ToFloat()
	p.Cost = a.cost.Round(4).ToFloat()
	p.Profit = a.revenue.Sub(a.cost).Round(4).ToFloat()
	p.OrderCount = len(a.orders) + a.anonymous

	p.UnitCost = max(0, algomath.SafeRatio(p.Cost, qty, 0))
	p.RealizedPrice = max(0, algomath.SafeRatio(p.Revenue, qty, 0))
	p.UnitProfit = algomath.SafeRatio(p.Profit, qty, 0)
	if !a.hasListPrice {
		p.ListPrice = p.RealizedPrice
	}
	p.ProfitRate = ProfitRate(p.Revenue, p.Cost)
	return p
}

// ProfitRate 计算毛利率百分比。收入为 0 时：有成本记为 -100，否则为 0。
func ProfitRate(revenue, cost float64) float64 {
	if revenue == 0 {
		if cost > 0 {
			return -100
		}
		return 0
	}
	return algomath.SafeRatio(revenue-cost, revenue, 0) * 100
}

// applyVelocity 基于当前商品集合计算动销指数.
func applyVelocity(aggs []ProductAggregate) {
	qty := make([]float64, len(aggs))
	orders := make([]float64, len(aggs))
	for i, a := range aggs {
		qty[i] = a.QuantitySold
		orders[i] = float64(a.OrderCount)
	}
	nq := algomath.MinMaxNormalize(qty)
	no := algomath.MinMaxNormalize(orders)
	for i := range aggs {
		aggs[i].VelocityIndex = algomath.Clamp(velocityQtyWeight*nq[i]+velocityOrderWeight*no[i], 0, 1)
	}
}

// SortExclusions 按键与原因排序，保证输出稳定.
func SortExclusions(ex []Exclusion) {
	slices.SortFunc(ex, func(a, b Exclusion) int {
		if c := strings.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return strings.Compare(a.Reason, b.Reason)
	})
}

// Index 按键建立索引.
func Index(aggs []ProductAggregate) map[string]ProductAggregate {
	m := make(map[string]ProductAggregate, len(aggs))
	for _, a := range aggs {
		m[a.Key] = a
	}
	return m
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
