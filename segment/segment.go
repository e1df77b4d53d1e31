// Package segment 实现六象限商品分类：基于利润率与动销指数的动态阈值，按优先级顺序匹配规则.
package segment

import (
	"sort"

	algomath "github.com/wyfcoding/pricing/algorithm/math"
	"github.com/wyfcoding/pricing/order"
)

// Label 商品分类标签.
type Label string

const (
	StrategicAttraction  Label = "STRATEGIC_ATTRACTION"   // 战略引流：极端定价但仍有一定销量
	Star                 Label = "STAR"                   // 明星：高利润高动销
	BestsellerStaple     Label = "BESTSELLER_STAPLE"      // 畅销刚需：低价高销量且利润率不低
	Potential            Label = "POTENTIAL"              // 潜力：利润率高但销量偏低
	NaturalTrafficDriver Label = "NATURAL_TRAFFIC_DRIVER" // 自然引流：利润率一般但动销好
	Underperformer       Label = "UNDERPERFORMER"         // 低效
)

// Labels 按优先级排列的全部标签.
var Labels = []Label{StrategicAttraction, Star, BestsellerStaple, Potential, NaturalTrafficDriver, Underperformer}

// Config 阈值百分位、绝对下限与极端定价判定参数.
type Config struct {
	HighSalesPercentile    float64
	MinHighSalesQty        float64
	MinHighOrders          float64
	AttractionPercentile   float64
	MinAttractionQty       float64
	LowPricePercentile     float64
	MinUnitProfit          float64
	MinTotalProfit         float64
	PotentialMinUnitProfit float64
	ExtremePrice           float64
	SevereLossRate         float64
	FarBelowCostRatio      float64
}

// DefaultConfig 默认参数.
func DefaultConfig() Config {
	return Config{
		HighSalesPercentile:    70,
		MinHighSalesQty:        5,
		MinHighOrders:          2,
		AttractionPercentile:   50,
		MinAttractionQty:       3,
		LowPricePercentile:     30,
		MinUnitProfit:          0.5,
		MinTotalProfit:         10,
		PotentialMinUnitProfit: 0.1,
		ExtremePrice:           0.01,
		SevereLossRate:         -50,
		FarBelowCostRatio:      0.5,
	}
}

// Thresholds 单次分类运行的动态阈值，计算一次后注入所有规则.
type Thresholds struct {
	CategoryMedianProfitRate map[string]float64
	GlobalMedianProfitRate   float64
	MedianVelocity           float64
	MedianQty                float64
	HighSalesQty             float64
	HighOrders               float64
	AttractionMinQty         float64
	LowPrice                 float64
	UnitProfitFloor          float64
	TotalProfitFloor         float64
	PotentialMinUnitProfit   float64
	ExtremePrice             float64
	SevereLossRate           float64
	FarBelowCostRatio        float64
}

// CategoryMedian 返回所在类目的利润率中位数，类目未知时退回全局中位数.
func (t Thresholds) CategoryMedian(category string) float64 {
	if m, ok := t.CategoryMedianProfitRate[category]; ok {
		return m
	}
	return t.GlobalMedianProfitRate
}

// ComputeThresholds 基于当前商品集合计算动态阈值，销量不为正的商品不参与统计.
func ComputeThresholds(aggs []order.ProductAggregate, cfg Config) Thresholds {
	byCategory := make(map[string][]float64)
	var rates, velocity, qty, orders, prices, unitProfits, totalProfits []float64
	for _, a := range aggs {
		if a.QuantitySold <= 0 {
			continue
		}
		byCategory[a.Category] = append(byCategory[a.Category], a.ProfitRate)
		rates = append(rates, a.ProfitRate)
		velocity = append(velocity, a.VelocityIndex)
		qty = append(qty, a.QuantitySold)
		orders = append(orders, float64(a.OrderCount))
		prices = append(prices, a.RealizedPrice)
		if a.Profit > 0 {
			unitProfits = append(unitProfits, a.UnitProfit)
			totalProfits = append(totalProfits, a.Profit)
		}
	}

	catMedian := make(map[string]float64, len(byCategory))
	for c, rs := range byCategory {
		catMedian[c] = algomath.Median(rs, 0)
	}

	return Thresholds{
		CategoryMedianProfitRate: catMedian,
		GlobalMedianProfitRate:   algomath.Median(rates, 0),
		MedianVelocity:           algomath.Median(velocity, 0),
		MedianQty:                algomath.Median(qty, 0),
		HighSalesQty:             max(algomath.Percentile(qty, cfg.HighSalesPercentile, 0), cfg.MinHighSalesQty),
		HighOrders:               max(algomath.Percentile(orders, cfg.HighSalesPercentile, 0), cfg.MinHighOrders),
		AttractionMinQty:         max(algomath.Percentile(qty, cfg.AttractionPercentile, 0), cfg.MinAttractionQty),
		LowPrice:                 algomath.Percentile(prices, cfg.LowPricePercentile, 0),
		UnitProfitFloor:          max(algomath.Percentile(unitProfits, 25, 0), cfg.MinUnitProfit),
		TotalProfitFloor:         max(algomath.Percentile(totalProfits, 50, 0), cfg.MinTotalProfit),
		PotentialMinUnitProfit:   cfg.PotentialMinUnitProfit,
		ExtremePrice:             cfg.ExtremePrice,
		SevereLossRate:           cfg.SevereLossRate,
		FarBelowCostRatio:        cfg.FarBelowCostRatio,
	}
}

// Rule 有序规则表中的一条：谓词命中即返回标签.
type Rule struct {
	Label  Label
	Reason string
	Match  func(a order.ProductAggregate, t Thresholds) bool
}

// Assignment 分类结果与命中原因.
type Assignment struct {
	Key      string
	Label    Label
	Reason   string
	CatchAll bool // 未命中任何显式规则，兜底归入 UNDERPERFORMER
}

// DefaultRules 默认规则表，顺序即优先级.
func DefaultRules() []Rule {
	return []Rule{
		{
			Label:  StrategicAttraction,
			Reason: "extreme pricing with meaningful volume",
			Match: func(a order.ProductAggregate, t Thresholds) bool {
				return IsExtremePricing(a, t) && a.QuantitySold >= t.AttractionMinQty
			},
		},
		{
			Label:  Star,
			Reason: "above-category margin and above-median velocity with real profit",
			Match: func(a order.ProductAggregate, t Thresholds) bool {
				return a.ProfitRate > t.CategoryMedian(a.Category) &&
					a.VelocityIndex > t.MedianVelocity &&
					(a.UnitProfit >= t.UnitProfitFloor || a.Profit >= t.TotalProfitFloor)
			},
		},
		{
			Label:  BestsellerStaple,
			Reason: "low price and high volume without margin sacrifice",
			Match: func(a order.ProductAggregate, t Thresholds) bool {
				return a.RealizedPrice < t.LowPrice &&
					a.QuantitySold >= t.HighSalesQty &&
					a.ProfitRate >= t.CategoryMedian(a.Category)
			},
		},
		{
			Label:  Potential,
			Reason: "above-category margin but below-median volume",
			Match: func(a order.ProductAggregate, t Thresholds) bool {
				return a.ProfitRate > t.CategoryMedian(a.Category) &&
					a.QuantitySold < t.MedianQty &&
					a.UnitProfit > t.PotentialMinUnitProfit
			},
		},
		{
			Label:  NaturalTrafficDriver,
			Reason: "ordinary margin but strong velocity",
			Match: func(a order.ProductAggregate, t Thresholds) bool {
				return a.ProfitRate <= t.CategoryMedian(a.Category) &&
					a.VelocityIndex > t.MedianVelocity &&
					a.QuantitySold >= t.AttractionMinQty &&
					float64(a.OrderCount) >= t.HighOrders
			},
		},
		{
			Label:  Underperformer,
			Reason: "below-category margin and below-median velocity",
			Match: func(a order.ProductAggregate, t Thresholds) bool {
				return a.ProfitRate <= t.CategoryMedian(a.Category) && a.VelocityIndex <= t.MedianVelocity
			},
		},
	}
}

// IsExtremePricing 判断是否为极端定价：近乎零价、严重亏损、远低于成本或零收入.
func IsExtremePricing(a order.ProductAggregate, t Thresholds) bool {
	return a.RealizedPrice <= t.ExtremePrice ||
		a.ProfitRate <= t.SevereLossRate ||
		(a.UnitCost > 0 && a.RealizedPrice < a.UnitCost*t.FarBelowCostRatio) ||
		a.Revenue == 0
}

// Classifier 六象限分类器.
type Classifier struct {
	cfg   Config
	rules []Rule
}

// NewClassifier 创建分类器，rules 为空时使用默认规则表.
func NewClassifier(cfg Config, rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{cfg: cfg, rules: rules}
}

// Classify 为每个销量为正的商品分配且仅分配一个标签.
func (c *Classifier) Classify(aggs []order.ProductAggregate) map[string]Label {
	out := make(map[string]Label, len(aggs))
	for _, a := range c.ClassifyDetailed(aggs) {
		out[a.Key] = a.Label
	}
	return out
}

// ClassifyDetailed 返回带命中原因的分类结果，按商品键排序.
func (c *Classifier) ClassifyDetailed(aggs []order.ProductAggregate) []Assignment {
	th := ComputeThresholds(aggs, c.cfg)
	return c.ClassifyWith(aggs, th)
}

// ClassifyWith 使用外部给定的阈值分类.
func (c *Classifier) ClassifyWith(aggs []order.ProductAggregate, th Thresholds) []Assignment {
	out := make([]Assignment, 0, len(aggs))
	for _, a := range aggs {
		if a.QuantitySold <= 0 {
			continue
		}
		out = append(out, c.assign(a, th))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *Classifier) assign(a order.ProductAggregate, th Thresholds) Assignment {
	for _, r := range c.rules {
		if r.Match(a, th) {
			return Assignment{Key: a.Key, Label: r.Label, Reason: r.Reason}
		}
	}
	return Assignment{Key: a.Key, Label: Underperformer, Reason: "no rule matched", CatchAll: true}
}

// Counts 统计每个标签的商品数.
func Counts(labels map[string]Label) map[Label]int {
	out := make(map[Label]int, len(Labels))
	for _, l := range labels {
		out[l]++
	}
	return out
}
