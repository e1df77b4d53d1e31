package optimizer

import (
	"math"
	"sort"

	algomath "github.com/wyfcoding/pricing/algorithm/math"
	"github.com/wyfcoding/pricing/algorithm/optimization"
)

// item 参与优化的单个商品.
type item struct {
	key        string
	name       string
	category   string
	price      float64
	cost       float64
	qty        float64
	elasticity float64
	floor      float64
	ceiling    float64
	lo, hi     float64 // 允许的调价率区间
	maxUp      float64
	maxDown    float64
}

// quantity 调价率 r 下的预计销量，不小于 0.
func (it item) quantity(r float64) float64 {
	return max(0, it.qty*(1+r*it.elasticity))
}

// profit 调价率 r 下的预计利润.
func (it item) profit(r float64) float64 {
	return (it.price*(1+r) - it.cost) * it.quantity(r)
}

// profitGrad 利润对调价率的导数.
func (it item) profitGrad(r float64) float64 {
	q := it.quantity(r)
	d := it.price * q
	if q > 0 {
		d += (it.price*(1+r) - it.cost) * it.qty * it.elasticity
	}
	return d
}

// problem 组合优化问题：min (max(0, T-Π(r))/S)² + λ·Σr².
type problem struct {
	items       []item // 决策变量对应的商品
	fixedProfit float64
	target      float64
	scale       float64
	lambda      float64
}

func newProblem(items []item, fixedProfit, current, target, lambda float64) *problem {
	return &problem{
		items:       items,
		fixedProfit: fixedProfit,
		target:      target,
		scale:       math.Max(math.Abs(target-current), 1),
		lambda:      lambda,
	}
}

func (p *problem) totalProfit(x []float64) float64 {
	total := p.fixedProfit
	for i, it := range p.items {
		total += it.profit(x[i])
	}
	return total
}

func (p *problem) objective(x []float64) float64 {
	short := math.Max(0, p.target-p.totalProfit(x)) / p.scale
	return short*short + p.lambda*algomath.SumSquares(x)
}

func (p *problem) gradient(x, grad []float64) {
	short := math.Max(0, p.target-p.totalProfit(x))
	coef := -2 * short / (p.scale * p.scale)
	for i, it := range p.items {
		grad[i] = coef*it.profitGrad(x[i]) + 2*p.lambda*x[i]
	}
}

func (p *problem) box() optimization.Box {
	b := optimization.Box{Lower: make([]float64, len(p.items)), Upper: make([]float64, len(p.items))}
	for i, it := range p.items {
		b.Lower[i] = it.lo
		b.Upper[i] = it.hi
	}
	return b
}

// warmStart 按优先级挑选约三分之一的商品，以上调上限的一半作为初始点.
func (p *problem) warmStart(priority Priority, raise bool) []float64 {
	x := make([]float64, len(p.items))
	for i, it := range p.items {
		x[i] = algomath.Clamp(0, it.lo, it.hi)
	}
	if !raise || len(p.items) == 0 {
		return x
	}

	idx := make([]int, len(p.items))
	for i := range idx {
		idx[i] = i
	}
	score := func(it item) float64 {
		switch priority {
		case SalesVolume:
			return it.qty
		case LowElasticity:
			return -math.Abs(it.elasticity)
		case LowMargin:
			return -algomath.SafeRatio(it.price-it.cost, it.price, 0)
		default:
			return (it.price - it.cost) * it.qty
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return score(p.items[idx[a]]) > score(p.items[idx[b]])
	})

	top := (len(idx) + 2) / 3
	for _, i := range idx[:top] {
		it := p.items[i]
		x[i] = algomath.Clamp(0.5*it.hi, it.lo, it.hi)
	}
	return x
}
