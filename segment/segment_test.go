package segment

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/pricing/order"
)

func mk(key string, price, cost, qty float64, orders int, velocity float64) order.ProductAggregate {
	revenue := price * qty
	c := cost * qty
	return order.ProductAggregate{
		Key:           key,
		Category:      "c",
		UnitCost:      cost,
		RealizedPrice: price,
		ListPrice:     price,
		QuantitySold:  qty,
		OrderCount:    orders,
		Revenue:       revenue,
		Cost:          c,
		Profit:        revenue - c,
		UnitProfit:    price - cost,
		ProfitRate:    order.ProfitRate(revenue, c),
		VelocityIndex: velocity,
	}
}

func fixedThresholds() Thresholds {
	return Thresholds{
		CategoryMedianProfitRate: map[string]float64{"c": 20},
		GlobalMedianProfitRate:   20,
		MedianVelocity:           0.5,
		MedianQty:                10,
		HighSalesQty:             20,
		HighOrders:               5,
		AttractionMinQty:         3,
		LowPrice:                 5,
		UnitProfitFloor:          0.5,
		TotalProfitFloor:         10,
		PotentialMinUnitProfit:   0.1,
		ExtremePrice:             0.01,
		SevereLossRate:           -50,
		FarBelowCostRatio:        0.5,
	}
}

func TestRulesInPriorityOrder(t *testing.T) {
	tests := []struct {
		agg      order.ProductAggregate
		want     Label
		catchAll bool
	}{
		{mk("attraction", 0.01, 2, 10, 3, 0.6), StrategicAttraction, false},
		{mk("extreme-low-volume", 0.01, 2, 2, 1, 0.2), Underperformer, false},
		{mk("star", 10, 7, 15, 6, 0.8), Star, false},
		{mk("staple", 2.0/3, 2.0/3-0.2, 25, 8, 0.8), BestsellerStaple, false},
		{mk("potential", 10, 6, 5, 2, 0.3), Potential, false},
		{mk("traffic", 10, 9, 30, 10, 0.9), NaturalTrafficDriver, false},
		{mk("nothing", 10, 7, 15, 3, 0.3), Underperformer, true},
	}

	c := NewClassifier(DefaultConfig())
	aggs := make([]order.ProductAggregate, len(tests))
	for i, tt := range tests {
		aggs[i] = tt.agg
	}
	got := c.ClassifyWith(aggs, fixedThresholds())
	byKey := make(map[string]Assignment, len(got))
	for _, a := range got {
		byKey[a.Key] = a
	}

	for _, tt := range tests {
		t.Run(tt.agg.Key, func(t *testing.T) {
			a, ok := byKey[tt.agg.Key]
			require.True(t, ok)
			assert.Equal(t, tt.want, a.Label)
			assert.Equal(t, tt.catchAll, a.CatchAll)
			assert.NotEmpty(t, a.Reason)
		})
	}
}

func TestComputeThresholdsFloors(t *testing.T) {
	aggs := []order.ProductAggregate{
		mk("a", 10, 8, 1, 1, 0.1),
		mk("b", 4, 3, 2, 1, 0.5),
		mk("c", 6, 7, 3, 1, 0.9),
	}
	th := ComputeThresholds(aggs, DefaultConfig())

	assert.Equal(t, 5.0, th.HighSalesQty, "P70 of tiny volumes is floored at 5")
	assert.Equal(t, 2.0, th.HighOrders)
	assert.Equal(t, 3.0, th.AttractionMinQty)
	assert.Equal(t, 0.5, th.MedianVelocity)
	assert.Equal(t, 2.0, th.MedianQty)
	assert.Equal(t, 10.0, th.TotalProfitFloor)
	assert.Equal(t, 1.0, th.UnitProfitFloor)
	assert.InDelta(t, 20.0, th.CategoryMedian("c"), 1e-9)
	assert.InDelta(t, th.GlobalMedianProfitRate, th.CategoryMedian("unknown"), 1e-12)
}

func TestClassifySkipsNonPositiveQuantity(t *testing.T) {
	aggs := []order.ProductAggregate{mk("a", 10, 5, 3, 1, 0.5), {Key: "zero", QuantitySold: 0}}
	labels := NewClassifier(DefaultConfig()).Classify(aggs)
	assert.Len(t, labels, 1)
	assert.Contains(t, labels, "a")
}

// 任意商品集合中每个销量为正的商品恰好获得一个合法标签.
func TestClassificationIsCompleteAndExclusive(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 20 {
		n := 1 + rng.IntN(60)
		aggs := make([]order.ProductAggregate, n)
		for i := range aggs {
			price := rng.Float64() * 30
			cost := rng.Float64() * 30
			qty := float64(1 + rng.IntN(100))
			aggs[i] = mk(fmt.Sprintf("p%d-%d", round, i), price, cost, qty, 1+rng.IntN(40), rng.Float64())
			aggs[i].Category = fmt.Sprintf("cat%d", rng.IntN(4))
		}

		got := NewClassifier(DefaultConfig()).ClassifyDetailed(aggs)
		require.Len(t, got, n)
		seen := make(map[string]bool, n)
		for _, a := range got {
			assert.False(t, seen[a.Key], "duplicate assignment for %s", a.Key)
			seen[a.Key] = true
			assert.True(t, slices.Contains(Labels, a.Label))
		}
	}
}

func TestCounts(t *testing.T) {
	c := Counts(map[string]Label{"a": Star, "b": Star, "c": Potential})
	assert.Equal(t, 2, c[Star])
	assert.Equal(t, 1, c[Potential])
	assert.Zero(t, c[Underperformer])
}
