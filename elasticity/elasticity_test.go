package elasticity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/pricing/cache"
	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/order"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// days 生成连续若干天、每天一行的订单.
func days(code, category string, from int, prices, qty []float64) []order.Line {
	lines := make([]order.Line, len(prices))
	for i := range prices {
		lines[i] = order.Line{
			OrderID:     fmt.Sprintf("%s-%d", code, from+i),
			OrderTime:   start.AddDate(0, 0, from+i),
			ProductCode: code,
			Category:    category,
			Channel:     "store",
			Quantity:    qty[i],
			Revenue:     prices[i] * qty[i],
			Cost:        qty[i],
		}
	}
	return lines
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newEstimator(t *testing.T, opts ...Option) *Estimator {
	t.Helper()
	e, err := NewEstimator(config.Default().Elasticity, opts...)
	require.NoError(t, err)
	return e
}

func stepHistory(code, category string) History {
	lines := days(code, category, 0,
		concat(repeat(10, 3), repeat(11, 3)),
		concat(repeat(100, 3), repeat(85, 3)))
	return History{Key: code, Category: category, Lines: lines}
}

func TestLearnedCoefficientFromPriceStep(t *testing.T) {
	e := newEstimator(t)
	est, err := e.Estimate(context.Background(), stepHistory("A", "drinks"), nil)
	require.NoError(t, err)

	assert.Equal(t, Learned, est.Source)
	assert.InDelta(t, -1.5, est.Coefficient, 1e-9)
	require.Len(t, est.Events, 1)
	assert.InDelta(t, 0.10, est.Events[0].PriceChangePct, 1e-9)
	assert.InDelta(t, -0.15, est.Events[0].QuantityChangePct, 1e-9)
	assert.False(t, est.InsufficientData)
}

func TestFallbacks(t *testing.T) {
	flat := History{
		Key:      "flat",
		Category: "drinks",
		Lines:    days("flat", "drinks", 0, repeat(5, 10), repeat(20, 10)),
	}
	lonely := History{
		Key:      "lonely",
		Category: "snacks",
		Lines:    days("lonely", "snacks", 0, repeat(5, 10), repeat(20, 10)),
	}
	short := History{
		Key:      "short",
		Category: "snacks",
		Lines:    days("short", "snacks", 0, []float64{5, 6}, []float64{1, 1}),
	}

	e := newEstimator(t)
	all, err := e.EstimateAll(context.Background(), map[string]History{
		"A":      stepHistory("A", "drinks"),
		"flat":   flat,
		"lonely": lonely,
		"short":  short,
	})
	require.NoError(t, err)
	require.Len(t, all, 4)

	assert.Equal(t, Learned, all["A"].Source)

	assert.Equal(t, CategoryDefault, all["flat"].Source)
	assert.InDelta(t, -1.5, all["flat"].Coefficient, 1e-9)

	assert.Equal(t, GlobalDefault, all["lonely"].Source)
	assert.Equal(t, -1.0, all["lonely"].Coefficient)
	assert.False(t, all["lonely"].InsufficientData)

	assert.Equal(t, GlobalDefault, all["short"].Source)
	assert.True(t, all["short"].InsufficientData)
}

// 无调价事件的商品永远不是 LEARNED，有事件的商品永远是 LEARNED.
func TestFallbackMonotonicity(t *testing.T) {
	e := newEstimator(t)
	pool := Pool{"drinks": {-2}}
	for _, tt := range []struct {
		name string
		h    History
		want bool
	}{
		{"step", stepHistory("A", "drinks"), true},
		{"flat", History{Key: "B", Category: "drinks", Lines: days("B", "drinks", 0, repeat(4, 8), repeat(3, 8))}, false},
		{"tiny change", History{Key: "C", Category: "drinks", Lines: days("C", "drinks", 0, concat(repeat(10, 4), repeat(10.3, 4)), repeat(5, 8))}, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			est, err := e.Estimate(context.Background(), tt.h, pool)
			require.NoError(t, err)
			assert.Equal(t, tt.want, est.Source == Learned)
			assert.Equal(t, tt.want, len(est.Events) > 0)
		})
	}
}

func TestDetectEventsRequiresSustainedWindows(t *testing.T) {
	// 调价仅持续两天后回落，不构成事件
	lines := days("A", "c", 0, []float64{10, 10, 10, 12, 12, 10, 10, 10}, repeat(10, 8))
	assert.Empty(t, DetectEvents(DailySeries(lines, ""), 0.05, 3))

	// 调价前价格不稳定
	lines = days("A", "c", 0, []float64{8, 10, 12, 14, 14, 14}, repeat(10, 6))
	assert.Empty(t, DetectEvents(DailySeries(lines, ""), 0.05, 3))
}

func TestDailySeriesFillsGapsAndFiltersChannel(t *testing.T) {
	lines := []order.Line{
		{OrderTime: start, Quantity: 2, Revenue: 10, Channel: "app"},
		{OrderTime: start.Add(time.Hour), Quantity: 2, Revenue: 14, Channel: "app"},
		{OrderTime: start.AddDate(0, 0, 2), Quantity: 1, Revenue: 5, Channel: "store"},
		{Quantity: 9, Revenue: 9},
	}
	series := DailySeries(lines, "")
	require.Len(t, series, 3)
	assert.Equal(t, 4.0, series[0].Quantity)
	assert.InDelta(t, 6.0, series[0].Price, 1e-12)
	assert.False(t, series[1].Priced())

	assert.Len(t, DailySeries(lines, "app"), 1)
	assert.Empty(t, DailySeries(nil, ""))
}

func TestQuantityChangeGuards(t *testing.T) {
	assert.Equal(t, 1.0, QuantityChange(0, 5))
	assert.Equal(t, 0.0, QuantityChange(0, 0))
	assert.InDelta(t, -0.5, QuantityChange(10, 5), 1e-12)
}

func TestCoefficientIsClamped(t *testing.T) {
	// 价格上涨 10%，销量从 100 跌到 5，原始样本 -9.5
	h := History{Key: "X", Category: "c", Lines: days("X", "c", 0,
		concat(repeat(10, 3), repeat(11, 3)),
		concat(repeat(100, 3), repeat(5, 3)))}
	est, err := newEstimator(t).Estimate(context.Background(), h, nil)
	require.NoError(t, err)
	assert.Equal(t, Learned, est.Source)
	assert.Equal(t, -5.0, est.Coefficient)
}

func TestEstimatesAreCached(t *testing.T) {
	c, err := cache.NewBigCache(config.BigCacheConfig{LifeWindow: time.Hour, Shards: 16})
	require.NoError(t, err)
	defer c.Close()

	e := newEstimator(t, WithCache(c))
	h := stepHistory("A", "drinks")
	first, err := e.Estimate(context.Background(), h, nil)
	require.NoError(t, err)

	var cached learned
	require.NoError(t, c.Get(context.Background(), e.cacheKey(h), &cached))
	require.Len(t, cached.Events, 1)

	second, err := e.Estimate(context.Background(), h, nil)
	require.NoError(t, err)
	assert.InDelta(t, first.Coefficient, second.Coefficient, 1e-12)
	assert.Equal(t, first.Events[0].Day.Unix(), second.Events[0].Day.Unix())
}

func TestCacheInvalidatedByRevisedRevenue(t *testing.T) {
	c, err := cache.NewBigCache(config.BigCacheConfig{LifeWindow: time.Hour, Shards: 16})
	require.NoError(t, err)
	defer c.Close()

	e := newEstimator(t, WithCache(c))
	ctx := context.Background()
	stepped := stepHistory("A", "drinks")
	first, err := e.Estimate(ctx, stepped, nil)
	require.NoError(t, err)
	require.Equal(t, Learned, first.Source)

	// 同样的时间与数量，价格修正为平价后不应再命中旧的学习结果
	flat := History{Key: "A", Category: "drinks", Lines: make([]order.Line, len(stepped.Lines))}
	copy(flat.Lines, stepped.Lines)
	for i := range flat.Lines {
		flat.Lines[i].Revenue = 10 * flat.Lines[i].Quantity
	}
	assert.NotEqual(t, e.cacheKey(stepped), e.cacheKey(flat))

	second, err := e.Estimate(ctx, flat, nil)
	require.NoError(t, err)
	assert.NotEqual(t, Learned, second.Source)
	assert.Empty(t, second.Events)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEstimator(t).Estimate(ctx, stepHistory("A", "c"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEstimatorRejectsBadConfig(t *testing.T) {
	cfg := config.Default().Elasticity
	cfg.WindowDays = 0
	_, err := NewEstimator(cfg)
	assert.Error(t, err)
}

func TestBuildHistories(t *testing.T) {
	lines := append(days("A", "c1", 0, []float64{1, 1}, []float64{1, 1}), days("B", "c2", 0, []float64{2}, []float64{1})...)
	hs := BuildHistories(lines)
	require.Len(t, hs, 2)
	assert.Len(t, hs["A"].Lines, 2)
	assert.Equal(t, "c2", hs["B"].Category)
}
