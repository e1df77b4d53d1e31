package elasticity

import (
	"math"
	"slices"
	"time"

	algomath "github.com/wyfcoding/pricing/algorithm/math"
	"github.com/wyfcoding/pricing/order"
)

// DayPoint 单个自然日的销量与成交均价，无销售的日期 Price 为 0.
type DayPoint struct {
	Day      time.Time
	Quantity float64
	Revenue  float64
	Price    float64
}

// Priced 当日是否有有效成交价.
func (d DayPoint) Priced() bool {
	return d.Quantity > 0 && d.Price > 0
}

// DailySeries 将订单明细整理为连续的自然日序列，缺失日期以零销量补齐。
// channel 非空时只统计该渠道；缺少下单时间的明细无法定位日期，直接忽略。
func DailySeries(lines []order.Line, channel string) []DayPoint {
	byDay := make(map[time.Time]*DayPoint)
	var first, last time.Time
	for _, l := range lines {
		if l.OrderTime.IsZero() || l.Quantity <= 0 {
			continue
		}
		if channel != "" && l.Channel != channel {
			continue
		}
		day := l.Day()
		p, ok := byDay[day]
		if !ok {
			p = &DayPoint{Day: day}
			byDay[day] = p
		}
		p.Quantity += l.Quantity
		p.Revenue += l.Revenue
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}
	}
	if len(byDay) == 0 {
		return nil
	}

	n := int(last.Sub(first).Hours()/24) + 1
	series := make([]DayPoint, 0, n)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		p, ok := byDay[d]
		if !ok {
			series = append(series, DayPoint{Day: d})
			continue
		}
		p.Price = max(0, algomath.SafeRatio(p.Revenue, p.Quantity, 0))
		series = append(series, *p)
	}
	return series
}

// Event 一次被确认的调价事件及其前后窗口对比.
type Event struct {
	Day               time.Time `json:"day"`
	OldPrice          float64   `json:"old_price"`
	NewPrice          float64   `json:"new_price"`
	OldDailyQuantity  float64   `json:"old_daily_quantity"`
	NewDailyQuantity  float64   `json:"new_daily_quantity"`
	PriceChangePct    float64   `json:"price_change_pct"`    // 小数形式
	QuantityChangePct float64   `json:"quantity_change_pct"` // 小数形式
	Coefficient       float64   `json:"coefficient"`
}

// DetectEvents 扫描日序列，识别价格变动超过 minChange 且前后各持续 window 天的调价事件。
// 调价日当天必须有成交，且与之前最近一个成交日的价格差超过阈值；
// 前窗口内每个成交日与旧均价偏差不超过阈值的一半，后窗口同理。
func DetectEvents(series []DayPoint, minChange float64, window int) []Event {
	if window <= 0 || len(series) < 2*window {
		return nil
	}
	tolerance := minChange / 2

	var events []Event
	for i := window; i+window <= len(series); i++ {
		if !series[i].Priced() {
			continue
		}
		prev := lastPriced(series[:i])
		if prev < i-window || prev < 0 {
			continue
		}
		if math.Abs(algomath.SafeRatio(series[i].Price-series[prev].Price, series[prev].Price, 0)) <= minChange {
			continue
		}

		before := series[i-window : i]
		after := series[i : i+window]
		oldPrice, okBefore := stablePrice(before, tolerance)
		newPrice, okAfter := stablePrice(after, tolerance)
		if !okBefore || !okAfter {
			continue
		}

		priceChange := algomath.SafeRatio(newPrice-oldPrice, oldPrice, 0)
		if math.Abs(priceChange) <= minChange {
			continue
		}

		oldQty := totalQuantity(before) / float64(window)
		newQty := totalQuantity(after) / float64(window)
		qtyChange := QuantityChange(oldQty, newQty)
		coef := algomath.SafeRatio(qtyChange, priceChange, 0)
		if !algomath.IsFinite(coef) {
			continue
		}

		events = append(events, Event{
			Day:               series[i].Day,
			OldPrice:          oldPrice,
			NewPrice:          newPrice,
			OldDailyQuantity:  oldQty,
			NewDailyQuantity:  newQty,
			PriceChangePct:    priceChange,
			QuantityChangePct: qtyChange,
			Coefficient:       coef,
		})
		// 后窗口已被本事件占用
		i += window - 1
	}
	return events
}

// QuantityChange 计算日均销量变化率；旧销量为 0 时，新销量为正记 +100%，否则记 0.
func QuantityChange(oldQty, newQty float64) float64 {
	if oldQty <= algomath.Epsilon {
		if newQty > algomath.Epsilon {
			return 1
		}
		return 0
	}
	return algomath.SafeRatio(newQty-oldQty, oldQty, 0)
}

// stablePrice 返回窗口内按收入加权的均价，任一成交日偏离均价超过 tolerance 时视为不稳定.
func stablePrice(window []DayPoint, tolerance float64) (float64, bool) {
	var revenue, qty float64
	for _, d := range window {
		if d.Priced() {
			revenue += d.Revenue
			qty += d.Quantity
		}
	}
	avg := algomath.SafeRatio(revenue, qty, 0)
	if avg <= 0 {
		return 0, false
	}
	stable := !slices.ContainsFunc(window, func(d DayPoint) bool {
		return d.Priced() && math.Abs(d.Price/avg-1) > tolerance
	})
	return avg, stable
}

func lastPriced(series []DayPoint) int {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].Priced() {
			return i
		}
	}
	return -1
}

func totalQuantity(days []DayPoint) float64 {
	var q float64
	for _, d := range days {
		q += d.Quantity
	}
	return q
}
