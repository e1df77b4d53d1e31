// Package money 提供了基于 shopspring/decimal 的高精度金额累加与格式化能力.
// 订单明细的收入与成本在聚合阶段用 Money 累加，避免大量小额浮点相加产生漂移。
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money 封装了高精度的金额处理.
type Money struct {
	value decimal.Decimal
}

// Zero 零金额.
var Zero = Money{value: decimal.Zero}

// New 从 float64 创建 Money.
func New(val float64) Money {
	return Money{value: decimal.NewFromFloat(val)}
}

// NewFromInt 从整数创建 Money.
func NewFromInt(val int64) Money {
	return Money{value: decimal.NewFromInt(val)}
}

// NewFromString 从字符串解析金额，允许前后空白与千分位逗号.
func NewFromString(val string) (Money, error) {
	val = strings.ReplaceAll(strings.TrimSpace(val), ",", "")
	d, err := decimal.NewFromString(val)
	if err != nil {
		return Money{}, err
	}
	return Money{value: d}, nil
}

// Sum 累加一组金额.
func Sum(items ...Money) Money {
	total := decimal.Zero
	for _, m := range items {
		total = total.Add(m.value)
	}
	return Money{value: total}
}

// ToFloat 转换为 float64.
func (m Money) ToFloat() float64 {
	f, _ := m.value.Float64()
	return f
}

// String 返回格式化后的字符串 (默认 2 位小数).
func (m Money) String() string {
	return m.value.StringFixed(2)
}

// Add 加法.
func (m Money) Add(other Money) Money {
	return Money{value: m.value.Add(other.value)}
}

// Sub 减法.
func (m Money) Sub(other Money) Money {
	return Money{value: m.value.Sub(other.value)}
}

// Mul 乘法.
func (m Money) Mul(factor float64) Money {
	return Money{value: m.value.Mul(decimal.NewFromFloat(factor))}
}

// Div 除法，除数为 0 时返回零金额.
func (m Money) Div(factor float64) Money {
	if factor == 0 {
		return Zero
	}
	return Money{value: m.value.Div(decimal.NewFromFloat(factor))}
}

// IsZero 是否为零.
func (m Money) IsZero() bool {
	return m.value.IsZero()
}

// IsPositive 是否大于零.
func (m Money) IsPositive() bool {
	return m.value.IsPositive()
}

// Cmp 比较大小，返回 -1、0 或 1.
func (m Money) Cmp(other Money) int {
	return m.value.Cmp(other.value)
}

// Round 四舍五入到指定小数位.
func (m Money) Round(places int32) Money {
	return Money{value: m.value.Round(places)}
}

// Format 格式化为指定位数的字符串.
func (m Money) Format(places int32) string {
	return m.value.StringFixed(places)
}

// RoundPrice 将价格四舍五入到分.
func RoundPrice(p float64) float64 {
	return New(p).Round(2).ToFloat()
}
