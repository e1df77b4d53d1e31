// Package math 提供定价计算共用的数值工具：安全除法、区间约束与基于 montanaflynn/stats 的分位统计.
package math

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Epsilon 浮点比较容差.
const Epsilon = 1e-9

// SafeRatio 计算 num/den，分母接近 0 或结果非有限值时返回 def。
// 所有除法（利润率、价格变动率、数量变动率）统一经过这里。
func SafeRatio(num, den, def float64) float64 {
	if math.Abs(den) < Epsilon {
		return def
	}
	r := num / den
	if !IsFinite(r) {
		return def
	}
	return r
}

// PctChange 计算从 from 到 to 的百分比变化 (to-from)/from*100，from 为 0 时返回 def.
func PctChange(from, to, def float64) float64 {
	return SafeRatio(to-from, from, def/100) * 100
}

// IsFinite 判断是否为有限数值.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clamp 将 v 约束在 [lo, hi] 内.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Median 返回中位数，样本为空时返回 def。两个样本时等于均值。
func Median(values []float64, def float64) float64 {
	m, err := stats.Median(stats.Float64Data(values))
	if err != nil || !IsFinite(m) {
		return def
	}
	return m
}

// Percentile 返回最近秩分位数（percent 取值 0~100），样本为空时返回 def.
func Percentile(values []float64, percent, def float64) float64 {
	p, err := stats.PercentileNearestRank(stats.Float64Data(values), percent)
	if err != nil || !IsFinite(p) {
		return def
	}
	return p
}

// MinMaxNormalize 将 values 线性映射到 [0,1]。
// 所有值相同（极差为 0）时每个值都映射为 0.5。
func MinMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, _ := stats.Min(stats.Float64Data(values))
	hi, _ := stats.Max(stats.Float64Data(values))
	span := hi - lo
	for i, v := range values {
		if span < Epsilon {
			out[i] = 0.5
			continue
		}
		out[i] = Clamp((v-lo)/span, 0, 1)
	}
	return out
}

// Dot 计算两个等长向量的点积.
func Dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// SumSquares 计算向量元素平方和.
func SumSquares(v []float64) float64 {
	return Dot(v, v)
}
