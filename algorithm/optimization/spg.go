// Package optimization 提供盒约束下的连续优化求解器：谱投影梯度（局部）与差分进化（全局）.
package optimization

import (
	"math"

	algomath "github.com/wyfcoding/pricing/algorithm/math"
)

// Objective 目标函数.
type Objective func(x []float64) float64

// Gradient 将 x 处的梯度写入 grad.
type Gradient func(x, grad []float64)

// Box 变量的上下界，Lower[i] <= x[i] <= Upper[i].
type Box struct {
	Lower []float64
	Upper []float64
}

// Project 将 x 就地投影到盒约束内.
func (b Box) Project(x []float64) {
	for i := range x {
		x[i] = algomath.Clamp(x[i], b.Lower[i], b.Upper[i])
	}
}

// Dim 变量维度.
func (b Box) Dim() int {
	return len(b.Lower)
}

// SPGOptions 谱投影梯度求解参数.
type SPGOptions struct {
	MaxIter  int     // 最大迭代次数
	Tol      float64 // 投影梯度无穷范数收敛阈值
	Gamma    float64 // Armijo 充分下降系数
	AlphaMin float64 // BB 步长下限
	AlphaMax float64 // BB 步长上限
}

// DefaultSPGOptions 返回默认参数.
func DefaultSPGOptions() SPGOptions {
	return SPGOptions{MaxIter: 500, Tol: 1e-8, Gamma: 1e-4, AlphaMin: 1e-10, AlphaMax: 1e10}
}

// Result 求解结果.
type Result struct {
	X         []float64
	F         float64
	Iter      int
	Converged bool
}

// MinimizeSPG 使用谱投影梯度法（Barzilai-Borwein 步长 + Armijo 回溯）在盒约束内最小化 f。
// x0 会先被投影到可行域，返回值始终可行。
func MinimizeSPG(f Objective, grad Gradient, x0 []float64, box Box, opts SPGOptions) Result {
	n := len(x0)
	x := append([]float64(nil), x0...)
	box.Project(x)
	if n == 0 {
		return Result{X: x, F: f(x), Converged: true}
	}

	g := make([]float64, n)
	gNew := make([]float64, n)
	d := make([]float64, n)
	trial := make([]float64, n)
	fx := f(x)
	grad(x, g)

	alpha := 1.0
	if pg := projectedGradNorm(x, g, box, d); pg > 0 {
		alpha = algomath.Clamp(1/pg, opts.AlphaMin, opts.AlphaMax)
	}

	res := Result{X: x, F: fx}
	for k := 0; k < opts.MaxIter; k++ {
		res.Iter = k + 1
		if projectedGradNorm(x, g, box, d) < opts.Tol {
			res.Converged = true
			break
		}

		// 搜索方向 d = P(x - alpha*g) - x
		for i := range x {
			d[i] = algomath.Clamp(x[i]-alpha*g[i], box.Lower[i], box.Upper[i]) - x[i]
		}
		gd := algomath.Dot(g, d)
		if gd >= 0 {
			res.Converged = true
			break
		}

		lambda := 1.0
		var fTrial float64
		for {
			for i := range x {
				trial[i] = x[i] + lambda*d[i]
			}
			box.Project(trial)
			fTrial = f(trial)
			if fTrial <= fx+opts.Gamma*lambda*gd || lambda < 1e-12 {
				break
			}
			lambda *= 0.5
		}
		if fTrial > fx {
			res.Converged = true
			break
		}

		grad(trial, gNew)
		var ss, sy float64
		for i := range x {
			s := trial[i] - x[i]
			y := gNew[i] - g[i]
			ss += s * s
			sy += s * y
		}
		copy(x, trial)
		copy(g, gNew)
		improvement := fx - fTrial
		fx = fTrial

		if sy <= 0 {
			alpha = opts.AlphaMax
		} else {
			alpha = algomath.Clamp(ss/sy, opts.AlphaMin, opts.AlphaMax)
		}
		if improvement < opts.Tol*opts.Tol*math.Max(1, math.Abs(fx)) && ss < opts.Tol*opts.Tol {
			res.Converged = true
			break
		}
	}

	res.X = x
	res.F = fx
	return res
}

// projectedGradNorm 计算 ||P(x-g) - x||_inf，buf 用作临时空间.
func projectedGradNorm(x, g []float64, box Box, buf []float64) float64 {
	var norm float64
	for i := range x {
		buf[i] = algomath.Clamp(x[i]-g[i], box.Lower[i], box.Upper[i]) - x[i]
		norm = math.Max(norm, math.Abs(buf[i]))
	}
	return norm
}
