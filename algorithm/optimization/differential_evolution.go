package optimization

import (
	"context"
	"math/rand/v2"

	"github.com/sourcegraph/conc/pool"
)

// DEOptions 差分进化（DE/rand/1/bin）参数.
type DEOptions struct {
	Population  int     // 种群规模，小于 4 时按 4 处理
	Generations int     // 最大代数
	F           float64 // 差分缩放因子
	CR          float64 // 交叉概率
	Tol         float64 // 种群适应度极差收敛阈值
	Seed        uint64  // 随机种子，保证结果可复现
	Workers     int     // 并行评估的 goroutine 数
}

// DefaultDEOptions 返回默认参数.
func DefaultDEOptions() DEOptions {
	return DEOptions{Population: 30, Generations: 120, F: 0.7, CR: 0.9, Tol: 1e-10, Seed: 42, Workers: 4}
}

// DifferentialEvolution 在盒约束内全局搜索 f 的最小值。
// seeds 中的点（投影后）会替换初始种群的前几个个体，用于注入热启动解。
// 个体的生成是串行且确定的，只有适应度评估并行执行，因此同一种子的结果可复现；f 必须可并发调用。
func DifferentialEvolution(ctx context.Context, f Objective, box Box, opts DEOptions, seeds ...[]float64) (Result, error) {
	n := box.Dim()
	np := max(opts.Population, 4)
	workers := max(opts.Workers, 1)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	popu := make([][]float64, np)
	for i := range popu {
		popu[i] = make([]float64, n)
		if i < len(seeds) && len(seeds[i]) == n {
			copy(popu[i], seeds[i])
			box.Project(popu[i])
			continue
		}
		for j := range n {
			popu[i][j] = box.Lower[j] + rng.Float64()*(box.Upper[j]-box.Lower[j])
		}
	}
	fit := evaluateAll(f, popu, workers)

	trials := make([][]float64, np)
	for i := range trials {
		trials[i] = make([]float64, n)
	}

	gen := 0
	for ; gen < opts.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		for i := range np {
			a, b, c := pickThree(rng, np, i)
			jRand := 0
			if n > 0 {
				jRand = rng.IntN(n)
			}
			for j := range n {
				if j == jRand || rng.Float64() < opts.CR {
					trials[i][j] = popu[a][j] + opts.F*(popu[b][j]-popu[c][j])
				} else {
					trials[i][j] = popu[i][j]
				}
			}
			box.Project(trials[i])
		}

		trialFit := evaluateAll(f, trials, workers)
		for i := range np {
			if trialFit[i] <= fit[i] {
				copy(popu[i], trials[i])
				fit[i] = trialFit[i]
			}
		}

		lo, hi := fit[0], fit[0]
		for _, v := range fit[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if hi-lo < opts.Tol {
			gen++
			break
		}
	}

	best := 0
	for i := range fit {
		if fit[i] < fit[best] {
			best = i
		}
	}
	return Result{
		X:    append([]float64(nil), popu[best]...),
		F:    fit[best],
		Iter: gen,
	}, nil
}

// evaluateAll 使用 conc 协程池并行计算每个个体的适应度.
func evaluateAll(f Objective, xs [][]float64, workers int) []float64 {
	out := make([]float64, len(xs))
	p := pool.New().WithMaxGoroutines(workers)
	for i := range xs {
		p.Go(func() {
			out[i] = f(xs[i])
		})
	}
	p.Wait()
	return out
}

// pickThree 选取三个互不相同且不等于 exclude 的下标.
func pickThree(rng *rand.Rand, n, exclude int) (int, int, int) {
	pick := func(used ...int) int {
		for {
			k := rng.IntN(n)
			ok := k != exclude
			for _, u := range used {
				if k == u {
					ok = false
				}
			}
			if ok {
				return k
			}
		}
	}
	a := pick()
	b := pick(a)
	c := pick(a, b)
	return a, b, c
}
