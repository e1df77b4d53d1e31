// Package elasticity 从历史调价事件中学习商品价格弹性，数据不足时按类目、全局默认值逐级降级.
package elasticity

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	algomath "github.com/wyfcoding/pricing/algorithm/math"
	"github.com/wyfcoding/pricing/cache"
	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/xerrors"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

// Source 弹性系数来源.
type Source string

const (
	Learned         Source = "LEARNED"
	CategoryDefault Source = "CATEGORY_DEFAULT"
	GlobalDefault   Source = "GLOBAL_DEFAULT"
)

// Estimate 单个商品（可选按渠道）的弹性估计.
type Estimate struct {
	Key         string  `json:"key"`
	Channel     string  `json:"channel,omitempty"`
	Coefficient float64 `json:"coefficient"`
	Source      Source  `json:"source"`
	Samples     int     `json:"samples"`
	Events      []Event `json:"events,omitempty"`
	// InsufficientData 历史跨度不足两个比较窗口，系数来自降级默认值.
	InsufficientData bool `json:"insufficient_data"`
}

// History 单个商品的订单历史.
type History struct {
	Key      string
	Category string
	Channel  string // 非空时只使用该渠道的订单
	Lines    []order.Line
}

// BuildHistories 按商品键分组订单明细.
func BuildHistories(lines []order.Line) map[string]History {
	out := make(map[string]History)
	for _, l := range lines {
		key := l.Key()
		h, ok := out[key]
		if !ok {
			h = History{Key: key, Category: l.Category}
		}
		if h.Category == "" {
			h.Category = l.Category
		}
		h.Lines = append(h.Lines, l)
		out[key] = h
	}
	return out
}

// Pool 类目 -> 该类目下所有商品学习到的系数样本.
type Pool map[string][]float64

// Add 追加样本.
func (p Pool) Add(category string, samples ...float64) {
	if len(samples) == 0 {
		return
	}
	p[category] = append(p[category], samples...)
}

// learned 单个商品自身数据的学习结果，可缓存.
type learned struct {
	Events       []Event `json:"events"`
	Insufficient bool    `json:"insufficient"`
}

func (l learned) samples() []float64 {
	out := make([]float64, len(l.Events))
	for i, e := range l.Events {
		out[i] = e.Coefficient
	}
	return out
}

// Option 估计器可选项.
type Option func(*Estimator)

// WithCache 注入缓存，用于记忆化单品的学习结果.
func WithCache(c cache.Cache) Option {
	return func(e *Estimator) { e.cache = c }
}

// WithMetrics 注入业务指标.
func WithMetrics(m *metrics.PricingMetrics) Option {
	return func(e *Estimator) { e.metrics = m }
}

// WithLogger 注入日志.
func WithLogger(l *logging.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

// Estimator 弹性估计器，可并发使用.
type Estimator struct {
	cfg     config.ElasticityConfig
	cache   cache.Cache
	group   singleflight.Group
	metrics *metrics.PricingMetrics
	logger  *logging.Logger
}

// NewEstimator 校验参数并创建估计器.
func NewEstimator(cfg config.ElasticityConfig, opts ...Option) (*Estimator, error) {
	if cfg.MinPriceChange <= 0 || cfg.MinPriceChange >= 1 {
		return nil, xerrors.Configuration("elasticity min_price_change must be in (0,1), got %v", cfg.MinPriceChange)
	}
	if cfg.WindowDays <= 0 {
		return nil, xerrors.Configuration("elasticity window_days must be positive, got %d", cfg.WindowDays)
	}
	if cfg.MinCoefficient > cfg.MaxCoefficient {
		return nil, xerrors.Configuration("elasticity min_coefficient %v exceeds max_coefficient %v", cfg.MinCoefficient, cfg.MaxCoefficient)
	}
	e := &Estimator{cfg: cfg, logger: logging.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Estimate 估计单个商品的弹性，pool 为类目样本池（可为 nil）。
// 该方法从不因数据缺失返回错误，只在 ctx 取消时返回 ctx.Err()。
func (e *Estimator) Estimate(ctx context.Context, h History, pool Pool) (Estimate, error) {
	l, err := e.learn(ctx, h)
	if err != nil {
		return Estimate{}, err
	}
	est := e.resolve(h, l, pool)
	e.metrics.IncElasticity(string(est.Source))
	return est, nil
}

// EstimateAll 估计全部商品：先并行学习各商品自身的样本，再汇总类目样本池用于降级.
func (e *Estimator) EstimateAll(ctx context.Context, histories map[string]History) (map[string]Estimate, error) {
	keys := make([]string, 0, len(histories))
	for k := range histories {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]learned, len(keys))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(max(e.cfg.Workers, 1))
	for i, k := range keys {
		p.Go(func(ctx context.Context) error {
			l, err := e.learn(ctx, histories[k])
			if err != nil {
				return err
			}
			results[i] = l
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	catPool := make(Pool)
	for i, k := range keys {
		catPool.Add(histories[k].Category, results[i].samples()...)
	}

	out := make(map[string]Estimate, len(keys))
	counts := make(map[Source]int, 3)
	for i, k := range keys {
		est := e.resolve(histories[k], results[i], catPool)
		out[k] = est
		counts[est.Source]++
		e.metrics.IncElasticity(string(est.Source))
	}
	e.logger.InfoContext(ctx, "elasticity estimated",
		"products", len(keys),
		"learned", counts[Learned],
		"category_default", counts[CategoryDefault],
		"global_default", counts[GlobalDefault],
	)
	return out, nil
}

// LearnedSamples 返回商品自身学习到的样本，供调用方组装类目样本池.
func (e *Estimator) LearnedSamples(ctx context.Context, h History) ([]float64, error) {
	l, err := e.learn(ctx, h)
	if err != nil {
		return nil, err
	}
	return l.samples(), nil
}

// Default 返回全局默认估计.
func (e *Estimator) Default(key string) Estimate {
	return Estimate{Key: key, Coefficient: e.cfg.DefaultValue, Source: GlobalDefault}
}

func (e *Estimator) resolve(h History, l learned, catPool Pool) Estimate {
	est := Estimate{Key: h.Key, Channel: h.Channel, InsufficientData: l.Insufficient}
	if samples := l.samples(); len(samples) > 0 {
		est.Coefficient = e.aggregate(samples)
		est.Source = Learned
		est.Samples = len(samples)
		est.Events = l.Events
		return est
	}

	if samples := catPool[h.Category]; len(samples) > 0 {
		est.Coefficient = e.aggregate(samples)
		est.Source = CategoryDefault
		est.Samples = len(samples)
		return est
	}

	est.Coefficient = e.cfg.DefaultValue
	est.Source = GlobalDefault
	return est
}

// aggregate 取样本中位数并裁剪到配置区间，抑制极端样本.
func (e *Estimator) aggregate(samples []float64) float64 {
	return algomath.Clamp(algomath.Median(samples, e.cfg.DefaultValue), e.cfg.MinCoefficient, e.cfg.MaxCoefficient)
}

// learn 检测单品调价事件，命中缓存时直接返回；相同商品的并发请求只计算一次.
func (e *Estimator) learn(ctx context.Context, h History) (learned, error) {
	if err := ctx.Err(); err != nil {
		return learned{}, err
	}
	key := e.cacheKey(h)

	if e.cache != nil {
		var l learned
		err := e.cache.Get(ctx, key, &l)
		if err == nil {
			e.metrics.IncCache(true)
			return l, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.WarnContext(ctx, "elasticity cache read failed", "key", key, "error", err)
		}
		e.metrics.IncCache(false)
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		l := e.detect(h)
		if e.cache != nil {
			if err := e.cache.Set(ctx, key, l, e.cfg.CacheTTL); err != nil {
				e.logger.WarnContext(ctx, "elasticity cache write failed", "key", key, "error", err)
			}
		}
		return l, nil
	})
	if err != nil {
		return learned{}, err
	}
	return v.(learned), nil
}

func (e *Estimator) detect(h History) learned {
	series := DailySeries(h.Lines, h.Channel)
	if len(series) < 2*e.cfg.WindowDays {
		e.logger.Debug("insufficient history for elasticity",
			"key", h.Key,
			"days", len(series),
			"error", xerrors.ErrInsufficientData.Derive("need %d days", 2*e.cfg.WindowDays),
		)
		return learned{Insufficient: true}
	}
	return learned{Events: DetectEvents(series, e.cfg.MinPriceChange, e.cfg.WindowDays)}
}

// cacheKey 由每条明细的下单时间、渠道、数量与收入计算指纹，任一字段变化后旧条目自然失效.
func (e *Estimator) cacheKey(h History) string {
	d := xxhash.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	for _, l := range h.Lines {
		writeUint(uint64(l.OrderTime.UnixNano()))
		_, _ = d.WriteString(l.Channel)
		_, _ = d.Write([]byte{0})
		writeUint(math.Float64bits(l.Quantity))
		writeUint(math.Float64bits(l.Revenue))
	}
	return fmt.Sprintf("elasticity:%s|%s:%d:%016x:%g:%d",
		h.Key, h.Channel, len(h.Lines), d.Sum64(), e.cfg.MinPriceChange, e.cfg.WindowDays)
}
