// Package cache 提供了带显式 TTL 的缓存抽象，以及本地（bigcache）、分布式（Redis）与多级实现。
// 弹性估计结果通过该接口记忆化，替代进程级的全局字典。
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/xerrors"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrCacheMiss 缓存未命中或已过期.
var ErrCacheMiss = errors.New("cache miss")

// Cache 缓存接口，value 以 JSON 序列化存储.
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

var (
	// cacheHits 缓存命中计数
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "The total number of cache hits",
		},
		[]string{"backend"},
	)
	// cacheMisses 缓存未命中计数
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "The total number of cache misses",
		},
		[]string{"backend"},
	)
	// cacheDuration 缓存操作耗时
	cacheDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "The duration of cache operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// RegisterMetrics 将缓存指标注册到给定注册表，重复注册会被忽略.
func RegisterMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{cacheHits, cacheMisses, cacheDuration, redisOps, redisDuration} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				logging.Default().Warn("failed to register cache metric", "error", err)
			}
		}
	}
}

func observe(backend, op string, start time.Time) {
	cacheDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// New 按配置创建缓存：bigcache（默认）、redis 或 multilevel（bigcache 在前、redis 在后）.
func New(cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) (Cache, error) {
	if m != nil {
		RegisterMetrics(m.Registerer())
	}
	switch cfg.Cache.Backend {
	case "", "bigcache":
		return NewBigCache(cfg.BigCache)
	case "redis":
		return NewRedisCache(cfg.Redis, cfg.Breaker, cfg.Cache.Prefix, m, logger)
	case "multilevel":
		l1, err := NewBigCache(cfg.BigCache)
		if err != nil {
			return nil, err
		}
		l2, err := NewRedisCache(cfg.Redis, cfg.Breaker, cfg.Cache.Prefix, m, logger)
		if err != nil {
			_ = l1.Close()
			return nil, err
		}
		return NewTieredCache(l1, l2, cfg.BigCache.LifeWindow, logger), nil
	default:
		return nil, xerrors.Configuration("unknown cache backend %q", cfg.Cache.Backend)
	}
}
