package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/wyfcoding/pricing/breaker"
	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/xerrors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const backendRedis = "redis"

var (
	redisOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_ops_total",
			Help: "The total number of redis operations",
		},
		[]string{"addr", "command", "status"},
	)
	redisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_duration_seconds",
			Help:    "The duration of redis operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"addr", "command"},
	)
)

type metricsHook struct {
	addr string
}

func (h *metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		redisOps.WithLabelValues(h.addr, cmd.Name(), status(err)).Inc()
		redisDuration.WithLabelValues(h.addr, cmd.Name()).Observe(time.Since(start).Seconds())
		return err
	}
}

func (h *metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		redisOps.WithLabelValues(h.addr, "pipeline", status(err)).Inc()
		redisDuration.WithLabelValues(h.addr, "pipeline").Observe(time.Since(start).Seconds())
		return err
	}
}

func status(err error) string {
	if err != nil && !errors.Is(err, redis.Nil) {
		return "error"
	}
	return "success"
}

// RedisCache 基于 go-redis 的分布式缓存，所有命令经熔断器保护.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	breaker *breaker.Breaker
	logger  *logging.Logger
}

// NewRedisCache 按配置连接 Redis 并验证连通性.
func NewRedisCache(cfg config.RedisConfig, br config.BreakerConfig, prefix string, m *metrics.Metrics, logger *logging.Logger) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, xerrors.Configuration("redis addr is required for redis cache backend")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.WrapInternal(err, "failed to connect to Redis")
	}

	rc := NewRedisCacheFromClient(client, prefix, breaker.NewBreaker(breaker.Settings{
		Name:         "redis-cache",
		Config:       br,
		IsSuccessful: isCacheSuccess,
	}, m), logger)
	rc.logger.Info("successfully connected to Redis", "addr", cfg.Addr)
	return rc, nil
}

// NewRedisCacheFromClient 使用已有客户端构建缓存，b 可为 nil.
func NewRedisCacheFromClient(client *redis.Client, prefix string, b *breaker.Breaker, logger *logging.Logger) *RedisCache {
	if logger == nil {
		logger = logging.Default()
	}
	client.AddHook(&metricsHook{addr: client.Options().Addr})
	return &RedisCache{client: client, prefix: prefix, breaker: b, logger: logger}
}

// 未命中不算作依赖故障.
func isCacheSuccess(err error) bool {
	return err == nil || errors.Is(err, ErrCacheMiss) || errors.Is(err, redis.Nil)
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get 读取并反序列化到 value.
func (c *RedisCache) Get(ctx context.Context, key string, value any) error {
	defer observe(backendRedis, "get", time.Now())

	data, err := breaker.Do(c.breaker, func() ([]byte, error) {
		b, err := c.client.Get(ctx, c.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return b, err
	})
	if errors.Is(err, ErrCacheMiss) {
		cacheMisses.WithLabelValues(backendRedis).Inc()
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	cacheHits.WithLabelValues(backendRedis).Inc()
	return json.Unmarshal(data, value)
}

// Set 写入带过期时间的条目，expiration 为 0 表示不过期.
func (c *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	defer observe(backendRedis, "set", time.Now())

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = breaker.Do(c.breaker, func() (string, error) {
		return c.client.Set(ctx, c.key(key), data, expiration).Result()
	})
	return err
}

// Delete 删除一个或多个键.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	_, err := breaker.Do(c.breaker, func() (int64, error) {
		return c.client.Del(ctx, full...).Result()
	})
	return err
}

// Exists 检查键是否存在.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := breaker.Do(c.breaker, func() (int64, error) {
		return c.client.Exists(ctx, c.key(key)).Result()
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close 关闭客户端连接.
func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		c.logger.Error("failed to close Redis client", "error", err)
		return err
	}
	return nil
}
