package cache

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/xerrors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TieredCache 进程内缓存在前、共享缓存在后的两级缓存。
// 多个引擎实例共享 Redis 中的弹性学习结果，本地副本只用于减少网络往返。
type TieredCache struct {
	local    Cache
	shared   Cache
	backfill time.Duration
	tracer   trace.Tracer
	logger   *logging.Logger
}

// NewTieredCache 创建两级缓存，backfill 为共享层命中后写回本地的有效期.
func NewTieredCache(local, shared Cache, backfill time.Duration, logger *logging.Logger) *TieredCache {
	if logger == nil {
		logger = logging.Default()
	}
	if backfill <= 0 {
		backfill = 5 * time.Minute
	}
	return &TieredCache{
		local:    local,
		shared:   shared,
		backfill: backfill,
		tracer:   otel.Tracer("github.com/wyfcoding/pricing/cache"),
		logger:   logger,
	}
}

// Get 依次查询本地与共享层；共享层故障按未命中处理，由调用方重新计算.
func (c *TieredCache) Get(ctx context.Context, key string, value any) error {
	ctx, span := c.tracer.Start(ctx, "cache.tiered.get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if c.local.Get(ctx, key, value) == nil {
		span.SetAttributes(attribute.String("cache.tier", "local"))
		return nil
	}

	err := c.shared.Get(ctx, key, value)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("cache.tier", "shared"))
		if err := c.local.Set(ctx, key, value, c.backfill); err != nil {
			c.logger.WarnContext(ctx, "local cache backfill failed", "key", key, "error", err)
		}
		return nil
	case !errors.Is(err, ErrCacheMiss):
		span.RecordError(err)
		c.logger.WarnContext(ctx, "shared cache unavailable", "key", key, "error", err)
	}
	span.SetAttributes(attribute.String("cache.tier", "miss"))
	return ErrCacheMiss
}

// Set 先写共享层，成功后再写本地，保证本地不会持有共享层没有的条目.
func (c *TieredCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "cache.tiered.set", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared set failed")
		return xerrors.WrapInternal(err, "failed to write shared cache")
	}
	if err := c.local.Set(ctx, key, value, min(ttl, c.backfill)); err != nil {
		c.logger.WarnContext(ctx, "local cache write failed", "key", key, "error", err)
	}
	return nil
}

// Delete 同时删除两层.
func (c *TieredCache) Delete(ctx context.Context, keys ...string) error {
	return errors.Join(c.local.Delete(ctx, keys...), c.shared.Delete(ctx, keys...))
}

// Exists 任一层存在即返回 true.
func (c *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, err := c.local.Exists(ctx, key); err == nil && ok {
		return true, nil
	}
	return c.shared.Exists(ctx, key)
}

// Close 关闭两层并合并错误.
func (c *TieredCache) Close() error {
	return errors.Join(c.local.Close(), c.shared.Close())
}
