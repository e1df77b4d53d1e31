package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/xerrors"

	"github.com/allegro/bigcache/v3"
)

const backendBigCache = "bigcache"

// BigCache 实现了 `Cache` 接口，使用 `allegro/bigcache` 作为底层存储。
// bigcache 只支持全局 LifeWindow，单键过期时间记录在条目信封中并在读取时校验。
type BigCache struct {
	cache *bigcache.BigCache
	ttl   time.Duration
	now   func() time.Time
}

type envelope struct {
	ExpiresAt int64           `json:"expires_at,omitempty"` // UnixNano，0 表示仅受 LifeWindow 约束
	Payload   json.RawMessage `json:"payload"`
}

// NewBigCache 按配置创建本地缓存.
func NewBigCache(cfg config.BigCacheConfig) (*BigCache, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = time.Hour
	}
	bc := bigcache.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		bc.CleanWindow = cfg.CleanWindow
	}
	if cfg.Shards > 0 {
		bc.Shards = cfg.Shards
	}
	if cfg.MaxEntrySize > 0 {
		bc.MaxEntrySize = cfg.MaxEntrySize
	}
	bc.HardMaxCacheSize = cfg.HardMaxCacheSize
	bc.Verbose = cfg.Verbose

	c, err := bigcache.New(context.Background(), bc)
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to initialize bigcache")
	}
	return &BigCache{cache: c, ttl: life, now: time.Now}, nil
}

// Get 读取并反序列化到 value，value 必须是指针.
func (c *BigCache) Get(_ context.Context, key string, value any) error {
	defer observe(backendBigCache, "get", time.Now())

	data, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		cacheMisses.WithLabelValues(backendBigCache).Inc()
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.ExpiresAt > 0 && c.now().UnixNano() >= env.ExpiresAt {
		_ = c.cache.Delete(key)
		cacheMisses.WithLabelValues(backendBigCache).Inc()
		return ErrCacheMiss
	}
	cacheHits.WithLabelValues(backendBigCache).Inc()
	return json.Unmarshal(env.Payload, value)
}

// Set 写入条目；expiration 超过 LifeWindow 时以 LifeWindow 为准.
func (c *BigCache) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	defer observe(backendBigCache, "set", time.Now())

	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	env := envelope{Payload: payload}
	if expiration > 0 && expiration < c.ttl {
		env.ExpiresAt = c.now().Add(expiration).UnixNano()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.cache.Set(key, data)
}

// Delete 删除一个或多个键，不存在的键被忽略.
func (c *BigCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
			return err
		}
	}
	return nil
}

// Exists 检查键是否存在且未过期.
func (c *BigCache) Exists(ctx context.Context, key string) (bool, error) {
	var raw json.RawMessage
	err := c.Get(ctx, key, &raw)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	return err == nil, err
}

// Close 关闭底层缓存.
func (c *BigCache) Close() error {
	return c.cache.Close()
}
