// Package config 提供了定价引擎统一的配置加载与管理能力.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/xerrors"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"
)

// Config 全局顶级配置结构.
type Config struct {
	Version    string           `mapstructure:"version"    toml:"version"`
	Log        LogConfig        `mapstructure:"log"        toml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    toml:"metrics"`
	Cache      CacheConfig      `mapstructure:"cache"      toml:"cache"`
	Redis      RedisConfig      `mapstructure:"redis"      toml:"redis"`
	BigCache   BigCacheConfig   `mapstructure:"bigcache"   toml:"bigcache"`
	Breaker    BreakerConfig    `mapstructure:"breaker"    toml:"breaker"`
	Database   DatabaseConfig   `mapstructure:"database"   toml:"database"`
	IDGen      IDGenConfig      `mapstructure:"idgen"      toml:"idgen"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"  toml:"scheduler"`
	Ingest     IngestConfig     `mapstructure:"ingest"     toml:"ingest"`
	Pricing    PricingConfig    `mapstructure:"pricing"    toml:"pricing"`
	Segment    SegmentConfig    `mapstructure:"segment"    toml:"segment"`
	Elasticity ElasticityConfig `mapstructure:"elasticity" toml:"elasticity"`
	Advisor    AdvisorConfig    `mapstructure:"advisor"    toml:"advisor"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"  toml:"optimizer"`
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Service    string `mapstructure:"service"     toml:"service"`
	Level      string `mapstructure:"level"       toml:"level"       validate:"omitempty,oneof=debug info warn warning error"`
	Format     string `mapstructure:"format"      toml:"format"      validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"        toml:"file"`        // 日志文件路径。
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"`    // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"` // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"`     // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"`    // 是否启用压缩。
	Console    bool   `mapstructure:"console"     toml:"console"`     // 写文件的同时输出到 stdout。
}

// MetricsConfig 普罗米修斯监控指标配置.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" toml:"namespace"`
	Enabled   bool   `mapstructure:"enabled"   toml:"enabled"`
}

// CacheConfig 弹性估计缓存策略配置.
type CacheConfig struct {
	// Backend 取值 bigcache、redis 或 multilevel。
	Backend           string        `mapstructure:"backend"            toml:"backend"            validate:"omitempty,oneof=bigcache redis multilevel"`
	Prefix            string        `mapstructure:"prefix"             toml:"prefix"`
	DefaultExpiration time.Duration `mapstructure:"default_expiration" toml:"default_expiration"`
}

// RedisConfig 定义 Redis 连接与池化参数.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"           toml:"addr"`
	Password     string        `mapstructure:"password"       toml:"password"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"   toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"  toml:"write_timeout"`
	DB           int           `mapstructure:"db"             toml:"db"`
	PoolSize     int           `mapstructure:"pool_size"      toml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" toml:"min_idle_conns"`
}

// BigCacheConfig 高性能本地内存缓存参数.
type BigCacheConfig struct {
	LifeWindow       time.Duration `mapstructure:"life_window"         toml:"life_window"`
	CleanWindow      time.Duration `mapstructure:"clean_window"        toml:"clean_window"`
	Shards           int           `mapstructure:"shards"              toml:"shards"`
	MaxEntrySize     int           `mapstructure:"max_entry_size"      toml:"max_entry_size"`
	HardMaxCacheSize int           `mapstructure:"hard_max_cache_size" toml:"hard_max_cache_size"`
	Verbose          bool          `mapstructure:"verbose"             toml:"verbose"`
}

// BreakerConfig 定义远程缓存熔断器（gobreaker）的保护策略.
type BreakerConfig struct {
	Interval    time.Duration `mapstructure:"interval"     toml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"      toml:"timeout"`
	MaxRequests uint32        `mapstructure:"max_requests" toml:"max_requests"`
	Enabled     bool          `mapstructure:"enabled"      toml:"enabled"`
}

// DatabaseConfig 定义订单库连接与连接池参数.
type DatabaseConfig struct {
	Driver          string          `mapstructure:"driver"            toml:"driver"            validate:"omitempty,oneof=postgres mysql clickhouse"`
	DSN             string          `mapstructure:"dsn"               toml:"dsn"`
	Table           string          `mapstructure:"table"             toml:"table"`
	ConnMaxLifetime time.Duration   `mapstructure:"conn_max_lifetime" toml:"conn_max_lifetime"`
	SlowThreshold   time.Duration   `mapstructure:"slow_threshold"    toml:"slow_threshold"`
	LogLevel        logger.LogLevel `mapstructure:"log_level"         toml:"log_level"`
	MaxIdleConns    int             `mapstructure:"max_idle_conns"    toml:"max_idle_conns"`
	MaxOpenConns    int             `mapstructure:"max_open_conns"    toml:"max_open_conns"`
	Tracing         bool            `mapstructure:"tracing"           toml:"tracing"`
}

// IDGenConfig 分析批次 ID 生成器参数.
type IDGenConfig struct {
	Type      string `mapstructure:"type"       toml:"type"       validate:"omitempty,oneof=snowflake sonyflake"`
	StartTime string `mapstructure:"start_time" toml:"start_time"`
	MachineID int64  `mapstructure:"machine_id" toml:"machine_id" validate:"gte=0,lte=1023"`
}

// SchedulerConfig 定时刷新弹性表的调度参数.
type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"      toml:"enabled"`
	Spec       string        `mapstructure:"spec"         toml:"spec"`
	Timeout    time.Duration `mapstructure:"timeout"      toml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"  toml:"max_retries"  validate:"gte=0"`
	RunOnStart bool          `mapstructure:"run_on_start" toml:"run_on_start"`
}

// IngestConfig 订单明细读取参数.
type IngestConfig struct {
	Source       string `mapstructure:"source"        toml:"source"        validate:"omitempty,oneof=file database"`
	Path         string `mapstructure:"path"          toml:"path"`
	Sheet        string `mapstructure:"sheet"         toml:"sheet"`
	TimeLayout   string `mapstructure:"time_layout"   toml:"time_layout"`
	Channel      string `mapstructure:"channel"       toml:"channel"`
	LookbackDays int    `mapstructure:"lookback_days" toml:"lookback_days" validate:"gte=0"`
}

// PricingConfig 平台级定价参数.
type PricingConfig struct {
	PlatformFeeRate       float64  `mapstructure:"platform_fee_rate"       toml:"platform_fee_rate"`
	NonSellableCategories []string `mapstructure:"non_sellable_categories" toml:"non_sellable_categories"`
}

// SegmentConfig 六象限分类的阈值下限与极端定价判定参数.
type SegmentConfig struct {
	HighSalesPercentile    float64 `mapstructure:"high_sales_percentile"  toml:"high_sales_percentile"`
	MinHighSalesQty        float64 `mapstructure:"min_high_sales_qty"     toml:"min_high_sales_qty"`
	MinHighOrders          float64 `mapstructure:"min_high_orders"        toml:"min_high_orders"`
	AttractionPercentile   float64 `mapstructure:"attraction_percentile"  toml:"attraction_percentile"`
	MinAttractionQty       float64 `mapstructure:"min_attraction_qty"     toml:"min_attraction_qty"`
	LowPricePercentile     float64 `mapstructure:"low_price_percentile"   toml:"low_price_percentile"`
	MinUnitProfit          float64 `mapstructure:"min_unit_profit"        toml:"min_unit_profit"`
	MinTotalProfit         float64 `mapstructure:"min_total_profit"       toml:"min_total_profit"`
	PotentialMinUnitProfit float64 `mapstructure:"potential_min_unit_profit" toml:"potential_min_unit_profit"`
	ExtremePrice           float64 `mapstructure:"extreme_price"          toml:"extreme_price"`
	SevereLossRate         float64 `mapstructure:"severe_loss_rate"       toml:"severe_loss_rate"`
	FarBelowCostRatio      float64 `mapstructure:"far_below_cost_ratio"   toml:"far_below_cost_ratio"`
}

// ElasticityConfig 弹性估计参数.
type ElasticityConfig struct {
	MinPriceChange float64       `mapstructure:"min_price_change" toml:"min_price_change"`
	WindowDays     int           `mapstructure:"window_days"      toml:"window_days"`
	DefaultValue   float64       `mapstructure:"default_value"    toml:"default_value"`
	MinCoefficient float64       `mapstructure:"min_coefficient"  toml:"min_coefficient"`
	MaxCoefficient float64       `mapstructure:"max_coefficient"  toml:"max_coefficient"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"        toml:"cache_ttl"`
	Workers        int           `mapstructure:"workers"          toml:"workers"`
}

// AdvisorConfig 单品定价建议参数.
type AdvisorConfig struct {
	DeadZonePct     float64  `mapstructure:"dead_zone_pct"     toml:"dead_zone_pct"`
	DefaultMarkdown float64  `mapstructure:"default_markdown"  toml:"default_markdown"`
	ClampMargin     bool     `mapstructure:"clamp_margin"      toml:"clamp_margin"`
	MarginClampMin  float64  `mapstructure:"margin_clamp_min"  toml:"margin_clamp_min"`
	MarginClampMax  float64  `mapstructure:"margin_clamp_max"  toml:"margin_clamp_max"`
	GuardRules      []string `mapstructure:"guard_rules"       toml:"guard_rules"`
}

// OptimizerConfig 组合优化参数.
type OptimizerConfig struct {
	MaxPriceUpPct      float64 `mapstructure:"max_price_up_pct"     toml:"max_price_up_pct"`
	MaxPriceDownPct    float64 `mapstructure:"max_price_down_pct"   toml:"max_price_down_pct"`
	Priority           string  `mapstructure:"priority"             toml:"priority"             validate:"omitempty,oneof=profit_contribution sales_volume low_elasticity low_margin"`
	Lambda             float64 `mapstructure:"lambda"               toml:"lambda"`
	GlobalTriggerRatio float64 `mapstructure:"global_trigger_ratio" toml:"global_trigger_ratio"`
	GlobalMaxProducts  int     `mapstructure:"global_max_products"  toml:"global_max_products"`
	InfeasibleRatio    float64 `mapstructure:"infeasible_ratio"     toml:"infeasible_ratio"`
	LocalMaxIter       int     `mapstructure:"local_max_iter"       toml:"local_max_iter"`
	DEPopulation       int     `mapstructure:"de_population"        toml:"de_population"`
	DEGenerations      int     `mapstructure:"de_generations"       toml:"de_generations"`
	DEWorkers          int     `mapstructure:"de_workers"           toml:"de_workers"`
	Seed               uint64  `mapstructure:"seed"                 toml:"seed"`
}

// Default 返回内置默认配置.
func Default() *Config {
	return &Config{
		Version: "v1",
		Log:     LogConfig{Service: "pricing", Level: "info", Format: "json"},
		Metrics: MetricsConfig{Namespace: "pricing", Enabled: true},
		Cache:   CacheConfig{Backend: "bigcache", Prefix: "pricing:", DefaultExpiration: time.Hour},
		BigCache: BigCacheConfig{
			LifeWindow:   time.Hour,
			CleanWindow:  5 * time.Minute,
			Shards:       64,
			MaxEntrySize: 512,
		},
		Breaker:   BreakerConfig{Interval: time.Minute, Timeout: 30 * time.Second, MaxRequests: 3, Enabled: true},
		Database:  DatabaseConfig{Table: "order_lines", SlowThreshold: 200 * time.Millisecond, MaxIdleConns: 5, MaxOpenConns: 20},
		IDGen:     IDGenConfig{Type: "snowflake", MachineID: 1},
		Scheduler: SchedulerConfig{Spec: "0 3 * * *", Timeout: 10 * time.Minute, MaxRetries: 2},
		Ingest:    IngestConfig{Source: "file", TimeLayout: "2006-01-02 15:04:05"},
		Pricing: PricingConfig{
			PlatformFeeRate:       0.08,
			NonSellableCategories: []string{"赠品", "包装", "配送费", "gift", "packaging", "delivery fee"},
		},
		Segment: SegmentConfig{
			HighSalesPercentile:    70,
			MinHighSalesQty:        5,
			MinHighOrders:          2,
			AttractionPercentile:   50,
			MinAttractionQty:       3,
			LowPricePercentile:     30,
			MinUnitProfit:          0.5,
			MinTotalProfit:         10,
			PotentialMinUnitProfit: 0.1,
			ExtremePrice:           0.01,
			SevereLossRate:         -50,
			FarBelowCostRatio:      0.5,
		},
		Elasticity: ElasticityConfig{
			MinPriceChange: 0.05,
			WindowDays:     3,
			DefaultValue:   -1.0,
			MinCoefficient: -5,
			MaxCoefficient: 1,
			CacheTTL:       time.Hour,
			Workers:        8,
		},
		Advisor: AdvisorConfig{
			DeadZonePct:     1,
			DefaultMarkdown: 0.05,
			MarginClampMin:  1,
			MarginClampMax:  98,
		},
		Optimizer: OptimizerConfig{
			MaxPriceUpPct:      20,
			MaxPriceDownPct:    20,
			Priority:           "profit_contribution",
			Lambda:             0.1,
			GlobalTriggerRatio: 0.9,
			GlobalMaxProducts:  100,
			InfeasibleRatio:    0.5,
			LocalMaxIter:       500,
			DEPopulation:       30,
			DEGenerations:      120,
			DEWorkers:          4,
			Seed:               42,
		},
	}
}

// Validate 执行结构校验之外的领域校验，失败时返回 ErrConfiguration。
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return xerrors.Configuration("%v", err)
	}
	fee := c.Pricing.PlatformFeeRate
	if math.IsNaN(fee) || fee < 0 || fee >= 1 {
		return xerrors.Configuration("pricing.platform_fee_rate %.4f must be in [0, 1)", fee)
	}
	e := c.Elasticity
	if e.WindowDays < 1 {
		return xerrors.Configuration("elasticity.window_days %d must be positive", e.WindowDays)
	}
	if e.MinPriceChange <= 0 || e.MinPriceChange >= 1 {
		return xerrors.Configuration("elasticity.min_price_change %.4f must be in (0, 1)", e.MinPriceChange)
	}
	if e.MinCoefficient > e.MaxCoefficient {
		return xerrors.Configuration("elasticity coefficient range [%.2f, %.2f] is empty", e.MinCoefficient, e.MaxCoefficient)
	}
	a := c.Advisor
	if a.MarginClampMin < 0 || a.MarginClampMax >= 100 || a.MarginClampMin > a.MarginClampMax {
		return xerrors.Configuration("advisor margin clamp [%.2f, %.2f] invalid", a.MarginClampMin, a.MarginClampMax)
	}
	if a.DefaultMarkdown < 0 || a.DefaultMarkdown >= 1 {
		return xerrors.Configuration("advisor.default_markdown %.4f must be in [0, 1)", a.DefaultMarkdown)
	}
	o := c.Optimizer
	if o.MaxPriceUpPct < 0 || o.MaxPriceDownPct < 0 || o.MaxPriceDownPct >= 100 {
		return xerrors.Configuration("optimizer price caps up=%.2f down=%.2f invalid", o.MaxPriceUpPct, o.MaxPriceDownPct)
	}
	if o.Lambda < 0 {
		return xerrors.Configuration("optimizer.lambda %.4f must not be negative", o.Lambda)
	}
	if o.InfeasibleRatio < 0 || o.InfeasibleRatio > 0.8 {
		return xerrors.Configuration("optimizer.infeasible_ratio %.2f must be in [0, 0.8]", o.InfeasibleRatio)
	}
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
			return xerrors.Configuration("scheduler.spec %q: %v", c.Scheduler.Spec, err)
		}
	}
	return nil
}

var (
	vInstance = viper.New()
	hookMu    sync.Mutex
	onReload  []func(*Config)
)

// RegisterReloadHook 注册配置热更新回调。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	hookMu.Lock()
	defer hookMu.Unlock()
	onReload = append(onReload, hook)
}

// Load 从 TOML 文件加载配置，未出现的键沿用 Default() 中的值。
// 环境变量以 APP_ 为前缀覆盖，例如 APP_PRICING_PLATFORM_FEE_RATE。
func Load(path string) (*Config, error) {
	conf := Default()
	vInstance.SetConfigFile(path)
	vInstance.SetConfigType("toml")

	vInstance.SetEnvPrefix("APP")
	vInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vInstance.AutomaticEnv()

	if err := vInstance.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	if err := vInstance.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// Watch 开启文件监听，配置变更且校验通过后更新日志级别并触发回调。
func Watch(current *Config) {
	vInstance.WatchConfig()
	vInstance.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		next := Default()
		if err := vInstance.Unmarshal(next); err != nil {
			slog.Error("reload config unmarshal failed", "error", err)
			return
		}
		if err := next.Validate(); err != nil {
			slog.Error("reload config validation failed", "error", err)
			return
		}

		*current = *next
		logging.SetLevel(current.Log.Level)
		slog.Info("config hot-reloaded and validated successfully")

		hookMu.Lock()
		hooks := append([]func(*Config){}, onReload...)
		hookMu.Unlock()
		for _, hook := range hooks {
			hook(current)
		}
	})
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		slog.Error("failed to unmarshal config for masking", "error", unmarshalErr)
		return
	}

	Mask(configMap)

	maskedJSON, marshalErr := json.MarshalIndent(configMap, "  ", "  ")
	if marshalErr != nil {
		slog.Error("failed to marshal masked config", "error", marshalErr)
		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

// Mask 就地替换敏感字段的值.
func Mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			Mask(subMap)
			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					Mask(itemMap)
				}
			}
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}

// GetViper 返回底层的 Viper 实例.
func GetViper() *viper.Viper {
	return vInstance
}
