// Package database 封装订单明细库的 GORM 连接，附带熔断保护、慢查询日志与链路追踪.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/pricing/breaker"
	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/xerrors"

	"gorm.io/driver/clickhouse"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/opentelemetry/tracing"
)

// ErrQueryFailed 查询执行失败.
var ErrQueryFailed = errors.New("query failed")

const defaultSlowThreshold = 200 * time.Millisecond

// DB 封装了 GORM 实例.
type DB struct {
	*gorm.DB
	cfg     config.DatabaseConfig
	breaker *breaker.Breaker
	logger  *logging.Logger
}

// Dialector 按驱动名构造 GORM 方言.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	if cfg.DSN == "" {
		return nil, xerrors.Configuration("database.dsn is required")
	}
	switch cfg.Driver {
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "postgres", "":
		return postgres.Open(cfg.DSN), nil
	case "clickhouse":
		return clickhouse.Open(cfg.DSN), nil
	default:
		return nil, xerrors.Configuration("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB 按配置打开数据库连接.
func NewDB(cfg config.DatabaseConfig, cbCfg config.BreakerConfig, logger *logging.Logger, m *metrics.Metrics) (*DB, error) {
	dialer, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	return Open(dialer, cfg, cbCfg, logger, m)
}

// Open 使用给定方言打开连接，便于注入已有的 *sql.DB.
func Open(dialer gorm.Dialector, cfg config.DatabaseConfig, cbCfg config.BreakerConfig, logger *logging.Logger, m *metrics.Metrics) (*DB, error) {
	if logger == nil {
		logger = logging.Default()
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = defaultSlowThreshold
	}

	gormDB, err := gorm.Open(dialer, &gorm.Config{
		Logger:                 logging.NewGormLogger(logger, slow).LogMode(cfg.LogLevel),
		SkipDefaultTransaction: true,
		NamingStrategy:         schema.NamingStrategy{},
	})
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to open database connection")
	}

	if cfg.Tracing {
		if errTracing := gormDB.Use(tracing.NewPlugin()); errTracing != nil {
			return nil, xerrors.WrapInternal(errTracing, "failed to register gorm otel plugin")
		}
	}

	sqlDB, errDB := gormDB.DB()
	if errDB != nil {
		return nil, xerrors.WrapInternal(errDB, "failed to get underlying sql.DB")
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	cb := breaker.NewBreaker(breaker.Settings{
		Name:   "database-" + gormDB.Dialector.Name(),
		Config: cbCfg,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, gorm.ErrRecordNotFound) ||
				errors.Is(err, context.Canceled)
		},
	}, m)

	logger.Info("database connected", "driver", gormDB.Dialector.Name(), "tracing", cfg.Tracing)
	return &DB{DB: gormDB, cfg: cfg, breaker: cb, logger: logger}, nil
}

// Query 在熔断保护下执行只读查询.
func (db *DB) Query(ctx context.Context, fc func(tx *gorm.DB) error) error {
	_, err := breaker.Do(db.breaker, func() (struct{}, error) {
		if errQ := fc(db.DB.WithContext(ctx)); errQ != nil {
			return struct{}{}, xerrors.Wrap(errQ, xerrors.ErrInternal, ErrQueryFailed.Error())
		}
		return struct{}{}, nil
	})
	return err
}

// Transaction 封装了带熔断保护的事务逻辑.
func (db *DB) Transaction(ctx context.Context, fc func(tx *gorm.DB) error) error {
	_, err := breaker.Do(db.breaker, func() (struct{}, error) {
		if errTx := db.DB.WithContext(ctx).Transaction(fc); errTx != nil {
			return struct{}{}, xerrors.Wrap(errTx, xerrors.ErrInternal, "transaction failed")
		}
		return struct{}{}, nil
	})
	return err
}

// Table 订单明细表名.
func (db *DB) Table() string {
	if db.cfg.Table == "" {
		return "order_lines"
	}
	return db.cfg.Table
}

// Close 关闭底层连接池.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
