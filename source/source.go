// Package source 提供订单明细的数据来源：本地 CSV/XLSX 文件或关系型数据库.
package source

import (
	"context"
	"os"
	"time"

	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/database"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/xerrors"
)

// Source 订单明细来源.
type Source interface {
	// Name 来源描述，用于日志.
	Name() string
	// Load 读取标准化后的订单明细.
	Load(ctx context.Context) (*order.ReadResult, error)
}

// FileSource 从 CSV 或 XLSX 文件读取.
type FileSource struct {
	Path   string
	Reader *order.Reader
}

// NewFileSource 按读取配置创建文件来源.
func NewFileSource(path string, cfg config.IngestConfig) *FileSource {
	r := order.NewReader(cfg.TimeLayout)
	r.Sheet = cfg.Sheet
	return &FileSource{Path: path, Reader: r}
}

// Name 实现 Source.
func (s *FileSource) Name() string {
	return "file:" + s.Path
}

// Load 实现 Source.
func (s *FileSource) Load(ctx context.Context) (*order.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, err := order.FormatFromPath(s.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to open order file")
	}
	defer f.Close()
	return s.Reader.Read(f, format)
}

// GormSource 从订单明细表读取.
type GormSource struct {
	repo  *database.LineRepository
	query database.LineQuery
	// Lookback 大于 0 时只读取最近这段时间的明细，覆盖 query.From.
	Lookback time.Duration
	now      func() time.Time
}

// NewGormSource 创建数据库来源.
func NewGormSource(db *database.DB, q database.LineQuery) *GormSource {
	return &GormSource{repo: database.NewLineRepository(db), query: q, now: time.Now}
}

// Name 实现 Source.
func (s *GormSource) Name() string {
	return "database"
}

// Load 实现 Source.
func (s *GormSource) Load(ctx context.Context) (*order.ReadResult, error) {
	q := s.query
	if s.Lookback > 0 {
		q.From = s.now().Add(-s.Lookback)
	}
	lines, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, xerrors.ErrEmptyData.Derive("no order lines in %s", s.repo.Table())
	}
	return &order.ReadResult{Lines: lines, Total: len(lines)}, nil
}

// New 按 ingest 配置创建来源，database 来源使用给定连接.
func New(cfg config.IngestConfig, db *database.DB) (Source, error) {
	switch cfg.Source {
	case "file", "":
		if cfg.Path == "" {
			return nil, xerrors.Configuration("ingest.path is required for file source")
		}
		return NewFileSource(cfg.Path, cfg), nil
	case "database":
		if db == nil {
			return nil, xerrors.Configuration("ingest.source=database requires a database connection")
		}
		s := NewGormSource(db, database.LineQuery{Channel: cfg.Channel})
		s.Lookback = time.Duration(cfg.LookbackDays) * 24 * time.Hour
		return s, nil
	default:
		return nil, xerrors.Configuration("unknown ingest source %q", cfg.Source)
	}
}

// LoadLogged 读取并记录读取统计.
func LoadLogged(ctx context.Context, s Source, logger *logging.Logger) (*order.ReadResult, error) {
	start := time.Now()
	res, err := s.Load(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load order lines", "source", s.Name(), "error", err)
		return nil, err
	}
	logger.InfoContext(ctx, "order lines loaded",
		"source", s.Name(),
		"lines", len(res.Lines),
		"skipped", res.Skipped,
		"duration", time.Since(start),
	)
	return res, nil
}
