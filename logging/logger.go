// Package logging 提供了统一的结构化日志（slog）封装，支持OpenTelemetry追踪上下文注入、日志切割与GORM日志集成。
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm/logger"
)

var (
	// defaultLogger 是全局默认的Logger实例。
	defaultLogger *Logger
	mu            sync.Mutex
	// level 为全部由本包创建的 Logger 共享，配置热更新时统一调整。
	level = new(slog.LevelVar)
)

// Config 定义日志配置
type Config struct {
	Service    string
	Module     string
	Level      string
	Format     string // json 或 text，默认 json
	File       string // 日志文件路径，为空则只输出到 stdout
	MaxSize    int    // 每个日志文件最大尺寸 (MB)
	MaxBackups int    // 保留旧日志文件的最大个数
	MaxAge     int    // 保留旧日志文件的最大天数
	Compress   bool   // 是否压缩旧日志
	Console    bool   // 配置了 File 时是否同时输出到 stdout

	// Writer 非空时优先使用，主要用于测试捕获输出。
	Writer io.Writer
}

// Logger 封装了原生的 `*slog.Logger`，并添加了服务名和模块名，方便在日志中区分来源。
type Logger struct {
	*slog.Logger
	Service string // 服务名称
	Module  string // 模块名称
}

// TraceHandler 是一个 `slog.Handler` 装饰器，从 `context.Context` 中提取并注入 `trace_id` 和 `span_id`。
type TraceHandler struct {
	slog.Handler
}

// Handle 在处理日志记录之前尝试获取 OpenTelemetry 的 SpanContext。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持装饰器在 With 之后依然生效。
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 保持装饰器在 WithGroup 之后依然生效。
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// ParseLevel 将字符串解析为 slog 级别，未知值按 info 处理。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel 运行时调整日志级别。
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// NewFromConfig 创建一个新的Logger实例。
func NewFromConfig(cfg Config) *Logger {
	level.Set(ParseLevel(cfg.Level))

	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			a.Key = "timestamp"
		}
		return a
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}
	var handlers []slog.Handler
	switch {
	case cfg.Writer != nil:
		handlers = append(handlers, newHandler(cfg.Format, cfg.Writer, opts))
	case cfg.File != "":
		// 配置了文件路径时使用 lumberjack 进行日志切割
		handlers = append(handlers, newHandler(cfg.Format, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}, opts))
		if cfg.Console {
			handlers = append(handlers, newHandler(cfg.Format, os.Stdout, opts))
		}
	default:
		handlers = append(handlers, newHandler(cfg.Format, os.Stdout, opts))
	}
	handler := tee(handlers...)

	l := slog.New(&TraceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service),
		slog.String("module", cfg.Module),
	)

	return &Logger{
		Logger:  l,
		Service: cfg.Service,
		Module:  cfg.Module,
	}
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// NewLogger 以简单参数创建 logger。
func NewLogger(service, module string, lvl ...string) *Logger {
	l := "info"
	if len(lvl) > 0 {
		l = lvl[0]
	}
	return NewFromConfig(Config{Service: service, Module: module, Level: l})
}

// Named 基于当前 Logger 派生一个模块级 Logger。
func (l *Logger) Named(module string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", module)),
		Service: l.Service,
		Module:  module,
	}
}

// SetDefault 替换全局默认日志记录器
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// Default 返回默认日志记录器实例，未初始化时惰性创建。
func Default() *Logger {
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewFromConfig(Config{Service: "pricing", Module: "default", Level: "info"})
	}
	return defaultLogger
}

// Info 记录 Info 级别日志
func Info(ctx context.Context, msg string, args ...any) {
	Default().InfoContext(ctx, msg, args...)
}

// Warn 记录 Warn 级别日志
func Warn(ctx context.Context, msg string, args ...any) {
	Default().WarnContext(ctx, msg, args...)
}

// Error 记录 Error 级别日志
func Error(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}

// Debug 记录 Debug 级别日志
func Debug(ctx context.Context, msg string, args ...any) {
	Default().DebugContext(ctx, msg, args...)
}

// LogDuration 记录操作耗时
func (l *Logger) LogDuration(ctx context.Context, operation string, args ...any) func() {
	start := time.Now()
	return func() {
		logArgs := append(args, "duration", time.Since(start))
		l.InfoContext(ctx, fmt.Sprintf("%s finished", operation), logArgs...)
	}
}

// GormLogger 实现了 `gorm.io/gorm/logger.Interface`，把 GORM 的日志输出到统一的 slog 日志系统。
type GormLogger struct {
	logger        *slog.Logger  // 用于输出日志的slog实例
	SlowThreshold time.Duration // 慢查询阈值
	level         logger.LogLevel
}

// NewGormLogger 创建一个新的GormLogger实例。
func NewGormLogger(l *Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{
		logger:        l.Logger,
		SlowThreshold: slowThreshold,
	}
}

// LogMode 返回使用指定 GORM 日志级别的副本，零值等同于 Info。
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *GormLogger) enabled(level logger.LogLevel) bool {
	return l.level == 0 || l.level >= level
}

// Info 将GORM的Info级别日志输出为slog的Info级别。
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
}

// Warn 将GORM的Warn级别日志输出为slog的Warn级别。
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
}

// Error 将GORM的Error级别日志输出为slog的Error级别。
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
}

// Trace 记录SQL查询的耗时、语句和错误。慢查询以Warn级别记录，错误以Error级别记录。
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []any{
		slog.String("sql", sql),
		slog.Duration("elapsed", elapsed),
	}
	if rows != -1 {
		fields = append(fields, slog.Int64("rows", rows))
	}

	switch {
	case err != nil && err != logger.ErrRecordNotFound:
		if l.enabled(logger.Error) {
			fields = append(fields, slog.Any("error", err))
			l.logger.ErrorContext(ctx, "gorm trace error", fields...)
		}
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		if l.enabled(logger.Warn) {
			fields = append(fields, slog.String("type", "slow_query"))
			l.logger.WarnContext(ctx, "gorm trace slow query", fields...)
		}
	case l.enabled(logger.Info):
		l.logger.DebugContext(ctx, "gorm trace", fields...)
	}
}
