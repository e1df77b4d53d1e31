// Package idgen 为分析批次与调价方案生成全局唯一、按时间递增的编号.
// 默认使用 Snowflake，多实例部署时可切换为 Sonyflake.
package idgen

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sony/sonyflake"

	"github.com/wyfcoding/pricing/config"
)

var (
	// ErrUnsupportedType 不支持的生成器类型.
	ErrUnsupportedType = errors.New("unsupported id generator type")
	// ErrInvalidSettings machine_id 或 start_time 不合法.
	ErrInvalidSettings = errors.New("invalid id generator settings")
)

// 编号前缀
const (
	PrefixRun  = "RUN"
	PrefixPlan = "PLN"
)

const maxMachineID = 1<<10 - 1

var defaultEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator 生成正的 int64 编号.
type Generator interface {
	Generate() int64
}

type snowflakeGen struct{ node *snowflake.Node }

func (g snowflakeGen) Generate() int64 { return g.node.Generate().Int64() }

type sonyflakeGen struct{ sf *sonyflake.Sonyflake }

// Generate 时钟回拨等原因失败时短暂等待后重试，仍失败返回 0.
func (g sonyflakeGen) Generate() int64 {
	for attempt := 1; attempt <= 3; attempt++ {
		id, err := g.sf.NextID()
		if err == nil {
			return int64(id & math.MaxInt64)
		}
		slog.Warn("sonyflake next id failed", "attempt", attempt, "error", err)
		time.Sleep(10 * time.Millisecond)
	}
	return 0
}

// NewGenerator 按 cfg.Type 创建生成器，空类型视为 snowflake.
func NewGenerator(cfg config.IDGenConfig) (Generator, error) {
	if cfg.MachineID < 0 || cfg.MachineID > maxMachineID {
		return nil, fmt.Errorf("%w: machine_id %d out of [0, %d]", ErrInvalidSettings, cfg.MachineID, maxMachineID)
	}
	start := defaultEpoch
	if cfg.StartTime != "" {
		t, err := time.Parse(time.DateOnly, cfg.StartTime)
		if err != nil {
			return nil, fmt.Errorf("%w: start_time: %w", ErrInvalidSettings, err)
		}
		start = t
	}
	if start.After(time.Now()) {
		return nil, fmt.Errorf("%w: start_time %s is in the future", ErrInvalidSettings, cfg.StartTime)
	}

	switch cfg.Type {
	case "", "snowflake":
		// snowflake.Epoch 是包级变量，进程内所有节点共享
		snowflake.Epoch = start.UnixMilli()
		node, err := snowflake.NewNode(cfg.MachineID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
		slog.Info("id generator ready", "type", "snowflake", "machine_id", cfg.MachineID, "epoch", start)
		return snowflakeGen{node: node}, nil
	case "sonyflake":
		mid := uint16(cfg.MachineID)
		sf, err := sonyflake.New(sonyflake.Settings{
			StartTime: start,
			MachineID: func() (uint16, error) { return mid, nil },
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
		slog.Info("id generator ready", "type", "sonyflake", "machine_id", cfg.MachineID, "epoch", start)
		return sonyflakeGen{sf: sf}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, cfg.Type)
	}
}

// Prefixed 返回 prefix 加十进制编号.
func Prefixed(g Generator, prefix string) string {
	return prefix + strconv.FormatInt(g.Generate(), 10)
}

// RunID 分析运行编号.
func RunID(g Generator) string { return Prefixed(g, PrefixRun) }

// PlanID 调价方案编号.
func PlanID(g Generator) string { return Prefixed(g, PrefixPlan) }
