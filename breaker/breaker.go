// Package breaker 用 gobreaker 保护 Redis、订单库等外部依赖，依赖持续失败时快速拒绝请求。
package breaker

import (
	"cmp"
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/metrics"
	"github.com/wyfcoding/pricing/xerrors"
)

// ErrServiceUnavailable 熔断打开或半开配额用尽时返回，可重试。
var ErrServiceUnavailable = xerrors.New(xerrors.ErrUnavailable, 503201, "circuit breaker open",
	"calls are rejected until the breaker half-opens", nil)

const (
	defaultFailureRatio = 0.6
	defaultMinRequests  = 10
)

// Settings 熔断器参数，FailureRatio 与 MinRequests 为零值时使用默认值。
type Settings struct {
	Name         string
	Config       config.BreakerConfig
	FailureRatio float64
	MinRequests  uint32
	// IsSuccessful 判定错误是否不计入失败，为空时使用 countsAsSuccess。
	IsSuccessful func(err error) bool
}

// Breaker 未启用或为 nil 时直接执行被保护的函数。
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// 调用方取消与输入类错误说明依赖本身是健康的。
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	if e, ok := xerrors.FromError(err); ok {
		return !e.Temporary()
	}
	return false
}

// NewBreaker 创建熔断器，状态变化写日志并上报 circuit_breaker_state。
func NewBreaker(st Settings, m *metrics.Metrics) *Breaker {
	if !st.Config.Enabled {
		return &Breaker{}
	}

	ratio := cmp.Or(st.FailureRatio, defaultFailureRatio)
	minReq := cmp.Or(st.MinRequests, defaultMinRequests)
	isSuccessful := st.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = countsAsSuccess
	}

	var state *prometheus.GaugeVec
	if m != nil {
		state = m.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0: closed, 1: half-open, 2: open)",
		}, []string{"name"})
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         st.Name,
		MaxRequests:  st.Config.MaxRequests,
		Interval:     st.Config.Interval,
		Timeout:      st.Config.Timeout,
		IsSuccessful: isSuccessful,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minReq && float64(c.TotalFailures) >= ratio*float64(c.Requests)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if state != nil {
				state.WithLabelValues(name).Set(float64(to))
			}
		},
	})}
}

// State 未启用时视为 Closed。
func (b *Breaker) State() gobreaker.State {
	if b == nil || b.cb == nil {
		return gobreaker.StateClosed
	}
	return b.cb.State()
}

// Do 在熔断保护下执行 fn，拒绝时返回派生自 ErrServiceUnavailable 的错误。
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil || b.cb == nil {
		return fn()
	}
	res, err := b.cb.Execute(func() (any, error) { return fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrServiceUnavailable.Derive("%s: %v", b.cb.Name(), err)
	}
	v, _ := res.(T)
	return v, err
}
