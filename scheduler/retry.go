package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy 指数退避重试策略.
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64 // 相对抖动比例
	MaxRetries     int     // 0 表示不重试
}

// DefaultRetryPolicy 返回默认策略.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// Do 执行 fn，失败且 shouldRetry 返回 true 时按退避间隔重试.
func (p RetryPolicy) Do(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxRetries || !shouldRetry(lastErr) {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		next := float64(backoff) * max(p.Multiplier, 1)
		if p.Jitter > 0 {
			next += (rand.Float64()*2 - 1) * p.Jitter * next
		}
		backoff = time.Duration(next)
		if p.MaxBackoff > 0 {
			backoff = min(backoff, p.MaxBackoff)
		}
	}

	if p.MaxRetries > 0 {
		return fmt.Errorf("retry failed after %d attempts: %w", p.MaxRetries+1, lastErr)
	}
	return lastErr
}
