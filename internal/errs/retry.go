package errs

import (
	"context"
	"time"
)

// RetryClass 标识重试策略的种类
type RetryClass int

const (
	NoRetry            RetryClass = iota // 不重试
	Immediate                            // 立即重试
	LinearBackoff                        // 线性退避
	ExponentialBackoff                   // 指数退避
)

// RetryPolicy 描述某类错误的重试行为
type RetryPolicy struct {
	Class       RetryClass
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// retryTable 定义各错误类别的重试策略：
// 网络与订阅错误指数退避，订单错误线性退避，
// 市场分析错误立即重试，其余不重试。
var retryTable = [numKinds]RetryPolicy{
	KindNetwork:        {Class: ExponentialBackoff, MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	KindSubscription:   {Class: ExponentialBackoff, MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	KindOrder:          {Class: LinearBackoff, MaxAttempts: 5, BaseDelay: time.Second},
	KindMarketAnalysis: {Class: Immediate, MaxAttempts: 3},
}

// ShouldRetry 判断第 attempt 次失败后是否还应重试 (attempt 从 1 开始)
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	if p.Class == NoRetry {
		return false
	}
	return attempt < p.MaxAttempts
}

// DelayForAttempt 计算第 attempt 次重试前的等待时长。
// 指数退避的指数在 5 处封顶，避免溢出后再按 MaxDelay 截断。
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	switch p.Class {
	case LinearBackoff:
		return time.Duration(attempt) * p.BaseDelay
	case ExponentialBackoff:
		exp := attempt
		if exp > 5 {
			exp = 5
		}
		delay := p.BaseDelay * time.Duration(1<<uint(exp))
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		return delay
	default:
		return 0
	}
}

// Do 执行 fn，失败时按错误自身的重试策略重试。
// 只有 *Error 类型的错误才会触发重试；ctx 取消会立刻中断等待。
func Do(ctx context.Context, fn func() error) error {
	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		kind, ok := KindOf(err)
		if !ok {
			return err
		}
		policy := kind.Retry()
		attempt++
		if !policy.ShouldRetry(attempt) {
			return err
		}
		delay := policy.DelayForAttempt(attempt)
		if delay <= 0 {
			if ctx.Err() != nil {
				return err
			}
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
