package retry

import (
	"context"
	"time"
)

// Operation 可重试的操作函数类型
type Operation func(ctx context.Context) error

// Config 重试配置
type Config struct {
	MaxRetries   int           // 首次失败后的最大重试次数，-1 表示不设上限
	InitialDelay time.Duration // 首次重试前的退避延迟
	Multiplier   float64       // 退避倍数（指数退避），小于 1 时按 2 处理
	MaxDelay     time.Duration // 单次退避延迟上限
}

// DefaultConfig 返回默认配置
//
// 默认值：
//   - MaxRetries: 3（1次初始 + 3次重试）
//   - InitialDelay: 350ms
//   - Multiplier: 2.0（指数退避）
//   - MaxDelay: 5s
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 350 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
}

// Unlimited 是否为不限次数配置
func (c Config) Unlimited() bool {
	return c.MaxRetries < 0
}

// Backoff 计算第 n 次重试前的退避延迟（n 从 1 开始）
//
// delay(1) = InitialDelay，之后每次乘以 Multiplier，封顶 MaxDelay。
// 在循环内封顶，倍数再大也不会溢出。
func Backoff(cfg Config, n int) time.Duration {
	if n < 1 {
		n = 1
	}

	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	delay := float64(cfg.InitialDelay)
	cap := float64(cfg.MaxDelay)

	for i := 1; i < n; i++ {
		delay *= multiplier
		if cap > 0 && delay >= cap {
			return cfg.MaxDelay
		}
	}

	if cap > 0 && delay > cap {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

// Sleep 等待退避延迟（支持上下文取消）
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do 执行带重试的操作
//
// 参数：
//   - ctx: 上下文（支持取消）
//   - op: 要执行的操作
//   - cfg: 重试配置
//
// 返回：
//   - 最后一次执行的错误（如果所有尝试都失败；更早的错误被丢弃）
//   - nil（如果任意一次尝试成功）
//
// 使用示例：
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return someOperation()
//	}, retry.DefaultConfig())
func Do(ctx context.Context, op Operation, cfg Config) error {
	return DoWithInfo(ctx, func(ctx context.Context, _ int) error {
		return op(ctx)
	}, cfg)
}

// OperationWithInfo 接收当前尝试次数的操作函数类型
//
// attempt 从 1 开始计数（1 为初始尝试）。
type OperationWithInfo func(ctx context.Context, attempt int) error

// DoWithInfo 执行带重试的操作，每次尝试都会传入当前尝试次数
func DoWithInfo(ctx context.Context, op OperationWithInfo, cfg Config) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		// 检查上下文是否已取消
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// 执行操作
		err := op(ctx, attempt)
		if err == nil {
			return nil // 成功
		}

		lastErr = err

		// 重试次数已用尽
		retriesSoFar := attempt - 1
		if !cfg.Unlimited() && retriesSoFar >= cfg.MaxRetries {
			return lastErr
		}

		// 等待退避延迟
		if err := Sleep(ctx, Backoff(cfg, attempt)); err != nil {
			return err
		}
	}
}
