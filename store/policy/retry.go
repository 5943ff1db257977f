package policy

import (
	"context"
	"sync/atomic"

	"goredux/logging"
	"goredux/retry"
	"goredux/store"
)

// Retry 重试策略
//
// 特性:
// - 只对归约阶段的失败重试，before 的失败不重试
// - 指数退避: 延迟从 InitialDelay 起按 Multiplier 翻倍，封顶 MaxDelay；
//   Multiplier 小于 1 时强制为 2
// - MaxRetries 次重试之后放弃，最后一次的错误原样抛出（早先的错误丢弃）；
//   MaxRetries 为 -1 表示无上限，调用方需自行理解等待可能永不结束
// - 退避等待期间上下文被取消时立即以 ctx.Err() 结束
//
// 占用重试槽位。
type Retry[S comparable] struct {
	base[S]
	cfg      retry.Config
	attempts atomic.Int64
}

func NewRetry[S comparable](inner store.IAction[S], cfg retry.Config) *Retry[S] {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = retry.DefaultConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = retry.DefaultConfig().MaxDelay
	}
	p := &Retry[S]{base: base[S]{inner: inner}, cfg: cfg}
	store.MustValidateChain[S](p)
	return p
}

// NewUnlimitedRetries 无上限重试
func NewUnlimitedRetries[S comparable](inner store.IAction[S], cfg retry.Config) *Retry[S] {
	cfg.MaxRetries = -1
	return NewRetry(inner, cfg)
}

func (p *Retry[S]) Slots() []store.Slot {
	return []store.Slot{store.SlotRetry}
}

func (p *Retry[S]) Asynchronous() {}

// Attempts 返回最近一次调度已执行的归约次数
func (p *Retry[S]) Attempts() int64 {
	return p.attempts.Load()
}

func (p *Retry[S]) WrapReduce(ctx context.Context, next store.Reducer[S]) (S, bool, error) {
	p.attempts.Store(0)

	for attempt := 1; ; attempt++ {
		p.attempts.Store(int64(attempt))

		s, apply, err := next(ctx)
		if err == nil {
			return s, apply, nil
		}

		// attempt 次尝试已含首次执行，重试数要减一
		if !p.cfg.Unlimited() && attempt > p.cfg.MaxRetries {
			return s, false, err
		}

		delay := retry.Backoff(p.cfg, attempt)
		p.st.Logger().Debug(ctx, "归约失败，退避后重试",
			logging.String("action", p.Kind()),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))

		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			var zero S
			return zero, false, sleepErr
		}
	}
}
