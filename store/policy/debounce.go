package policy

import (
	"context"
	"time"

	"goredux/retry"
	"goredux/store"
)

// DebounceConfig 防抖配置
type DebounceConfig struct {
	// Wait 静默窗口，默认 300ms
	Wait time.Duration

	// Key 策略键；为空时取内层动作的 Kind
	Key string
}

// DefaultDebounceConfig 返回默认防抖配置
func DefaultDebounceConfig() DebounceConfig {
	return DebounceConfig{Wait: 300 * time.Millisecond}
}

// Debounce 防抖策略
//
// 特性:
// - 每次调度先递增同键序号并睡满 Wait；醒来后序号已被更新的调度
//   直接放弃（归约不执行，状态不变）
// - 只有输入静默满整个窗口的最后一次调度会真正归约，
//   中间的调度全部作废
// - 等待期间上下文被取消时以 ctx.Err() 硬错误结束
type Debounce[S comparable] struct {
	base[S]
	cfg DebounceConfig
}

func NewDebounce[S comparable](inner store.IAction[S], cfg DebounceConfig) *Debounce[S] {
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultDebounceConfig().Wait
	}
	p := &Debounce[S]{base: base[S]{inner: inner}, cfg: cfg}
	store.MustValidateChain[S](p)
	return p
}

func (p *Debounce[S]) Asynchronous() {}

func (p *Debounce[S]) WrapReduce(ctx context.Context, next store.Reducer[S]) (S, bool, error) {
	key := p.keyOr(p.cfg.Key)
	mySeq := p.st.Debounce().Bump(key)

	if err := retry.Sleep(ctx, p.cfg.Wait); err != nil {
		var zero S
		return zero, false, err
	}

	// 醒来后序号已变说明被更新的调度取代
	if !p.st.Debounce().Settle(key, mySeq) {
		var zero S
		return zero, false, nil
	}
	return next(ctx)
}
