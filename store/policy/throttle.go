package policy

import (
	"context"
	"time"

	"goredux/store"
)

// ThrottleConfig 节流配置
type ThrottleConfig struct {
	// Window 节流窗口，默认 1s
	Window time.Duration

	// IgnoreThrottle 为真时无条件放行并顺延窗口
	IgnoreThrottle bool

	// RemoveLockOnError 为真时失败的调度立即释放窗口，允许马上重试
	RemoveLockOnError bool

	// Key 策略键；为空时取内层动作的 Kind
	Key string
}

// DefaultThrottleConfig 返回默认节流配置
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{Window: time.Second}
}

// Throttle 节流策略
//
// 特性:
// - 窗口内同键的后续调度被静默中止，窗口由第一次放行的调度写入
// - IgnoreThrottle 模式只刷新窗口，从不中止（用于强制执行）
// - 检查与写入在表锁内一次完成，不存在竞态窗口
// - 每次 after 顺带清理全表已过期的条目
//
// 占用闸门槽位。
type Throttle[S comparable] struct {
	base[S]
	cfg ThrottleConfig
}

func NewThrottle[S comparable](inner store.IAction[S], cfg ThrottleConfig) *Throttle[S] {
	if cfg.Window <= 0 {
		cfg.Window = DefaultThrottleConfig().Window
	}
	p := &Throttle[S]{base: base[S]{inner: inner}, cfg: cfg}
	store.MustValidateChain[S](p)
	return p
}

func (p *Throttle[S]) Slots() []store.Slot {
	return []store.Slot{store.SlotGate}
}

func (p *Throttle[S]) AbortDispatch(ctx context.Context) bool {
	key := p.keyOr(p.cfg.Key)
	if p.cfg.IgnoreThrottle {
		p.st.Throttle().Refresh(key, p.cfg.Window)
		return false
	}
	return !p.st.Throttle().Acquire(key, p.cfg.Window).OK
}

func (p *Throttle[S]) After(ctx context.Context, err error) {
	if err != nil && p.cfg.RemoveLockOnError {
		p.st.Throttle().Remove(p.keyOr(p.cfg.Key))
	}
	p.st.Throttle().PruneExpired()
}
