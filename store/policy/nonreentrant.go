package policy

import (
	"context"

	"goredux/store"
)

// NonReentrantConfig 防重入配置
type NonReentrantConfig struct {
	// Key 监视的动作 Kind；为空时取内层动作的 Kind
	Key string
}

// NonReentrant 防重入策略
//
// 同 Kind 的动作已在飞行中时，新调度被静默中止，
// 任何时刻最多只有一个实例在执行。占用闸门槽位，
// 不能与 Throttle / Fresh / UnlimitedRetryCheckInternet 组合。
type NonReentrant[S comparable] struct {
	base[S]
	cfg NonReentrantConfig
}

func NewNonReentrant[S comparable](inner store.IAction[S], cfg NonReentrantConfig) *NonReentrant[S] {
	p := &NonReentrant[S]{base: base[S]{inner: inner}, cfg: cfg}
	store.MustValidateChain[S](p)
	return p
}

func (p *NonReentrant[S]) Slots() []store.Slot {
	return []store.Slot{store.SlotGate}
}

func (p *NonReentrant[S]) AbortDispatch(ctx context.Context) bool {
	return p.st.IsWaiting(p.keyOr(p.cfg.Key))
}
