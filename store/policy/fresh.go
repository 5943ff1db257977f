package policy

import (
	"context"
	"time"

	"goredux/keyed"
	"goredux/store"
)

// FreshConfig 新鲜度配置
type FreshConfig struct {
	// TTL 数据视为新鲜的时长，默认 5 分钟
	TTL time.Duration

	// IgnoreFresh 为真时无条件放行并强刷新鲜度
	// （失败后直接清除而不是恢复旧期限）
	IgnoreFresh bool

	// Key 策略键；为空时取内层动作的 Kind
	Key string

	// KeyParams 追加在键后的参数片段（如资源 id），
	// 让同类型动作按目标分桶
	KeyParams func() string

	// KeyFunc 完全接管键的计算，优先于 Key/KeyParams
	// （用于跨动作类型共享同一份新鲜度）
	KeyFunc func() string
}

// DefaultFreshConfig 返回默认新鲜度配置
func DefaultFreshConfig() FreshConfig {
	return FreshConfig{TTL: 5 * time.Minute}
}

// Fresh 新鲜度策略
//
// 特性:
// - 数据仍新鲜（期限未过）时静默中止刷新动作
// - 放行的调度立即写入新期限；调度失败且期限仍是本次写入的值时
//   回滚：先前有期限则恢复，没有则删除（立即过期）
// - 失败的刷新绝不延长新鲜度，也绝不覆盖更新的成功刷新
// - 归约中可调用 RemoveKey/RemoveAllKeys 主动作废，此后 after 不再回滚
//
// 占用闸门槽位。
type Fresh[S comparable] struct {
	base[S]
	cfg FreshConfig

	// 本次调度的获取快照与作废标志
	acqKey  string
	acq     keyed.Acquisition
	removed bool
}

func NewFresh[S comparable](inner store.IAction[S], cfg FreshConfig) *Fresh[S] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultFreshConfig().TTL
	}
	p := &Fresh[S]{base: base[S]{inner: inner}, cfg: cfg}
	store.MustValidateChain[S](p)
	return p
}

func (p *Fresh[S]) Slots() []store.Slot {
	return []store.Slot{store.SlotGate}
}

func (p *Fresh[S]) AbortDispatch(ctx context.Context) bool {
	p.removed = false
	p.acqKey = p.freshKey()

	if p.cfg.IgnoreFresh {
		acq := p.st.Fresh().Refresh(p.acqKey, p.cfg.TTL)
		// 强刷视同首次写入，失败后清除而不是恢复
		acq.Had = false
		p.acq = acq
		return false
	}

	p.acq = p.st.Fresh().Acquire(p.acqKey, p.cfg.TTL)
	return !p.acq.OK
}

func (p *Fresh[S]) After(ctx context.Context, err error) {
	if err == nil || p.removed {
		return
	}
	p.st.Fresh().RestoreIfCurrent(p.acqKey, p.acq.Wrote, p.acq.Prev, p.acq.Had)
}

// RemoveKey 作废本键的新鲜度，下次调度立即放行
func (p *Fresh[S]) RemoveKey() {
	p.removed = true
	key := p.acqKey
	if key == "" {
		key = p.freshKey()
	}
	p.st.Fresh().Remove(key)
}

// RemoveAllKeys 作废全部新鲜度
func (p *Fresh[S]) RemoveAllKeys() {
	p.removed = true
	p.st.Fresh().Clear()
}

func (p *Fresh[S]) freshKey() string {
	if p.cfg.KeyFunc != nil {
		return p.cfg.KeyFunc()
	}
	key := p.keyOr(p.cfg.Key)
	if p.cfg.KeyParams != nil {
		return key + "/" + p.cfg.KeyParams()
	}
	return key
}
