package stablesync

import (
	"context"
	"sync/atomic"

	"goredux/store"
)

// SetAction 稳定同步写入动作
//
// 由 Coordinator.Set 创建。归约流程：
// 1. 无条件把新值乐观写入状态（发送权在谁手里都立即可见）
// 2. 记录本地意图并尝试抢占发送权
// 3. 抢到则进入发送循环直到值趋稳；没抢到直接返回，
//    意图由在飞行的发送循环跟进带出
type SetAction[S comparable, V comparable] struct {
	store.Base[S]
	c     *Coordinator[S, V]
	key   string
	value V
	rev   atomic.Int64
}

// Set 创建写入动作：立即把值写入状态，并保证最终与服务器收敛
func (c *Coordinator[S, V]) Set(key string, v V) *SetAction[S, V] {
	return &SetAction[S, V]{c: c, key: key, value: v}
}

func (a *SetAction[S, V]) Kind() string {
	return a.c.kind(a.key, "set")
}

func (a *SetAction[S, V]) Asynchronous() {}

// LocalRevision 本次调度记录的本地意图修订号
//
// 同一次调度内多次调用返回同一个值；意图尚未记录时返回 0。
func (a *SetAction[S, V]) LocalRevision() int64 {
	return a.rev.Load()
}

func (a *SetAction[S, V]) Reduce(ctx context.Context) (S, bool, error) {
	var zero S
	c := a.c

	// 乐观写入先行
	applied := c.st.DispatchAndWait(ctx, store.Update(c.kind(a.key, "apply"), func(ctx context.Context, s S) (S, bool, error) {
		return c.cfg.Apply(s, a.key, a.value), true, nil
	}))
	if err := applied.Err(); err != nil {
		return zero, false, err
	}

	rev, acquired := c.recordIntent(a.key, a.value)
	a.rev.Store(rev)

	if !acquired {
		// 已有发送循环在飞行，意图由它的跟进请求带出
		return zero, false, nil
	}

	err := c.sendLoop(ctx, a.key)
	c.finish(a.key, err)
	return zero, false, err
}

// PushAction 服务器推送动作
//
// 由 Coordinator.Push 创建。不含等待，可用 DispatchSync 同步调度。
// 修订号不高于已知最大值的推送整体忽略（重复或乱序投递）；
// 更新的推送总是先记下修订号，再视配置决定是否写状态。
// 推送从不触碰本地意图修订号，也不占用发送权。
//
// 监听器投递不保证不重叠，修订号判定与状态写回全程持有写回锁：
// 两条并发推送不可能交错落地（否则旧值可能后写进状态，此后
// 不高于已知修订号的推送又被整体忽略，状态卡死在旧值上）。
type PushAction[S comparable, V comparable] struct {
	store.Base[S]
	c         *Coordinator[S, V]
	key       string
	value     V
	serverRev int64
}

// Push 创建服务器推送动作
func (c *Coordinator[S, V]) Push(key string, v V, serverRev int64) *PushAction[S, V] {
	return &PushAction[S, V]{c: c, key: key, value: v, serverRev: serverRev}
}

func (a *PushAction[S, V]) Kind() string {
	return a.c.kind(a.key, "push")
}

func (a *PushAction[S, V]) Reduce(ctx context.Context) (S, bool, error) {
	var zero S
	c := a.c

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	e := c.entryLocked(a.key)
	if a.serverRev <= e.serverRev {
		c.mu.Unlock()
		return zero, false, nil
	}
	e.serverRev = a.serverRev
	suppressed := c.cfg.SkipPushWhileLocked && c.st.SyncLocks().Held(a.key)
	c.mu.Unlock()

	if suppressed {
		// 修订号已记录，仲裁照常生效，只是不动状态
		return zero, false, nil
	}

	// 写回经由子调度落地，归约内重查修订号仍是已知最新：
	// 发送循环的应答确认可能刚推进了修订号
	applied := c.st.DispatchAndWait(ctx, store.Update(c.kind(a.key, "push/apply"), func(ctx context.Context, s S) (S, bool, error) {
		if !c.revisionCurrent(a.key, a.serverRev) {
			return s, false, nil
		}
		return c.cfg.Apply(s, a.key, a.value), true, nil
	}))
	return zero, false, applied.Err()
}
