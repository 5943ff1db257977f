package persist

import (
	"context"

	"goredux/store"
)

// IForcePersist 立即落盘标记
//
// 链上任意元素实现它，这次调度产生的状态就绕过节流窗口。
type IForcePersist interface {
	ForcePersist()
}

// Attach 把处理器挂到容器的状态流上
//
// 每次调度结束后：出错的调度不触发持久化；状态没变且未要求
// 强制落盘的也不触发。返回注销函数。
func Attach[S comparable](st *store.Store[S], p *Processor[S]) (cancel func()) {
	return st.AddStateObserver(func(a store.IAction[S], prev, next S, err error, dispatchCount int64) {
		if err != nil {
			return
		}
		force := hasForceMarker(a)
		if prev == next && !force {
			return
		}
		p.Process(Trigger{Kind: a.Kind(), Force: force}, next)
	})
}

func hasForceMarker[S comparable](a store.IAction[S]) bool {
	for _, element := range store.Chain(a) {
		if _, ok := element.(IForcePersist); ok {
			return true
		}
	}
	return false
}

// FlushAction 返回"立即落盘"哨兵动作
//
// 不改状态，只为带着 IForcePersist 标记走一遍调度，
// 让挂载的处理器冲刷当前状态。
func FlushAction[S comparable]() store.IAction[S] {
	return &flushAction[S]{}
}

type flushAction[S comparable] struct {
	store.Base[S]
}

func (a *flushAction[S]) Kind() string { return "persist/flush" }

func (a *flushAction[S]) ForcePersist() {}

func (a *flushAction[S]) Reduce(ctx context.Context) (S, bool, error) {
	var zero S
	return zero, false, nil
}
