package store

import "context"

// UpdateFunc 即席更新函数
//
// 入参为当前状态快照，返回新状态与是否应用。
type UpdateFunc[S comparable] func(ctx context.Context, current S) (S, bool, error)

// updateAction 由函数构造的叶子动作
type updateAction[S comparable] struct {
	Base[S]
	kind string
	fn   UpdateFunc[S]
}

// Update 从函数构造一次性动作
//
// 适合不值得定义动作类型的简单状态更新：
//
//	st.Dispatch(ctx, store.Update("counter/incr", func(ctx context.Context, c Counter) (Counter, bool, error) {
//	    c.Value++
//	    return c, true, nil
//	}))
//
// 返回的动作可以照常被策略包装。
func Update[S comparable](kind string, fn UpdateFunc[S]) IAction[S] {
	return &updateAction[S]{kind: kind, fn: fn}
}

func (a *updateAction[S]) Kind() string {
	return a.kind
}

func (a *updateAction[S]) Reduce(ctx context.Context) (S, bool, error) {
	if a.fn == nil {
		var zero S
		return zero, false, nil
	}
	return a.fn(ctx, a.State())
}
