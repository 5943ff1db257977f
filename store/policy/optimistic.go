package policy

import (
	"context"

	"goredux/errors"
	"goredux/logging"
	"goredux/store"
)

// OptimisticConfig 乐观更新配置
type OptimisticConfig[S comparable, V comparable] struct {
	// Kind 动作类型标签，默认 "optimistic"
	Kind string

	// Value 依据当前状态计算要写入的新值，必填
	Value func(s S) V

	// ValueFrom 从状态中取出被管理的值，必填
	ValueFrom func(s S) V

	// Apply 把值写回状态，必填
	Apply func(s S, v V) S

	// Save 把新值保存到远端，必填
	Save func(ctx context.Context, v V) error

	// Reload 从远端重新读取权威值；为 nil 或返回
	// errors.ErrNotImplemented 时跳过对账
	Reload func(ctx context.Context) (V, error)
}

// Optimistic 乐观更新叶子动作
//
// 单发模式：先写后确认。每次调度独立执行，不合并并发调度。
//
// 归约流程:
// 1. 记下状态中的当前值，立即把新值写入状态（乐观生效）
// 2. 调用 Save 保存到远端
// 3. 保存失败时，仅当状态中的值仍是本次写入的新值才回滚到初始值
//    （已被别人改过就不动）
// 4. 无论成败，只要配置了 Reload 就以远端权威值收尾对账
// 5. Save 的错误在回滚与对账之后照常抛出
type Optimistic[S comparable, V comparable] struct {
	store.Base[S]
	cfg OptimisticConfig[S, V]
}

func NewOptimistic[S comparable, V comparable](cfg OptimisticConfig[S, V]) *Optimistic[S, V] {
	if cfg.Value == nil || cfg.ValueFrom == nil || cfg.Apply == nil || cfg.Save == nil {
		panic("policy: Optimistic 需要 Value/ValueFrom/Apply/Save 四个函数")
	}
	if cfg.Kind == "" {
		cfg.Kind = "optimistic"
	}
	return &Optimistic[S, V]{cfg: cfg}
}

func (a *Optimistic[S, V]) Kind() string {
	return a.cfg.Kind
}

func (a *Optimistic[S, V]) Asynchronous() {}

func (a *Optimistic[S, V]) Reduce(ctx context.Context) (S, bool, error) {
	st := a.Store()
	initial := a.cfg.ValueFrom(st.State())
	newValue := a.cfg.Value(st.State())

	// 乐观写入，立即可见
	st.DispatchAndWait(ctx, store.Update(a.cfg.Kind+"/apply", func(ctx context.Context, s S) (S, bool, error) {
		return a.cfg.Apply(s, newValue), true, nil
	}))

	saveErr := a.cfg.Save(ctx, newValue)
	if saveErr != nil {
		// 只回滚仍是本次写入值的状态
		st.DispatchAndWait(ctx, store.Update(a.cfg.Kind+"/rollback", func(ctx context.Context, s S) (S, bool, error) {
			if a.cfg.ValueFrom(s) != newValue {
				return s, false, nil
			}
			return a.cfg.Apply(s, initial), true, nil
		}))
	}

	reloadErr := a.reload(ctx, st)

	var zero S
	if saveErr != nil {
		if reloadErr != nil {
			st.Logger().Warn(ctx, "保存失败后的对账也失败了",
				logging.String("action", a.cfg.Kind),
				logging.Error(reloadErr))
		}
		return zero, false, saveErr
	}
	return zero, false, reloadErr
}

// reload 以远端权威值收尾，未实现视为无事发生
func (a *Optimistic[S, V]) reload(ctx context.Context, st *store.Store[S]) error {
	if a.cfg.Reload == nil {
		return nil
	}

	authoritative, err := a.cfg.Reload(ctx)
	if err != nil {
		if errors.IsNotImplemented(err) {
			return nil
		}
		return err
	}

	st.DispatchAndWait(ctx, store.Update(a.cfg.Kind+"/reload", func(ctx context.Context, s S) (S, bool, error) {
		return a.cfg.Apply(s, authoritative), true, nil
	}))
	return nil
}
