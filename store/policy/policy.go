// Package policy 提供可组合的动作并发策略装饰器。
//
// 设计原则:
// 1. 装饰器组合: 每个策略包装一个内层动作，按需实现闸门/前置/归约包装/
//    后置钩子，多个策略可以嵌套（NewRetry(NewDebounce(leaf, ...), ...)）
// 2. 显式键: 策略按键分桶，键默认取内层动作的 Kind，可通过 Config 覆盖，
//    不做任何反射推断
// 3. 装配期失败: 互斥的策略组合（同槽位）在构造函数里直接 panic，
//    而不是等到第一次调度才暴露
// 4. 表归容器: 节流窗口、防抖序号、新鲜度期限都存放在容器的按键表里，
//    与容器同生命周期
//
// 使用示例:
//
//	save := NewThrottle(
//	    NewCheckInternet(saveAction, CheckInternetConfig{Checker: checker}),
//	    ThrottleConfig{Window: time.Second},
//	)
//	st.Dispatch(ctx, save)
package policy

import (
	"context"

	"goredux/store"
)

// base 装饰器公共部分：内层引用与容器绑定
type base[S comparable] struct {
	inner store.IAction[S]
	st    *store.Store[S]
}

func (b *base[S]) Kind() string {
	return b.inner.Kind()
}

func (b *base[S]) Inner() store.IAction[S] {
	return b.inner
}

func (b *base[S]) BindStore(st *store.Store[S]) {
	b.st = st
}

func (b *base[S]) Reduce(ctx context.Context) (S, bool, error) {
	return b.inner.Reduce(ctx)
}

// keyOr 计算策略键：显式键优先，否则用内层动作的 Kind
func (b *base[S]) keyOr(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return b.inner.Kind()
}
