package store

import (
	"context"
	"fmt"

	"goredux/errors"
)

// Reducer 归约函数签名
//
// 返回 (nextState, apply, err)：apply 为 false 表示本次不替换状态
// （对应"归约返回空"的语义）；err 非空时状态不变。
type Reducer[S comparable] func(ctx context.Context) (S, bool, error)

// IAction 动作接口
//
// Kind 是动作的显式类型标签，作为各策略表的默认键；
// Reduce 计算下一个状态。动作实例在飞行中不能再次调度，
// 并发复用同一实例会得到硬错误；上一次调度结束后可以重新调度。
type IAction[S comparable] interface {
	// Kind 返回动作类型标签
	Kind() string

	// Reduce 计算下一个状态
	Reduce(ctx context.Context) (S, bool, error)
}

// IWrapper 装饰器接口
//
// 策略装饰器包装内层动作并转发 Kind/Reduce；
// 管线通过 Inner 逐层展开，收集各层实现的钩子。
type IWrapper[S comparable] interface {
	// Inner 返回被包装的内层动作
	Inner() IAction[S]
}

// IAbortGate 准入闸门钩子
//
// 任意一层返回 true 时本次调度被静默丢弃（状态 aborted），
// before/reduce/after 均不执行。
type IAbortGate interface {
	AbortDispatch(ctx context.Context) bool
}

// IBeforeHook 前置钩子
//
// 返回错误时跳过 reduce，但 after 依然执行。
type IBeforeHook interface {
	Before(ctx context.Context) error
}

// IReduceWrapper 归约包装钩子
//
// 外层包装内层：管线以叶子动作的 Reduce 为起点，自内向外逐层包装。
type IReduceWrapper[S comparable] interface {
	WrapReduce(ctx context.Context, next Reducer[S]) (S, bool, error)
}

// IAfterHook 后置清理钩子
//
// 无论成败总会执行；panic 会被捕获并记日志，绝不向外传播，
// 保证锁释放等清理逻辑一定完成。
type IAfterHook interface {
	After(ctx context.Context, err error)
}

// IErrorWrapper 错误转换钩子
//
// 自内向外依次应用；返回 nil 表示吞掉错误。
type IErrorWrapper interface {
	WrapError(err error) error
}

// IStoreBinder 容器绑定钩子
//
// 调度开始时对链上每个实现者调用一次。
type IStoreBinder[S comparable] interface {
	BindStore(st *Store[S])
}

// IAsynchronous 异步标记
//
// 实现该接口的链元素会引入等待（退避、防抖、远程往返），
// DispatchSync 拒绝含有此标记的动作。
type IAsynchronous interface {
	Asynchronous()
}

// Slot 策略互斥槽位
//
// 占用同一槽位的两个策略不能出现在同一条链上：它们覆盖同一个
// 管线介入点，组合后会静默覆盖彼此的行为。
type Slot string

const (
	// SlotGate 准入闸门槽位（NonReentrant / Throttle / Fresh / 连通性无限重试）
	SlotGate Slot = "gate"

	// SlotConnectivity 连通性槽位（四种连通性策略互斥）
	SlotConnectivity Slot = "connectivity"

	// SlotRetry 重试槽位
	SlotRetry Slot = "retry"
)

// ISlotted 声明策略占用的互斥槽位
type ISlotted interface {
	Slots() []Slot
}

// Chain 展开装饰器链（从最外层到叶子）
//
// 对 Inner 返回 nil 的畸形链在该层截断。
func Chain[S comparable](a IAction[S]) []IAction[S] {
	var chain []IAction[S]
	for current := a; current != nil; {
		chain = append(chain, current)
		wrapper, ok := current.(IWrapper[S])
		if !ok {
			break
		}
		current = wrapper.Inner()
	}
	return chain
}

// Leaf 返回链的叶子动作
func Leaf[S comparable](a IAction[S]) IAction[S] {
	chain := Chain(a)
	return chain[len(chain)-1]
}

// HasAsynchronous 链上是否存在异步标记
func HasAsynchronous[S comparable](a IAction[S]) bool {
	for _, element := range Chain(a) {
		if _, ok := element.(IAsynchronous); ok {
			return true
		}
	}
	return false
}

// ValidateChain 校验链上的槽位互斥约束
//
// 策略构造函数在组装时调用它并对冲突 panic（接线期失败）；
// 调度管线在首次执行前再校验一次，作为手工组装链的兜底，
// 冲突时返回硬错误。
func ValidateChain[S comparable](a IAction[S]) error {
	occupied := make(map[Slot]string)

	for _, element := range Chain(a) {
		slotted, ok := element.(ISlotted)
		if !ok {
			continue
		}

		name := fmt.Sprintf("%T", element)
		for _, slot := range slotted.Slots() {
			if holder, exists := occupied[slot]; exists {
				return errors.NewError(errors.ErrCodePolicyConflict,
					fmt.Sprintf("策略 %s 与 %s 冲突：同时占用 %s 槽位", name, holder, slot))
			}
			occupied[slot] = name
		}
	}

	return nil
}

// MustValidateChain 校验槽位互斥约束，冲突时 panic
func MustValidateChain[S comparable](a IAction[S]) {
	if err := ValidateChain(a); err != nil {
		panic(err)
	}
}

// Base 可嵌入的动作基类
//
// 提供容器访问与便捷调度方法。字段在调度开始时由管线通过
// BindStore 注入；动作实例只服务单次调度，不存在并发写。
type Base[S comparable] struct {
	store *Store[S]
}

// BindStore 实现 IStoreBinder
func (b *Base[S]) BindStore(st *Store[S]) {
	b.store = st
}

// Store 返回绑定的容器（调度开始前为 nil）
func (b *Base[S]) Store() *Store[S] {
	return b.store
}

// State 读取当前状态
func (b *Base[S]) State() S {
	return b.store.State()
}

// Dispatch 从动作内部发起新的调度
func (b *Base[S]) Dispatch(ctx context.Context, a IAction[S]) *Pending[S] {
	return b.store.Dispatch(ctx, a)
}

// DispatchAndWait 从动作内部发起调度并等待完成
func (b *Base[S]) DispatchAndWait(ctx context.Context, a IAction[S]) Status {
	return b.store.DispatchAndWait(ctx, a)
}
