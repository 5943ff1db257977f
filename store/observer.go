package store

// ActionObserver 动作观察者
//
// 每次调度触发两次：进入管线时 ini=true（准入闸门之前），
// 结束时 ini=false（含中止）。用于埋点与测试计数。
type ActionObserver[S comparable] func(a IAction[S], dispatchCount int64, ini bool)

// StateObserver 状态观察者
//
// 每次调度结束时触发一次，无论状态是否变化；prev 与 next 相同
// 表示本次未替换状态。err 是原始阶段错误（含被吞掉/入队的）。
// 持久化处理器经由它接收状态流。
type StateObserver[S comparable] func(a IAction[S], prev, next S, err error, dispatchCount int64)

// ErrorObserver 错误观察者
//
// 硬错误在包装完成后经过它；返回 false 表示吞掉错误
// （调用方将看到成功结束的状态），返回 true 继续向外传播。
type ErrorObserver[S comparable] func(err error, a IAction[S], st *Store[S]) bool

// WrapErrorFunc 容器级错误包装
//
// 在动作自身的 WrapError 链之后执行。与动作级包装不同：
// 返回 nil 表示保持原错误不变（动作级返回 nil 是吞掉错误）。
type WrapErrorFunc[S comparable] func(err error, a IAction[S]) error

// ChangeListener 状态变更监听
//
// 仅在状态被实际替换（恒等比较不同）时触发，
// 与 StateObserver 的"每次调度必触发"语义不同。
type ChangeListener[S comparable] func(prev, next S)
