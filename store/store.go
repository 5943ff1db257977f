// Package store 提供单写者状态容器与动作调度管线
//
// 设计原则：
// 1. 单一状态单元 - 只有调度管线能替换状态，替换前做恒等比较
// 2. 显式组合 - 并发策略是包装动作的装饰器，不是隐式继承
// 3. 抢占式安全 - 所有共享结构显式加锁，关键检查与写入同临界区
// 4. 可观测 - 动作/状态/错误三类观察者 + 结构化日志
package store

import (
	"sync"
	"time"

	"goredux/errors"
	"goredux/keyed"
	"goredux/logging"
)

// Store 状态容器
//
// S 要求可比较：状态替换与幂等判定都依赖 == 恒等比较。
// 典型用法是把 S 定义为指向不可变状态结构的指针——
// 归约返回新指针即视为变化，返回原指针即视为无变化。
//
// 使用示例：
//
//	type AppState struct { Count int }
//
//	st := store.New(&AppState{})
//	st.DispatchAndWait(ctx, store.Update("increment",
//	    func(ctx context.Context, s *AppState) (*AppState, bool, error) {
//	        return &AppState{Count: s.Count + 1}, true, nil
//	    }))
type Store[S comparable] struct {
	mu     sync.Mutex
	state  S
	closed bool

	dispatchCount int64
	reduceCount   int64

	// 实例级登记：调度进入即占用，用于拒绝实例复用
	dispatched map[IAction[S]]struct{}

	// 飞行中登记：准入闸门之后、after 之后移除
	inFlight      map[IAction[S]]struct{}
	inFlightKinds map[string]int

	actionObservers []ActionObserver[S]
	stateObservers  []StateObserver[S]
	errorObservers  []ErrorObserver[S]
	wrapError       WrapErrorFunc[S]

	changeListeners map[int64]ChangeListener[S]
	nextListenerID  int64

	userExceptions    []*errors.UserError
	maxUserExceptions int

	logger logging.Logger
	clock  func() time.Time

	// 按键并发控制表：每个策略关注点一张独立表
	throttle  *keyed.ExpiryTable
	debounce  *keyed.SeqTable
	fresh     *keyed.ExpiryTable
	syncLocks *keyed.LockSet
}

// Option 容器构造选项
type Option[S comparable] func(*Store[S])

// WithLogger 设置容器Logger
func WithLogger[S comparable](logger logging.Logger) Option[S] {
	return func(st *Store[S]) {
		if logger != nil {
			st.logger = logger
		}
	}
}

// WithClock 注入时间源（测试用，同时作用于各按键表）
func WithClock[S comparable](clock func() time.Time) Option[S] {
	return func(st *Store[S]) {
		if clock != nil {
			st.clock = clock
		}
	}
}

// WithActionObserver 注册动作观察者
func WithActionObserver[S comparable](observer ActionObserver[S]) Option[S] {
	return func(st *Store[S]) {
		if observer != nil {
			st.actionObservers = append(st.actionObservers, observer)
		}
	}
}

// WithStateObserver 注册状态观察者
func WithStateObserver[S comparable](observer StateObserver[S]) Option[S] {
	return func(st *Store[S]) {
		if observer != nil {
			st.stateObservers = append(st.stateObservers, observer)
		}
	}
}

// WithErrorObserver 注册错误观察者
func WithErrorObserver[S comparable](observer ErrorObserver[S]) Option[S] {
	return func(st *Store[S]) {
		if observer != nil {
			st.errorObservers = append(st.errorObservers, observer)
		}
	}
}

// WithGlobalWrapError 设置容器级错误包装
func WithGlobalWrapError[S comparable](wrap WrapErrorFunc[S]) Option[S] {
	return func(st *Store[S]) {
		st.wrapError = wrap
	}
}

// WithMaxUserExceptions 设置用户错误队列容量（默认 10，0 表示不保留）
func WithMaxUserExceptions[S comparable](max int) Option[S] {
	return func(st *Store[S]) {
		if max >= 0 {
			st.maxUserExceptions = max
		}
	}
}

// New 创建状态容器
func New[S comparable](initial S, opts ...Option[S]) *Store[S] {
	st := &Store[S]{
		state:             initial,
		dispatched:        make(map[IAction[S]]struct{}),
		inFlight:          make(map[IAction[S]]struct{}),
		inFlightKinds:     make(map[string]int),
		changeListeners:   make(map[int64]ChangeListener[S]),
		maxUserExceptions: 10,
		clock:             time.Now,
	}

	for _, opt := range opts {
		opt(st)
	}

	if st.logger == nil {
		st.logger = logging.ComponentLogger("store")
	}

	st.throttle = keyed.NewExpiryTable(keyed.Config{Name: "throttle", Clock: st.clock})
	st.fresh = keyed.NewExpiryTable(keyed.Config{Name: "fresh", Clock: st.clock})
	st.debounce = keyed.NewSeqTable("debounce")
	st.syncLocks = keyed.NewLockSet("sync")

	return st
}

// State 读取当前状态
func (st *Store[S]) State() S {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// replaceState 恒等比较后替换状态
//
// 返回 (prev, changed)：next 与当前状态恒等时不替换。
// 变更监听在锁外触发。
func (st *Store[S]) replaceState(next S) (S, bool) {
	st.mu.Lock()
	prev := st.state
	if st.closed || next == prev {
		st.mu.Unlock()
		return prev, false
	}
	st.state = next
	st.reduceCount++
	listeners := make([]ChangeListener[S], 0, len(st.changeListeners))
	for _, listener := range st.changeListeners {
		listeners = append(listeners, listener)
	}
	st.mu.Unlock()

	for _, listener := range listeners {
		listener(prev, next)
	}
	return prev, true
}

// AddStateObserver 运行期追加状态观察者
//
// 返回注销函数。持久化处理器等容器建成后才挂载的组件用它接入
// 状态流；注销把槽位置空而不收缩切片，通知循环跳过空槽位。
func (st *Store[S]) AddStateObserver(observer StateObserver[S]) (cancel func()) {
	if observer == nil {
		return func() {}
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return func() {}
	}
	st.stateObservers = append(st.stateObservers, observer)
	index := len(st.stateObservers) - 1
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		if index < len(st.stateObservers) {
			st.stateObservers[index] = nil
		}
		st.mu.Unlock()
	}
}

// OnChange 注册状态变更监听
//
// 返回注销函数。监听只在状态被实际替换时触发。
func (st *Store[S]) OnChange(listener ChangeListener[S]) (cancel func()) {
	if listener == nil {
		return func() {}
	}

	st.mu.Lock()
	id := st.nextListenerID
	st.nextListenerID++
	st.changeListeners[id] = listener
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		delete(st.changeListeners, id)
		st.mu.Unlock()
	}
}

// DispatchCount 已进入管线的调度次数
func (st *Store[S]) DispatchCount() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dispatchCount
}

// ReduceCount 状态被实际替换的次数
func (st *Store[S]) ReduceCount() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.reduceCount
}

// IsWaiting 指定类型的动作是否在飞行中
func (st *Store[S]) IsWaiting(kind string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inFlightKinds[kind] > 0
}

// IsWaitingFor 指定动作实例是否在飞行中（恒等比较）
func (st *Store[S]) IsWaitingFor(a IAction[S]) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, waiting := st.inFlight[a]
	return waiting
}

// Logger 容器Logger
func (st *Store[S]) Logger() logging.Logger {
	return st.logger
}

// Clock 容器时间源
func (st *Store[S]) Clock() func() time.Time {
	return st.clock
}

// Throttle 节流策略的过期时间表
func (st *Store[S]) Throttle() *keyed.ExpiryTable {
	return st.throttle
}

// Fresh 保鲜策略的过期时间表
func (st *Store[S]) Fresh() *keyed.ExpiryTable {
	return st.fresh
}

// Debounce 防抖策略的序列号表
func (st *Store[S]) Debounce() *keyed.SeqTable {
	return st.debounce
}

// SyncLocks 远程同步的飞行中键集合
func (st *Store[S]) SyncLocks() *keyed.LockSet {
	return st.syncLocks
}

// queueUserException 用户错误入队（有界 FIFO，满时丢弃最旧）
func (st *Store[S]) queueUserException(userErr *errors.UserError) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.maxUserExceptions == 0 {
		return
	}

	st.userExceptions = append(st.userExceptions, userErr)
	if len(st.userExceptions) > st.maxUserExceptions {
		dropped := len(st.userExceptions) - st.maxUserExceptions
		st.userExceptions = st.userExceptions[dropped:]
	}
}

// PopUserException 取出最早入队的用户错误
func (st *Store[S]) PopUserException() (*errors.UserError, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.userExceptions) == 0 {
		return nil, false
	}

	userErr := st.userExceptions[0]
	st.userExceptions = st.userExceptions[1:]
	return userErr, true
}

// UserExceptionCount 队列中的用户错误数
func (st *Store[S]) UserExceptionCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.userExceptions)
}

// Closed 容器是否已关闭
func (st *Store[S]) Closed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// Close 关闭容器
//
// 此后的调度立即以硬错误结束；各按键表与观察者列表被清空。
// 已在飞行中的调度会自然跑完，但其状态替换不再生效。
// 幂等，可重复调用。
func (st *Store[S]) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.actionObservers = nil
	st.stateObservers = nil
	st.errorObservers = nil
	st.changeListeners = make(map[int64]ChangeListener[S])
	st.userExceptions = nil
	st.mu.Unlock()

	st.throttle.Clear()
	st.fresh.Clear()
	st.debounce.Clear()
	st.syncLocks.Clear()

	return nil
}
