package store

import (
	"context"

	"github.com/google/uuid"

	"goredux/errors"
	"goredux/logging"
)

// Dispatch 异步调度
//
// 管线在新 goroutine 上执行，立即返回 Pending 句柄。
func (st *Store[S]) Dispatch(ctx context.Context, a IAction[S]) *Pending[S] {
	if a == nil {
		p := newPending[S](nil, "")
		p.resolve(func(s *Status) {
			err := errors.NewError(errors.ErrCodeInternal, "不能调度空动作")
			s.OriginalError = err
			s.WrappedError = err
		})
		return p
	}

	p := newPending(a, a.Kind())
	go st.run(ctx, a, p)
	return p
}

// DispatchAndWait 同步等待调度完成
//
// 管线在调用方 goroutine 上执行。
func (st *Store[S]) DispatchAndWait(ctx context.Context, a IAction[S]) Status {
	if a == nil {
		return st.Dispatch(ctx, a).Status()
	}

	p := newPending(a, a.Kind())
	st.run(ctx, a, p)
	return p.Status()
}

// DispatchSync 仅调度同步动作
//
// 链上存在异步标记（防抖、重试、远程同步等）时不执行任何钩子，
// 直接返回 ErrActionNotSync。
func (st *Store[S]) DispatchSync(ctx context.Context, a IAction[S]) (Status, error) {
	if a == nil {
		status := st.DispatchAndWait(ctx, a)
		return status, status.Err()
	}

	if HasAsynchronous(a) {
		return Status{Kind: a.Kind()}, errors.ErrActionNotSync
	}

	status := st.DispatchAndWait(ctx, a)
	return status, status.Err()
}

// DispatchAll 批量异步调度
func (st *Store[S]) DispatchAll(ctx context.Context, actions ...IAction[S]) []*Pending[S] {
	pendings := make([]*Pending[S], 0, len(actions))
	for _, a := range actions {
		pendings = append(pendings, st.Dispatch(ctx, a))
	}
	return pendings
}

// runOutcome 一次管线执行的内部结果
type runOutcome struct {
	aborted      bool
	beforeDone   bool
	reduceDone   bool
	afterDone    bool
	stateChanged bool
	originalErr  error
	wrappedErr   error
	userQueued   bool
}

// run 执行调度管线
//
// 步骤：入场登记 → 绑定容器 → 槽位兜底校验 → 观察者(ini) →
// 准入闸门 → 飞行中登记 → before → reduce（含包装链）→ 状态替换 →
// after（必然执行）→ 错误处理 → 观察者(end) → 终态。
func (st *Store[S]) run(ctx context.Context, a IAction[S], p *Pending[S]) {
	// 入场登记：关闭检查 + 实例复用检查
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		p.resolve(func(s *Status) {
			s.OriginalError = errors.ErrStoreClosed
			s.WrappedError = errors.ErrStoreClosed
		})
		return
	}
	if _, exists := st.dispatched[a]; exists {
		st.mu.Unlock()
		err := errors.NewError(errors.ErrCodeActionReused,
			"动作实例已在调度中，实例不能复用")
		p.resolve(func(s *Status) {
			s.OriginalError = err
			s.WrappedError = err
		})
		return
	}
	st.dispatched[a] = struct{}{}
	st.dispatchCount++
	dispatchCount := st.dispatchCount
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		delete(st.dispatched, a)
		st.mu.Unlock()
	}()

	dispatchID := uuid.New().String()
	startedAt := st.clock()
	p.update(func(s *Status) {
		s.DispatchID = dispatchID
		s.StartedAt = startedAt
	})

	chain := Chain(a)

	// 绑定容器
	for _, element := range chain {
		if binder, ok := element.(IStoreBinder[S]); ok {
			binder.BindStore(st)
		}
	}

	prev := st.State()
	st.notifyActionObservers(a, dispatchCount, true)

	var outcome runOutcome

	// 槽位互斥兜底校验（策略构造函数已 panic 过一轮，这里兜住手工组装的链）
	if err := ValidateChain(a); err != nil {
		outcome.originalErr = err
	} else {
		st.executePhases(ctx, a, chain, &outcome)
	}

	st.processError(ctx, a, chain, &outcome)

	next := st.State()
	st.notifyStateObservers(a, prev, next, outcome.originalErr, dispatchCount)
	st.notifyActionObservers(a, dispatchCount, false)

	finishedAt := st.clock()
	p.resolve(func(s *Status) {
		s.Aborted = outcome.aborted
		s.BeforeDone = outcome.beforeDone
		s.ReduceDone = outcome.reduceDone
		s.AfterDone = outcome.afterDone
		s.StateChanged = outcome.stateChanged
		s.OriginalError = outcome.originalErr
		s.WrappedError = outcome.wrappedErr
		s.UserErrorQueued = outcome.userQueued
		s.FinishedAt = finishedAt
	})
}

// executePhases 执行闸门/before/reduce/after 四个阶段
func (st *Store[S]) executePhases(ctx context.Context, a IAction[S], chain []IAction[S], outcome *runOutcome) {
	// 准入闸门（最外层优先）：任意一层拒绝即静默中止，
	// before/reduce/after 均不执行
	for _, element := range chain {
		if gate, ok := element.(IAbortGate); ok {
			if gate.AbortDispatch(ctx) {
				outcome.aborted = true
				return
			}
		}
	}

	// 飞行中登记：在闸门之后进入，动作不会挡住自己
	kind := a.Kind()
	st.mu.Lock()
	st.inFlight[a] = struct{}{}
	st.inFlightKinds[kind]++
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		delete(st.inFlight, a)
		if st.inFlightKinds[kind] <= 1 {
			delete(st.inFlightKinds, kind)
		} else {
			st.inFlightKinds[kind]--
		}
		st.mu.Unlock()
	}()

	// before（最外层优先；panic 转硬错误）
	phaseErr := st.runBefore(ctx, chain)
	if phaseErr == nil {
		outcome.beforeDone = true

		// reduce：以叶子动作为起点自内向外组合包装链
		next, apply, err := st.runReduce(ctx, chain)
		if err != nil {
			phaseErr = err
		} else {
			outcome.reduceDone = true
			if apply {
				if _, changed := st.replaceState(next); changed {
					outcome.stateChanged = true
				}
			}
		}
	}

	// after：无论成败总会执行，panic 被捕获并记日志
	st.runAfter(ctx, a, chain, phaseErr)
	outcome.afterDone = true

	if phaseErr != nil {
		if errors.IsAborted(phaseErr) {
			// 中止信号：静默结束，不进入错误处理
			outcome.aborted = true
		} else {
			outcome.originalErr = phaseErr
		}
	}
}

func (st *Store[S]) runBefore(ctx context.Context, chain []IAction[S]) (phaseErr error) {
	defer func() {
		if r := recover(); r != nil {
			phaseErr = errors.FromPanic(r)
		}
	}()

	for _, element := range chain {
		if hook, ok := element.(IBeforeHook); ok {
			if err := hook.Before(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *Store[S]) runReduce(ctx context.Context, chain []IAction[S]) (next S, apply bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero S
			next, apply, err = zero, false, errors.FromPanic(r)
		}
	}()

	leaf := chain[len(chain)-1]
	reducer := Reducer[S](leaf.Reduce)

	// 自内向外组合：最外层包装成为最终函数的最外层
	for i := len(chain) - 1; i >= 0; i-- {
		if wrapper, ok := chain[i].(IReduceWrapper[S]); ok {
			w, inner := wrapper, reducer
			reducer = func(ctx context.Context) (S, bool, error) {
				return w.WrapReduce(ctx, inner)
			}
		}
	}

	return reducer(ctx)
}

func (st *Store[S]) runAfter(ctx context.Context, a IAction[S], chain []IAction[S], phaseErr error) {
	// 自内向外执行清理，与 before 相反
	for i := len(chain) - 1; i >= 0; i-- {
		if hook, ok := chain[i].(IAfterHook); ok {
			st.guardedAfter(ctx, a, hook, phaseErr)
		}
	}
}

// guardedAfter 执行单个 after 钩子，panic 只记日志不传播
func (st *Store[S]) guardedAfter(ctx context.Context, a IAction[S], hook IAfterHook, phaseErr error) {
	defer func() {
		if r := recover(); r != nil {
			st.logger.Error(ctx, "after 钩子 panic，已吞掉",
				logging.String("action", a.Kind()),
				logging.Any("panic_value", r))
		}
	}()
	hook.After(ctx, phaseErr)
}

// processError 错误处理
//
// 顺序：动作链 WrapError（自内向外，返回 nil 吞掉）→ 容器级包装
// （返回 nil 保持不变）→ 用户错误入队 → 错误观察者（可吞掉硬错误）。
func (st *Store[S]) processError(ctx context.Context, a IAction[S], chain []IAction[S], outcome *runOutcome) {
	if outcome.aborted || outcome.originalErr == nil {
		return
	}

	err := outcome.originalErr

	// 动作链错误包装
	for i := len(chain) - 1; i >= 0; i-- {
		if wrapper, ok := chain[i].(IErrorWrapper); ok {
			err = wrapper.WrapError(err)
			if err == nil {
				st.logger.Debug(ctx, "错误被动作包装链吞掉",
					logging.String("action", a.Kind()),
					logging.Error(outcome.originalErr))
				return
			}
		}
	}

	// 容器级包装
	if st.wrapError != nil {
		if wrapped := st.wrapError(err, a); wrapped != nil {
			err = wrapped
		}
	}

	// 用户错误进入队列，不向调用方传播
	if userErr, ok := errors.AsUserError(err); ok {
		st.queueUserException(userErr)
		outcome.userQueued = true
		st.logger.Info(ctx, "用户错误已入队",
			logging.String("action", a.Kind()),
			logging.String("message", userErr.Message()),
			logging.Bool("dialog", userErr.ShouldShowDialog()))
		return
	}

	// 错误观察者
	for _, observer := range st.errorObserverSnapshot() {
		if !observer(err, a, st) {
			st.logger.Debug(ctx, "错误被观察者吞掉",
				logging.String("action", a.Kind()),
				logging.Error(err))
			return
		}
	}

	outcome.wrappedErr = err
	st.logger.Error(ctx, "调度失败",
		logging.String("action", a.Kind()),
		logging.Error(err))
}

func (st *Store[S]) notifyActionObservers(a IAction[S], dispatchCount int64, ini bool) {
	for _, observer := range st.actionObserverSnapshot() {
		observer(a, dispatchCount, ini)
	}
}

func (st *Store[S]) notifyStateObservers(a IAction[S], prev, next S, err error, dispatchCount int64) {
	for _, observer := range st.stateObserverSnapshot() {
		if observer == nil { // 运行期注销的槽位
			continue
		}
		observer(a, prev, next, err, dispatchCount)
	}
}

func (st *Store[S]) actionObserverSnapshot() []ActionObserver[S] {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]ActionObserver[S](nil), st.actionObservers...)
}

func (st *Store[S]) stateObserverSnapshot() []StateObserver[S] {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]StateObserver[S](nil), st.stateObservers...)
}

func (st *Store[S]) errorObserverSnapshot() []ErrorObserver[S] {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]ErrorObserver[S](nil), st.errorObservers...)
}
