package policy

import (
	"context"
	"fmt"
	"sync/atomic"

	"goredux/store"
)

// syncState 测试用状态
type syncState struct {
	N    int
	Last string
}

// countingAction 记录归约执行次数的叶子动作
//
// failFirst > 0 时前 failFirst 次归约返回 failWith，之后成功；
// failWhile 返回真时也失败（给连通性测试用）。
type countingAction struct {
	store.Base[syncState]
	kind      string
	payload   string
	runs      atomic.Int32
	failFirst int32
	failWith  error
	failWhile func() bool
	onReduce  func()
	block     chan struct{}
}

func newCounting(kind string) *countingAction {
	return &countingAction{kind: kind, payload: kind}
}

func (a *countingAction) Kind() string { return a.kind }

func (a *countingAction) Runs() int32 { return a.runs.Load() }

func (a *countingAction) Reduce(ctx context.Context) (syncState, bool, error) {
	n := a.runs.Add(1)
	if a.onReduce != nil {
		a.onReduce()
	}
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return syncState{}, false, ctx.Err()
		}
	}
	if a.failWith != nil && (a.failFirst <= 0 || n <= a.failFirst) {
		return syncState{}, false, a.failWith
	}
	if a.failWhile != nil && a.failWhile() {
		return syncState{}, false, fmt.Errorf("资源暂不可用")
	}
	s := a.State()
	s.N++
	s.Last = a.payload
	return s, true, nil
}

// beforeFailing 前置失败的装饰器（验证 before 的失败不被重试）
type beforeFailing struct {
	inner store.IAction[syncState]
	err   error
}

func (w *beforeFailing) Kind() string { return w.inner.Kind() }

func (w *beforeFailing) Inner() store.IAction[syncState] { return w.inner }

func (w *beforeFailing) Before(ctx context.Context) error { return w.err }

func (w *beforeFailing) Reduce(ctx context.Context) (syncState, bool, error) {
	return w.inner.Reduce(ctx)
}

func newStore() *store.Store[syncState] {
	return store.New(syncState{})
}
