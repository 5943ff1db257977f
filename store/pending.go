package store

import (
	"context"
	"sync"
)

// Pending 飞行中调度的句柄
//
// Dispatch 立即返回 Pending；调用方可以不等待（发完即忘）、
// select Done()、或 Wait 取终态。
type Pending[S comparable] struct {
	action IAction[S]
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

func newPending[S comparable](a IAction[S], kind string) *Pending[S] {
	return &Pending[S]{
		action: a,
		done:   make(chan struct{}),
		status: Status{Kind: kind},
	}
}

// Action 返回被调度的动作
func (p *Pending[S]) Action() IAction[S] {
	return p.action
}

// Done 调度结束时关闭的通道
func (p *Pending[S]) Done() <-chan struct{} {
	return p.done
}

// Status 当前状态快照
//
// 调度未结束时 IsCompleted 为 false。
func (p *Pending[S]) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Wait 等待调度结束
//
// 返回终态与调度的有效错误；上下文先到期则返回当前快照与 ctx.Err()。
// 注意用户错误（UserError）进入容器队列，不会从这里返回。
func (p *Pending[S]) Wait(ctx context.Context) (Status, error) {
	select {
	case <-p.done:
		status := p.Status()
		return status, status.Err()
	case <-ctx.Done():
		return p.Status(), ctx.Err()
	}
}

// update 在锁内修改状态快照
func (p *Pending[S]) update(fn func(*Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

// resolve 写入终态并关闭 Done 通道
func (p *Pending[S]) resolve(fn func(*Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.status.Completed = true
	p.mu.Unlock()
	close(p.done)
}
