package persist

import (
	"context"
	"sync"
	"time"
)

// MemoryPersistor 内存持久化后端（测试与示例用）
//
// 记录每次 PersistDifference 的快照，可注入错误与写入延迟，
// 延迟用来在测试里撑开"写入在飞行中"的窗口。
type MemoryPersistor[S any] struct {
	mu       sync.Mutex
	throttle time.Duration
	saved    *S
	diffs    []S
	err      error
	delay    time.Duration
}

// NewMemoryPersistor 创建内存后端
func NewMemoryPersistor[S any](throttle time.Duration) *MemoryPersistor[S] {
	return &MemoryPersistor[S]{throttle: throttle}
}

// ReadState 读取保存的状态
func (m *MemoryPersistor[S]) ReadState(ctx context.Context) (S, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero S
	if m.err != nil {
		return zero, false, m.err
	}
	if m.saved == nil {
		return zero, false, nil
	}
	return *m.saved, true, nil
}

// SaveInitialState 不存在已保存状态时写入初始状态
func (m *MemoryPersistor[S]) SaveInitialState(ctx context.Context, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = &state
	}
	return nil
}

// DeleteState 删除保存的状态
func (m *MemoryPersistor[S]) DeleteState(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = nil
	return nil
}

// PersistDifference 记录一次落盘
func (m *MemoryPersistor[S]) PersistDifference(ctx context.Context, last *S, next S) error {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = &next
	m.diffs = append(m.diffs, next)
	return nil
}

// Throttle 返回节流窗口
func (m *MemoryPersistor[S]) Throttle() time.Duration {
	return m.throttle
}

// Calls 返回已落盘的快照序列
func (m *MemoryPersistor[S]) Calls() []S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]S(nil), m.diffs...)
}

// CallCount 返回落盘次数
func (m *MemoryPersistor[S]) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.diffs)
}

// Saved 返回当前保存的状态
func (m *MemoryPersistor[S]) Saved() (S, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero S
	if m.saved == nil {
		return zero, false
	}
	return *m.saved, true
}

// SetError 注入后续操作返回的错误（nil 恢复正常）
func (m *MemoryPersistor[S]) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay 注入每次落盘前的延迟
func (m *MemoryPersistor[S]) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

var _ IPersistor[struct{}] = (*MemoryPersistor[struct{}])(nil)
