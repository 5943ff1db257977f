package keyed

import "sync"

// LockSet 飞行中键集合
//
// 远程同步（stablesync）用它保证同一键同时至多一个发送循环在飞行：
// TryAcquire 失败的调度只记录本地意图，由持有者的跟进请求带出。
// 注意这不是互斥锁——失败方不等待，Release 也不要求与抢占方同 goroutine。
type LockSet struct {
	name string

	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockSet 创建键集合
func NewLockSet(name string) *LockSet {
	if name == "" {
		name = "unnamed"
	}
	return &LockSet{
		name: name,
		held: make(map[string]struct{}),
	}
}

// TryAcquire 尝试抢占键
//
// 键空闲时抢占并返回 true；已被持有返回 false，不阻塞。
func (s *LockSet) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.held[key]; exists {
		return false
	}
	s.held[key] = struct{}{}
	return true
}

// Release 释放键
//
// 返回：键此前是否被持有
func (s *LockSet) Release(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.held[key]; !exists {
		return false
	}
	delete(s.held, key)
	return true
}

// Held 查询键是否被持有
func (s *LockSet) Held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.held[key]
	return exists
}

// Len 当前持有键数
func (s *LockSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// Clear 清空所有持有
func (s *LockSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = make(map[string]struct{})
}
