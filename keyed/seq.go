package keyed

import (
	"math"
	"sync"
)

// SeqTable 键到单调序列号的表
//
// 防抖（Debounce）策略用它判定谁是"最后一次"调度：每次调度 Bump 拿到
// 自己的序号，等待窗口结束后用 Settle 原子判定序号是否仍是最新。
// 序号达到上界后回绕到 0，比较语义只依赖相等性，不受回绕影响。
type SeqTable struct {
	name string

	mu      sync.Mutex
	entries map[string]int64
}

// seqBound 序号上界，达到后回绕到 0
const seqBound = math.MaxInt64 - 1

// NewSeqTable 创建序列号表
func NewSeqTable(name string) *SeqTable {
	if name == "" {
		name = "unnamed"
	}
	return &SeqTable{
		name:    name,
		entries: make(map[string]int64),
	}
}

// Bump 递增并返回键的当前序号
//
// 不存在时从 1 开始；达到上界回绕到 0。
func (t *SeqTable) Bump(key string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.entries[key] + 1
	if next > seqBound {
		next = 0
	}
	t.entries[key] = next
	return next
}

// Current 查询键的当前序号
func (t *SeqTable) Current(key string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.entries[key]
	return seq, ok
}

// Settle 原子判定并结算
//
// 当前序号仍等于 seq 时删除表项并返回 true（本次调度胜出）；
// 否则返回 false（已被后续调度取代）。判定与删除在同一临界区内完成。
func (t *SeqTable) Settle(key string, seq int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, exists := t.entries[key]
	if !exists || current != seq {
		return false
	}

	delete(t.entries, key)
	return true
}

// Remove 删除表项
func (t *SeqTable) Remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; !exists {
		return false
	}
	delete(t.entries, key)
	return true
}

// Len 当前条目数
func (t *SeqTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear 清空所有表项
func (t *SeqTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]int64)
}
