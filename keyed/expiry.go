// Package keyed 提供按键并发控制表
//
// 设计原则：
// 1. 简洁 - 每张表只服务一个策略关注点
// 2. 原子性 - 检查并写入在单一锁内完成，无中间解锁窗口
// 3. 可测试 - 时钟可注入
// 4. 并发安全 - Mutex 保护
package keyed

import (
	"fmt"
	"sync"
	"time"
)

// ExpiryTable 键到过期时间的表
//
// 核心特性：
// - 原子抢占：Acquire 在一次加锁内完成"过期检查 + 写入新过期时间"；
// - 条件回滚：RestoreIfCurrent 仅在表项仍是本次写入值时恢复或删除；
// - 过期清理：PruneExpired 一次性清除所有已过期表项；
// - 完整统计：Allowed/Rejected/Pruned。
//
// 节流（Throttle）与保鲜（Fresh）策略各持有一张独立实例。
//
// 使用示例：
//
//	table := keyed.NewExpiryTable(keyed.Config{Name: "throttle"})
//	if acq := table.Acquire("load_user", time.Second); acq.OK {
//	    // 本次调度获准执行
//	}
type ExpiryTable struct {
	name  string
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
	stats   ExpiryStats
}

// Config 表配置
type Config struct {
	// Name 表名称（用于日志和统计）
	Name string

	// Clock 时间源，nil 时使用 time.Now（测试可注入）
	Clock func() time.Time
}

// ExpiryStats 表统计信息
type ExpiryStats struct {
	Allowed  int64 // 抢占成功次数
	Rejected int64 // 抢占被拒次数
	Pruned   int64 // 过期清理条目数
	Size     int   // 当前条目数
}

// Acquisition 一次抢占/刷新的结果快照
//
// Wrote 是本次写入的过期时间，配合 Prev/Had 可在失败时调用
// RestoreIfCurrent 精确回滚。
type Acquisition struct {
	OK    bool      // 是否获准执行
	Wrote time.Time // 本次写入的过期时间（OK 为 false 时为零值）
	Prev  time.Time // 被替换的旧过期时间（Had 为 true 时有效）
	Had   bool      // 此前是否存在表项
}

// NewExpiryTable 创建过期时间表
func NewExpiryTable(config Config) *ExpiryTable {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ExpiryTable{
		name:    config.Name,
		clock:   clock,
		entries: make(map[string]time.Time),
	}
}

// Acquire 原子抢占
//
// 表项不存在或已过期时写入 now+window 并获准；仍在窗口内则拒绝。
// 检查与写入在同一临界区内完成，不存在竞态窗口。
func (t *ExpiryTable) Acquire(key string, window time.Duration) Acquisition {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	prev, had := t.entries[key]

	if had && prev.After(now) {
		// 仍在窗口内
		t.stats.Rejected++
		return Acquisition{OK: false, Prev: prev, Had: true}
	}

	wrote := now.Add(window)
	t.entries[key] = wrote
	t.stats.Allowed++
	t.stats.Size = len(t.entries)

	return Acquisition{OK: true, Wrote: wrote, Prev: prev, Had: had}
}

// Refresh 无条件刷新过期时间
//
// 用于 ignore 模式：不管窗口是否到期都重新写入并获准。
func (t *ExpiryTable) Refresh(key string, window time.Duration) Acquisition {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	prev, had := t.entries[key]

	wrote := now.Add(window)
	t.entries[key] = wrote
	t.stats.Allowed++
	t.stats.Size = len(t.entries)

	return Acquisition{OK: true, Wrote: wrote, Prev: prev, Had: had}
}

// RestoreIfCurrent 条件回滚
//
// 仅当表项仍等于 wrote（即没有被后来的调度覆盖）时生效：
// 此前无表项则删除，有则恢复旧值。返回是否执行了回滚。
func (t *ExpiryTable) RestoreIfCurrent(key string, wrote time.Time, prev time.Time, had bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, exists := t.entries[key]
	if !exists || !current.Equal(wrote) {
		// 已被更新的调度覆盖，不能清除
		return false
	}

	if had {
		t.entries[key] = prev
	} else {
		delete(t.entries, key)
	}
	t.stats.Size = len(t.entries)
	return true
}

// Deadline 查询表项的过期时间
func (t *ExpiryTable) Deadline(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := t.entries[key]
	return deadline, ok
}

// Remove 删除表项
//
// 返回：是否存在并被删除
func (t *ExpiryTable) Remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; !exists {
		return false
	}

	delete(t.entries, key)
	t.stats.Size = len(t.entries)
	return true
}

// PruneExpired 清理所有已过期表项
//
// 返回：清理的条目数量
func (t *ExpiryTable) PruneExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	pruned := 0

	for key, deadline := range t.entries {
		if !deadline.After(now) {
			delete(t.entries, key)
			pruned++
		}
	}

	t.stats.Pruned += int64(pruned)
	t.stats.Size = len(t.entries)
	return pruned
}

// Len 当前条目数
func (t *ExpiryTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear 清空所有表项
func (t *ExpiryTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]time.Time)
	t.stats.Size = 0
}

// Stats 获取统计信息（副本）
func (t *ExpiryTable) Stats() ExpiryStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.Size = len(t.entries)
	return stats
}

// String 返回表信息的字符串表示
func (t *ExpiryTable) String() string {
	stats := t.Stats()
	return fmt.Sprintf("ExpiryTable[%s]: size=%d, allowed=%d, rejected=%d, pruned=%d",
		t.name, stats.Size, stats.Allowed, stats.Rejected, stats.Pruned)
}
