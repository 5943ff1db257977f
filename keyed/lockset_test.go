package keyed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLockSet_TryAcquire 测试抢占与释放
func TestLockSet_TryAcquire(t *testing.T) {
	set := NewLockSet("sync")

	assert.True(t, set.TryAcquire("doc-1"))
	assert.False(t, set.TryAcquire("doc-1"), "已持有的键不能再次抢占")
	assert.True(t, set.Held("doc-1"))

	// 不同键互不影响
	assert.True(t, set.TryAcquire("doc-2"))
	assert.Equal(t, 2, set.Len())

	// 释放后可重新抢占
	assert.True(t, set.Release("doc-1"))
	assert.False(t, set.Held("doc-1"))
	assert.True(t, set.TryAcquire("doc-1"))
}

// TestLockSet_ReleaseUnheld 测试释放未持有的键
func TestLockSet_ReleaseUnheld(t *testing.T) {
	set := NewLockSet("sync")

	assert.False(t, set.Release("missing"))
}

// TestLockSet_Clear 测试清空
func TestLockSet_Clear(t *testing.T) {
	set := NewLockSet("sync")

	set.TryAcquire("a")
	set.TryAcquire("b")

	set.Clear()
	assert.Equal(t, 0, set.Len())
	assert.True(t, set.TryAcquire("a"))
}
