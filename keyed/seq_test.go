package keyed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSeqTable_Bump 测试序号递增
func TestSeqTable_Bump(t *testing.T) {
	table := NewSeqTable("debounce")

	assert.Equal(t, int64(1), table.Bump("search"))
	assert.Equal(t, int64(2), table.Bump("search"))
	assert.Equal(t, int64(3), table.Bump("search"))

	// 不同键独立计数
	assert.Equal(t, int64(1), table.Bump("filter"))

	seq, ok := table.Current("search")
	require.True(t, ok)
	assert.Equal(t, int64(3), seq)
}

// TestSeqTable_Settle 测试原子结算
func TestSeqTable_Settle(t *testing.T) {
	table := NewSeqTable("debounce")

	first := table.Bump("search")
	second := table.Bump("search")

	// 旧序号结算失败（已被取代）
	assert.False(t, table.Settle("search", first))
	_, ok := table.Current("search")
	assert.True(t, ok, "失败的结算不应删除表项")

	// 最新序号结算成功并删除表项
	assert.True(t, table.Settle("search", second))
	_, ok = table.Current("search")
	assert.False(t, ok)

	// 表项已删，重复结算失败
	assert.False(t, table.Settle("search", second))
}

// TestSeqTable_Wraparound 测试序号回绕
func TestSeqTable_Wraparound(t *testing.T) {
	table := NewSeqTable("debounce")

	// 人为推到上界
	table.mu.Lock()
	table.entries["key"] = seqBound
	table.mu.Unlock()

	assert.Equal(t, int64(0), table.Bump("key"), "达到上界后应回绕到0")
	assert.Equal(t, int64(1), table.Bump("key"))
}

// TestSeqTable_Remove 测试删除
func TestSeqTable_Remove(t *testing.T) {
	table := NewSeqTable("debounce")

	table.Bump("key")
	assert.True(t, table.Remove("key"))
	assert.False(t, table.Remove("key"))
	assert.Equal(t, 0, table.Len())

	// 删除后重新计数从1开始
	assert.Equal(t, int64(1), table.Bump("key"))
}

// TestSeqTable_Clear 测试清空
func TestSeqTable_Clear(t *testing.T) {
	table := NewSeqTable("debounce")

	table.Bump("a")
	table.Bump("b")
	require.Equal(t, 2, table.Len())

	table.Clear()
	assert.Equal(t, 0, table.Len())
}
