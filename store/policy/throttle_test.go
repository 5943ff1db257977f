package policy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottle_WindowBlocksRepeats(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leaf := newCounting("feed/refresh")
	a := NewThrottle[syncState](leaf, ThrottleConfig{Window: 100 * time.Millisecond})

	// 窗口内的重复调度只有第一次执行
	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())
	time.Sleep(25 * time.Millisecond)
	require.True(t, st.DispatchAndWait(ctx, a).Aborted)
	time.Sleep(25 * time.Millisecond)
	require.True(t, st.DispatchAndWait(ctx, a).Aborted)
	require.Equal(t, int32(1), leaf.Runs())

	// 窗口过后再次执行
	time.Sleep(80 * time.Millisecond)
	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())
	require.Equal(t, int32(2), leaf.Runs())
	require.Equal(t, 2, st.State().N)
}

func TestThrottle_IgnoreThrottleRunsAndExtendsWindow(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	normalLeaf := newCounting("feed/refresh")
	normal := NewThrottle[syncState](normalLeaf, ThrottleConfig{Window: 100 * time.Millisecond, Key: "feed"})

	forcedLeaf := newCounting("feed/refresh")
	forced := NewThrottle[syncState](forcedLeaf, ThrottleConfig{Window: 100 * time.Millisecond, Key: "feed", IgnoreThrottle: true})

	require.True(t, st.DispatchAndWait(ctx, normal).IsCompletedOK())

	// 强制模式在窗口内照样执行，并把窗口顺延
	time.Sleep(60 * time.Millisecond)
	require.True(t, st.DispatchAndWait(ctx, forced).IsCompletedOK())
	require.Equal(t, int32(1), forcedLeaf.Runs())

	// 原窗口本应在 100ms 过期，但已被顺延到 160ms
	time.Sleep(60 * time.Millisecond)
	require.True(t, st.DispatchAndWait(ctx, normal).Aborted)
	require.Equal(t, int32(1), normalLeaf.Runs())
}

func TestThrottle_RemoveLockOnError(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leaf := newCounting("feed/refresh")
	leaf.failFirst = 1
	leaf.failWith = fmt.Errorf("拉取失败")
	a := NewThrottle[syncState](leaf, ThrottleConfig{Window: time.Minute, RemoveLockOnError: true})

	status := st.DispatchAndWait(ctx, a)
	require.True(t, status.IsCompletedFailed())

	// 失败释放了窗口，马上重试成功
	status = st.DispatchAndWait(ctx, a)
	require.True(t, status.IsCompletedOK())
	require.Equal(t, int32(2), leaf.Runs())
}

func TestThrottle_KeepLockOnErrorByDefault(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leaf := newCounting("feed/refresh")
	leaf.failWith = fmt.Errorf("拉取失败")
	a := NewThrottle[syncState](leaf, ThrottleConfig{Window: time.Minute})

	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedFailed())

	// 默认失败不释放窗口
	require.True(t, st.DispatchAndWait(ctx, a).Aborted)
	require.Equal(t, int32(1), leaf.Runs())
}

func TestThrottle_AfterPrunesExpiredEntries(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	short := NewThrottle[syncState](newCounting("feed/refresh"), ThrottleConfig{Window: 30 * time.Millisecond, Key: "short"})
	require.True(t, st.DispatchAndWait(ctx, short).IsCompletedOK())
	require.Equal(t, 1, st.Throttle().Len())

	time.Sleep(50 * time.Millisecond)

	// 下一次任意节流调度的 after 顺带清掉过期条目
	other := NewThrottle[syncState](newCounting("user/refresh"), ThrottleConfig{Window: time.Minute, Key: "other"})
	require.True(t, st.DispatchAndWait(ctx, other).IsCompletedOK())
	require.Equal(t, 1, st.Throttle().Len())
	_, held := st.Throttle().Deadline("other")
	require.True(t, held)
}
