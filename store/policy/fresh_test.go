package policy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFresh_BlocksWhileFresh(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leaf := newCounting("doc/refresh")
	a := NewFresh[syncState](leaf, FreshConfig{TTL: 80 * time.Millisecond})

	// 第一次刷新写入期限，期限内的重复刷新被中止
	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())
	require.True(t, st.DispatchAndWait(ctx, a).Aborted)
	require.Equal(t, int32(1), leaf.Runs())

	// 过期后放行
	time.Sleep(100 * time.Millisecond)
	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())
	require.Equal(t, int32(2), leaf.Runs())
}

func TestFresh_FailureClearsWhenNoPrior(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leaf := newCounting("doc/refresh")
	leaf.failFirst = 1
	leaf.failWith = fmt.Errorf("加载失败")
	a := NewFresh[syncState](leaf, FreshConfig{TTL: time.Minute})

	// 首次（无先前期限）失败：条目被清除，立即允许重跑
	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedFailed())
	_, held := st.Fresh().Deadline("doc/refresh")
	require.False(t, held)

	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())
	require.Equal(t, int32(2), leaf.Runs())
}

func TestFresh_FailureKeepsNewerEntry(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	const key = "doc/42"

	slow := newCounting("doc/refresh")
	slow.block = make(chan struct{})
	slow.failWith = fmt.Errorf("加载失败")
	slowFresh := NewFresh[syncState](slow, FreshConfig{TTL: 300 * time.Millisecond, Key: key})

	p := st.Dispatch(ctx, slowFresh)
	require.Eventually(t, func() bool {
		return st.IsWaiting("doc/refresh")
	}, time.Second, 5*time.Millisecond)

	// 慢动作还在飞行时，另一个强刷动作写入了更新的期限
	forced := newCounting("doc/force")
	forcedFresh := NewFresh[syncState](forced, FreshConfig{TTL: 300 * time.Millisecond, Key: key, IgnoreFresh: true})
	require.True(t, st.DispatchAndWait(ctx, forcedFresh).IsCompletedOK())

	// 慢动作失败，但它的回滚不能碰别人写的新期限
	close(slow.block)
	status, err := p.Wait(ctx)
	require.True(t, status.IsCompletedFailed())
	require.Error(t, err)

	_, held := st.Fresh().Deadline(key)
	require.True(t, held)

	// 新期限仍然有效，普通刷新被中止
	third := newCounting("doc/third")
	require.True(t, st.DispatchAndWait(ctx, NewFresh[syncState](third, FreshConfig{TTL: 300 * time.Millisecond, Key: key})).Aborted)
	require.Zero(t, third.Runs())
}

func TestFresh_IgnoreFreshFailureClearsInsteadOfRestoring(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leaf := newCounting("doc/refresh")
	a := NewFresh[syncState](leaf, FreshConfig{TTL: time.Minute})
	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())

	// 强刷失败：旧期限不恢复，条目直接清除
	failing := newCounting("doc/force")
	failing.failWith = fmt.Errorf("加载失败")
	forced := NewFresh[syncState](failing, FreshConfig{TTL: time.Minute, Key: "doc/refresh", IgnoreFresh: true})
	require.True(t, st.DispatchAndWait(ctx, forced).IsCompletedFailed())

	_, held := st.Fresh().Deadline("doc/refresh")
	require.False(t, held)

	// 于是普通刷新立即放行
	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())
	require.Equal(t, int32(2), leaf.Runs())
}

func TestFresh_RemoveKeyInvalidatesDuringReduce(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leaf := newCounting("doc/refresh")
	a := NewFresh[syncState](leaf, FreshConfig{TTL: time.Minute})
	leaf.onReduce = func() { a.RemoveKey() }

	// 归约中主动作废：成功结束后也不留下期限
	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())
	_, held := st.Fresh().Deadline("doc/refresh")
	require.False(t, held)

	require.True(t, st.DispatchAndWait(ctx, a).IsCompletedOK())
	require.Equal(t, int32(2), leaf.Runs())
}

func TestFresh_KeyParamsPartitionByResource(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	newDocFresh := func(id string) (*countingAction, *Fresh[syncState]) {
		leaf := newCounting("doc/refresh")
		return leaf, NewFresh[syncState](leaf, FreshConfig{
			TTL:       time.Minute,
			KeyParams: func() string { return id },
		})
	}

	leaf1, doc1 := newDocFresh("1")
	leaf2, doc2 := newDocFresh("2")

	// 不同资源各有各的新鲜度
	require.True(t, st.DispatchAndWait(ctx, doc1).IsCompletedOK())
	require.True(t, st.DispatchAndWait(ctx, doc2).IsCompletedOK())
	require.True(t, st.DispatchAndWait(ctx, doc1).Aborted)
	require.Equal(t, int32(1), leaf1.Runs())
	require.Equal(t, int32(1), leaf2.Runs())

	_, held := st.Fresh().Deadline("doc/refresh/1")
	require.True(t, held)
	_, held = st.Fresh().Deadline("doc/refresh/2")
	require.True(t, held)
}

func TestFresh_KeyFuncSharesAcrossKinds(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	shared := func() string { return "profile" }

	a := newCounting("profile/load")
	b := newCounting("profile/reload")

	require.True(t, st.DispatchAndWait(ctx, NewFresh[syncState](a, FreshConfig{TTL: time.Minute, KeyFunc: shared})).IsCompletedOK())

	// 不同 Kind 通过 KeyFunc 共享同一份新鲜度
	require.True(t, st.DispatchAndWait(ctx, NewFresh[syncState](b, FreshConfig{TTL: time.Minute, KeyFunc: shared})).Aborted)
	require.Equal(t, int32(1), a.Runs())
	require.Zero(t, b.Runs())
}
