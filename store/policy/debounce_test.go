package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goredux/store"
)

func TestDebounce_CoalescesToLastDispatch(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	const wait = 90 * time.Millisecond

	newDebounced := func(payload string) (*countingAction, store.IAction[syncState]) {
		leaf := newCounting("search/query")
		leaf.payload = payload
		return leaf, NewDebounce[syncState](leaf, DebounceConfig{Wait: wait})
	}

	leafA, a := newDebounced("a")
	leafB, b := newDebounced("b")
	leafC, c := newDebounced("c")

	started := time.Now()
	pa := st.Dispatch(ctx, a)
	time.Sleep(30 * time.Millisecond)
	pb := st.Dispatch(ctx, b)
	time.Sleep(30 * time.Millisecond)
	pc := st.Dispatch(ctx, c)

	for _, p := range []*store.Pending[syncState]{pa, pb, pc} {
		status, err := p.Wait(ctx)
		require.NoError(t, err)
		require.True(t, status.IsCompleted())
	}

	// 只有最后一次调度真正归约，携带它自己的输入
	require.Zero(t, leafA.Runs())
	require.Zero(t, leafB.Runs())
	require.Equal(t, int32(1), leafC.Runs())
	require.Equal(t, 1, st.State().N)
	require.Equal(t, "c", st.State().Last)

	// 归约发生在最后一次调度满窗之后
	require.GreaterOrEqual(t, time.Since(started), 60*time.Millisecond+wait)
}

func TestDebounce_IndependentKeys(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leafA := newCounting("search/users")
	leafB := newCounting("search/posts")

	pa := st.Dispatch(ctx, NewDebounce[syncState](leafA, DebounceConfig{Wait: 40 * time.Millisecond}))
	pb := st.Dispatch(ctx, NewDebounce[syncState](leafB, DebounceConfig{Wait: 40 * time.Millisecond}))

	_, err := pa.Wait(ctx)
	require.NoError(t, err)
	_, err = pb.Wait(ctx)
	require.NoError(t, err)

	// 不同键互不干扰
	require.Equal(t, int32(1), leafA.Runs())
	require.Equal(t, int32(1), leafB.Runs())
	require.Equal(t, 2, st.State().N)
}

func TestDebounce_ContextCancelDuringWait(t *testing.T) {
	st := newStore()
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	leaf := newCounting("search/query")
	status := st.DispatchAndWait(ctx, NewDebounce[syncState](leaf, DebounceConfig{Wait: 300 * time.Millisecond}))

	// 等待期间上下文到期是硬错误，不是静默中止
	require.True(t, status.IsCompletedFailed())
	require.ErrorIs(t, status.Err(), context.DeadlineExceeded)
	require.Zero(t, leaf.Runs())
}

func TestDebounce_RejectedByDispatchSync(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	defer st.Close()

	leaf := newCounting("search/query")
	_, err := st.DispatchSync(ctx, NewDebounce[syncState](leaf, DebounceConfig{}))
	require.Error(t, err)
	require.Zero(t, leaf.Runs())
}
