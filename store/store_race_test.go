package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"goredux/errors"
)

// TestStore_ConcurrentDispatch
//
// 多个 goroutine 并发调度各自独立的动作实例，
// 验证入场登记、飞行中登记与状态替换在 -race 下无竞态。
func TestStore_ConcurrentDispatch(t *testing.T) {
	st := New(counter{})
	defer st.Close()

	const (
		goroutines = 16
		perGor     = 50
	)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(goroutines)

	var completed int64
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perGor; i++ {
				status := st.DispatchAndWait(ctx, newTraced(nil))
				if status.IsCompleted() {
					atomic.AddInt64(&completed, 1)
				}
			}
		}()
	}

	wg.Wait()

	if completed != goroutines*perGor {
		t.Fatalf("expected %d completions, got %d", goroutines*perGor, completed)
	}
	if st.DispatchCount() != goroutines*perGor {
		t.Fatalf("expected dispatch count %d, got %d", goroutines*perGor, st.DispatchCount())
	}
	if st.State().Value <= 0 {
		t.Fatalf("expected state to advance, got %d", st.State().Value)
	}
}

// TestStore_ConcurrentObserverChurn
//
// 调度与 OnChange 注册/注销并发进行，最后并发关闭容器，
// 验证观察者快照与 Close 的清理在 -race 下无竞态。
func TestStore_ConcurrentObserverChurn(t *testing.T) {
	st := New(counter{})

	const goroutines = 8

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(goroutines * 2)

	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				st.DispatchAndWait(ctx, newTraced(nil))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				cancel := st.OnChange(func(prev, next counter) {})
				cancel()
			}
		}()
	}

	wg.Wait()

	if err := st.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !st.Closed() {
		t.Fatalf("store should be closed")
	}
}

// TestStore_ConcurrentUserExceptionQueue
//
// 并发入队与并发取出用户错误，验证有界队列的守恒性：
// 取出数加剩余数不超过入队数，剩余数不超过容量。
func TestStore_ConcurrentUserExceptionQueue(t *testing.T) {
	const capacity = 8
	st := New(counter{}, WithMaxUserExceptions[counter](capacity))
	defer st.Close()

	const (
		producers = 4
		perGor    = 25
	)

	ctx := context.Background()

	var popped int64
	stop := make(chan struct{})
	consumerDone := make(chan struct{})

	go func() {
		defer close(consumerDone)
		for {
			select {
			case <-stop:
				return
			default:
				if _, ok := st.PopUserException(); ok {
					atomic.AddInt64(&popped, 1)
				}
			}
		}
	}()

	var produceWg sync.WaitGroup
	produceWg.Add(producers)
	for g := 0; g < producers; g++ {
		go func() {
			defer produceWg.Done()
			for i := 0; i < perGor; i++ {
				leaf := newTraced(nil)
				leaf.reduceErr = errors.NewUserError("并发用户错误")
				st.DispatchAndWait(ctx, leaf)
			}
		}()
	}

	// 生产者全部结束后再停掉消费者
	produceWg.Wait()
	close(stop)
	<-consumerDone

	remaining := st.UserExceptionCount()
	if remaining > capacity {
		t.Fatalf("queue exceeded capacity: %d > %d", remaining, capacity)
	}
	total := atomic.LoadInt64(&popped) + int64(remaining)
	if total > producers*perGor {
		t.Fatalf("conservation violated: popped+remaining=%d > produced=%d", total, producers*perGor)
	}
}
