package errors

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// TestWrap 测试基本错误包装
func TestWrap(t *testing.T) {
	ctx := context.Background()
	originalErr := errors.New("原始错误")

	wrapped := Wrap(ctx, originalErr, ErrCodeInternal, "包装消息")

	if wrapped == nil {
		t.Fatal("包装后的错误为nil")
	}

	if !errors.Is(wrapped, originalErr) {
		t.Error("包装后的错误应保留原始错误")
	}
}

// TestWrap_NilError 测试包装nil错误
func TestWrap_NilError(t *testing.T) {
	ctx := context.Background()

	wrapped := Wrap(ctx, nil, ErrCodeInternal, "消息")

	if wrapped != nil {
		t.Error("包装nil错误应该返回nil")
	}
}

// TestWrapPersistenceError 测试持久化错误包装
func TestWrapPersistenceError(t *testing.T) {
	ctx := context.Background()
	originalErr := errors.New("写入失败")

	wrapped := WrapPersistenceError(ctx, originalErr, "保存状态")

	if wrapped == nil {
		t.Fatal("包装后的错误为nil")
	}

	if GetErrorCode(wrapped) != ErrCodePersistence {
		t.Errorf("期望错误码为 %s，实际为 %s", ErrCodePersistence, GetErrorCode(wrapped))
	}
}

// TestWrapPersistenceError_StoreClosed 测试容器关闭错误不升级
func TestWrapPersistenceError_StoreClosed(t *testing.T) {
	ctx := context.Background()

	wrapped := WrapPersistenceError(ctx, ErrStoreClosed, "保存状态")

	if !IsStoreClosed(wrapped) {
		t.Error("容器关闭错误应保持原错误码")
	}
}

// TestNew 测试创建新错误
func TestNew(t *testing.T) {
	err := New(ErrCodePolicyConflict, "策略冲突")

	if err == nil {
		t.Fatal("创建的错误为nil")
	}

	if !strings.Contains(err.Error(), "策略冲突") {
		t.Errorf("错误消息不包含原始文本: %s", err.Error())
	}
}

// TestNormalize 测试错误规范化
func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{
			name: "上下文超时",
			err:  context.DeadlineExceeded,
			code: ErrCodeTimeout,
		},
		{
			name: "上下文取消",
			err:  context.Canceled,
			code: ErrCodeAborted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized := Normalize(tt.err)
			if GetErrorCode(normalized) != tt.code {
				t.Errorf("期望错误码 %s，实际为 %s", tt.code, GetErrorCode(normalized))
			}
			if !errors.Is(normalized, tt.err) {
				t.Error("规范化后应保留原始错误")
			}
		})
	}
}

// TestNormalize_AlreadyTyped 测试已分类错误原样返回
func TestNormalize_AlreadyTyped(t *testing.T) {
	appErr := NewError(ErrCodeTransport, "传输失败")
	if Normalize(appErr) != appErr {
		t.Error("AppError 应原样返回")
	}

	userErr := NewUserError("余额不足")
	if Normalize(userErr) != userErr {
		t.Error("UserError 应原样返回")
	}
}

// TestFromPanic 测试panic值转换
func TestFromPanic(t *testing.T) {
	cause := errors.New("底层错误")

	err := FromPanic(cause)
	if GetErrorCode(err) != ErrCodeReducePanic {
		t.Errorf("期望错误码 %s，实际为 %s", ErrCodeReducePanic, GetErrorCode(err))
	}
	if !errors.Is(err, cause) {
		t.Error("panic 值为 error 时应保留为 cause")
	}

	err = FromPanic("字符串 panic")
	if GetErrorCode(err) != ErrCodeReducePanic {
		t.Errorf("期望错误码 %s，实际为 %s", ErrCodeReducePanic, GetErrorCode(err))
	}

	if FromPanic(nil) != nil {
		t.Error("nil panic 值应返回 nil")
	}
}

// TestIsAborted 测试中止信号识别
func TestIsAborted(t *testing.T) {
	if !IsAborted(ErrAborted) {
		t.Error("ErrAborted 本身应被识别")
	}

	wrapped := WrapError(ErrAborted, ErrCodeAborted, "外层")
	if !IsAborted(wrapped) {
		t.Error("包装后的中止信号应被识别")
	}

	if IsAborted(errors.New("其他错误")) {
		t.Error("普通错误不应被识别为中止信号")
	}
}

// TestConcurrentWrap 测试并发包装
func TestConcurrentWrap(t *testing.T) {
	ctx := context.Background()
	originalErr := errors.New("并发测试错误")

	const goroutines = 10
	const operations = 100

	done := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			for j := 0; j < operations; j++ {
				wrapped := Wrap(ctx, originalErr, ErrCodeInternal, "并发包装")
				if wrapped == nil {
					t.Errorf("goroutine %d: 包装结果为nil", id)
				}
			}
			done <- true
		}(i)
	}

	// 等待所有goroutine完成
	for i := 0; i < goroutines; i++ {
		<-done
	}
}

// BenchmarkWrap 基准测试：基本包装
func BenchmarkWrap(b *testing.B) {
	ctx := context.Background()
	err := errors.New("测试错误")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Wrap(ctx, err, ErrCodeInternal, "基准测试")
	}
}

// BenchmarkNormalize 基准测试：错误规范化
func BenchmarkNormalize(b *testing.B) {
	err := context.DeadlineExceeded

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Normalize(err)
	}
}
