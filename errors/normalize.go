package errors

import (
	"context"
	stdErrors "errors"
)

// Normalize 将运行时/标准库错误规范化为 AppError。
//
// 设计目标：
//   - 对外统一暴露 ErrorCode 体系，避免展示层出现一堆“裸”错误类型；
//   - 保留原始错误作为 cause，方便日志与调试；
//   - 仅处理调度流程中常见的错误类型，后续可按需扩展。
//
// 注意：
//   - 如果传入的 err 已经是 IError 或 UserError，则原样返回；
//   - 未识别的错误保持原样，不强行包装，交由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	// 已经是 AppError / UserError，直接返回
	if _, ok := err.(IError); ok {
		return err
	}
	if _, ok := err.(*UserError); ok {
		return err
	}

	// 上下文取消 / 超时
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return WrapError(err, ErrCodeTimeout, "操作超时")
	}
	if stdErrors.Is(err, context.Canceled) {
		return WrapError(err, ErrCodeAborted, "上下文已取消")
	}

	// 未识别的错误保持原样
	return err
}

// FromPanic 将 reduce/before 阶段捕获的 panic 值转换为硬错误。
//
// panic 值本身是 error 时保留为 cause，否则记录在详情中。
func FromPanic(recovered any) error {
	if recovered == nil {
		return nil
	}

	if err, ok := recovered.(error); ok {
		return WrapError(err, ErrCodeReducePanic, "动作执行发生 panic")
	}

	return NewError(ErrCodeReducePanic, "动作执行发生 panic").
		WithContext("panic_value", recovered)
}
