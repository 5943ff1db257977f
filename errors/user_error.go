package errors

import (
	stdErrors "errors"
	"fmt"
)

// UserError 面向用户的错误。
//
// 与 AppError（程序性硬错误）不同，UserError 表示需要展示给最终用户的
// 业务提示：消息本身就是展示文案。调度管线识别到 UserError 后不会向
// 调用方抛出，而是放入容器的用户错误队列，由展示层逐条取出。
//
// 特性：
//   - dialog 标志（默认 true）：展示层据此决定是否弹窗；
//   - 可携带原因错误与任意属性，便于展示层渲染更多上下文；
//   - 修改方法返回副本，原错误不可变。
type UserError struct {
	message  string
	cause    error
	code     ErrorCode
	details  map[string]any
	noDialog bool
}

// NewUserError 创建面向用户的错误
func NewUserError(message string) *UserError {
	return &UserError{
		message: message,
		code:    ErrCodeUserFacing,
		details: make(map[string]any),
	}
}

// NewUserErrorWithCause 创建带原因的用户错误
func NewUserErrorWithCause(message string, cause error) *UserError {
	return &UserError{
		message: message,
		cause:   cause,
		code:    ErrCodeUserFacing,
		details: make(map[string]any),
	}
}

// Error 实现 error 接口
func (e *UserError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Message 获取展示文案
func (e *UserError) Message() string {
	return e.message
}

// Cause 获取原始错误
func (e *UserError) Cause() error {
	return e.cause
}

// Code 获取错误代码
func (e *UserError) Code() ErrorCode {
	return e.code
}

// Details 获取附加属性
func (e *UserError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// ShouldShowDialog 是否应以对话框形式展示
func (e *UserError) ShouldShowDialog() bool {
	return !e.noDialog
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *UserError) Unwrap() error {
	return e.cause
}

// Is 检查是否为指定类型的错误
func (e *UserError) Is(target error) bool {
	if target == nil {
		return false
	}

	if userErr, ok := target.(*UserError); ok {
		return e.code == userErr.code
	}

	if e.cause != nil {
		return stdErrors.Is(e.cause, target)
	}

	return false
}

// WithCause 返回携带原因错误的副本
func (e *UserError) WithCause(cause error) *UserError {
	clone := e.clone()
	clone.cause = cause
	return clone
}

// WithCode 返回携带指定错误代码的副本
func (e *UserError) WithCode(code ErrorCode) *UserError {
	clone := e.clone()
	clone.code = code
	return clone
}

// WithDetail 返回追加一条属性的副本
func (e *UserError) WithDetail(key string, value any) *UserError {
	clone := e.clone()
	clone.details[key] = value
	return clone
}

// NoDialog 返回不弹窗展示的副本
func (e *UserError) NoDialog() *UserError {
	clone := e.clone()
	clone.noDialog = true
	return clone
}

func (e *UserError) clone() *UserError {
	return &UserError{
		message:  e.message,
		cause:    e.cause,
		code:     e.code,
		details:  copyMap(e.details),
		noDialog: e.noDialog,
	}
}

// IsUserError 检查是否为面向用户的错误
func IsUserError(err error) bool {
	_, ok := AsUserError(err)
	return ok
}

// AsUserError 提取错误链中的 UserError
func AsUserError(err error) (*UserError, bool) {
	if err == nil {
		return nil, false
	}

	var userErr *UserError
	if stdErrors.As(err, &userErr) {
		return userErr, true
	}

	return nil, false
}
