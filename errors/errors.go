package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误代码
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeTimeout  ErrorCode = "TIMEOUT"

	// 调度错误代码
	ErrCodeAborted        ErrorCode = "DISPATCH_ABORTED"
	ErrCodeUserFacing     ErrorCode = "USER_FACING"
	ErrCodeActionNotSync  ErrorCode = "ACTION_NOT_SYNC"
	ErrCodeActionReused   ErrorCode = "ACTION_REUSED"
	ErrCodeStoreClosed    ErrorCode = "STORE_CLOSED"
	ErrCodePolicyConflict ErrorCode = "POLICY_CONFLICT"
	ErrCodeReducePanic    ErrorCode = "REDUCE_PANIC"

	// 策略 / 同步错误代码
	ErrCodeNoConnectivity ErrorCode = "NO_CONNECTIVITY"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeFollowUpLimit  ErrorCode = "SYNC_FOLLOW_UP_LIMIT"
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"

	// 基础设施错误代码
	ErrCodePersistence ErrorCode = "PERSISTENCE_ERROR"
	ErrCodeTransport   ErrorCode = "TRANSPORT_ERROR"
)

// IError 错误接口
type IError interface {
	error

	// 获取错误代码
	Code() ErrorCode

	// 获取错误消息
	Message() string

	// 获取原始错误
	Cause() error

	// 获取错误详情
	Details() map[string]any

	// 获取堆栈信息
	Stack() string

	// 是否为指定类型的错误
	Is(target error) bool

	// 包装错误
	Wrap(msg string) IError

	// 添加详情
	WithDetails(details map[string]any) IError

	// 添加上下文
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{
		code:    code,
		message: message,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// NewErrorWithCause 创建带原因的错误
func NewErrorWithCause(code ErrorCode, message string, cause error) IError {
	return &AppError{
		code:    code,
		message: message,
		cause:   cause,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}

	return &AppError{
		code:    code,
		message: message,
		cause:   err,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Code 获取错误代码
func (e *AppError) Code() ErrorCode {
	return e.code
}

// Message 获取错误消息
func (e *AppError) Message() string {
	return e.message
}

// Cause 获取原始错误
func (e *AppError) Cause() error {
	return e.cause
}

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Stack 获取堆栈信息
func (e *AppError) Stack() string {
	return e.stack
}

// Is 检查是否为指定类型的错误
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}

	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}

	if e.cause != nil {
		return stdErrors.Is(e.cause, target)
	}

	return false
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *AppError) Unwrap() error {
	return e.cause
}

// Wrap 包装错误
func (e *AppError) Wrap(msg string) IError {
	return &AppError{
		code:    e.code,
		message: fmt.Sprintf("%s: %s", msg, e.message),
		cause:   e,
		details: copyMap(e.details),
		stack:   captureStack(),
	}
}

// WithDetails 添加详情
func (e *AppError) WithDetails(details map[string]any) IError {
	newDetails := copyMap(e.details)
	for k, v := range details {
		newDetails[k] = v
	}

	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: newDetails,
		stack:   e.stack,
	}
}

// WithContext 添加上下文
func (e *AppError) WithContext(key string, value any) IError {
	newDetails := copyMap(e.details)
	newDetails[key] = value

	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: newDetails,
		stack:   e.stack,
	}
}

// 预定义错误变量
//
// 其中 ErrAborted 是调度中止信号：before 钩子或 reduce 返回它（或包装它）时，
// 本次调度被静默标记为已中止，不进入错误处理流程。
var (
	ErrAborted        = NewError(ErrCodeAborted, "调度已中止")
	ErrActionNotSync  = NewError(ErrCodeActionNotSync, "动作包含异步策略，无法同步调度")
	ErrStoreClosed    = NewError(ErrCodeStoreClosed, "状态容器已关闭")
	ErrNotImplemented = NewError(ErrCodeNotImplemented, "未实现")
	ErrFollowUpLimit  = NewError(ErrCodeFollowUpLimit, "同步跟进请求次数超过上限")
	ErrNoConnectivity = NewError(ErrCodeNoConnectivity, "无网络连接")
)

// IsAborted 检查是否为调度中止信号
func IsAborted(err error) bool {
	return IsErrorCode(err, ErrCodeAborted)
}

// IsStoreClosed 检查是否为容器已关闭错误
func IsStoreClosed(err error) bool {
	return IsErrorCode(err, ErrCodeStoreClosed)
}

// IsNotImplemented 检查是否为未实现错误
func IsNotImplemented(err error) bool {
	return IsErrorCode(err, ErrCodeNotImplemented)
}

// IsNoConnectivity 检查是否为无网络错误
func IsNoConnectivity(err error) bool {
	return IsErrorCode(err, ErrCodeNoConnectivity)
}

// IsErrorCode 检查是否为指定错误代码
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code == code
	}

	var userErr *UserError
	if stdErrors.As(err, &userErr) {
		return userErr.code == code
	}

	return false
}

// Is 透传标准库 errors.Is，调用方无需再引一份标准库
func Is(err, target error) bool {
	return stdErrors.Is(err, target)
}

// As 透传标准库 errors.As
func As(err error, target any) bool {
	return stdErrors.As(err, target)
}

// GetErrorCode 获取错误代码
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}

	var userErr *UserError
	if stdErrors.As(err, &userErr) {
		return userErr.code
	}

	return ErrCodeInternal
}

// captureStack 捕获堆栈信息
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))

		if !more {
			break
		}
	}

	return builder.String()
}

// copyMap 复制映射
func copyMap(original map[string]any) map[string]any {
	if original == nil {
		return make(map[string]any)
	}

	copied := make(map[string]any, len(original))
	for k, v := range original {
		copied[k] = v
	}

	return copied
}
