package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUserError_Basic 测试用户错误基本行为
func TestUserError_Basic(t *testing.T) {
	err := NewUserError("余额不足")

	assert.Equal(t, "余额不足", err.Message())
	assert.Equal(t, "余额不足", err.Error())
	assert.Equal(t, ErrCodeUserFacing, err.Code())
	assert.True(t, err.ShouldShowDialog(), "默认应弹窗展示")
	assert.Nil(t, err.Cause())
}

// TestUserError_WithCause 测试携带原因错误
func TestUserError_WithCause(t *testing.T) {
	cause := stdErrors.New("数据库超时")
	err := NewUserErrorWithCause("操作失败，请重试", cause)

	assert.Equal(t, cause, err.Cause())
	assert.Contains(t, err.Error(), "数据库超时")
	assert.True(t, stdErrors.Is(err, cause), "errors.Is 应能穿透到 cause")
}

// TestUserError_NoDialog 测试关闭弹窗标志
func TestUserError_NoDialog(t *testing.T) {
	original := NewUserError("已保存")
	silent := original.NoDialog()

	assert.False(t, silent.ShouldShowDialog())
	assert.True(t, original.ShouldShowDialog(), "原错误不应被修改")
	assert.Equal(t, original.Message(), silent.Message())
}

// TestUserError_WithDetail 测试附加属性
func TestUserError_WithDetail(t *testing.T) {
	err := NewUserError("转账失败").
		WithDetail("account", "a-1").
		WithDetail("amount", 42)

	assert.Equal(t, "a-1", err.Details()["account"])
	assert.Equal(t, 42, err.Details()["amount"])

	// 副本语义：继续追加不影响已有错误
	more := err.WithDetail("retry", true)
	assert.NotContains(t, err.Details(), "retry")
	assert.Contains(t, more.Details(), "retry")
}

// TestAsUserError 测试从错误链提取
func TestAsUserError(t *testing.T) {
	userErr := NewUserError("无网络连接").WithCode(ErrCodeNoConnectivity)
	wrapped := fmt.Errorf("调度失败: %w", userErr)

	extracted, ok := AsUserError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "无网络连接", extracted.Message())
	assert.Equal(t, ErrCodeNoConnectivity, extracted.Code())

	assert.True(t, IsUserError(wrapped))
	assert.False(t, IsUserError(stdErrors.New("普通错误")))
	assert.False(t, IsUserError(nil))
}

// TestUserError_CodeRecognition 测试错误码识别对 UserError 生效
func TestUserError_CodeRecognition(t *testing.T) {
	err := NewUserError("无网络连接").WithCode(ErrCodeNoConnectivity)

	assert.True(t, IsNoConnectivity(err))
	assert.Equal(t, ErrCodeNoConnectivity, GetErrorCode(err))
}
