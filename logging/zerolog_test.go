package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// TestZerologLogger_Output 测试 zerolog 适配器输出
func TestZerologLogger_Output(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Info(context.Background(), "state replaced",
		String("action", "increment"),
		Int("dispatch_count", 3),
		Bool("changed", true),
		Duration("elapsed", 5*time.Millisecond),
	)

	output := buf.String()
	assert.Contains(t, output, `"message":"state replaced"`)
	assert.Contains(t, output, `"action":"increment"`)
	assert.Contains(t, output, `"dispatch_count":3`)
	assert.Contains(t, output, `"changed":true`)
}

// TestZerologLogger_ErrorField 测试错误字段
func TestZerologLogger_ErrorField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Error(context.Background(), "dispatch failed", Error(errors.New("boom")))

	assert.Contains(t, buf.String(), `"error":"boom"`)
}

// TestZerologLogger_WithFields 测试派生Logger
func TestZerologLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewZerologLogger(zerolog.New(&buf))
	derived := base.WithFields(String("component", "persist"))

	derived.Warn(context.Background(), "persist slow")

	assert.Contains(t, buf.String(), `"component":"persist"`)

	// 原Logger不受影响
	buf.Reset()
	base.Warn(context.Background(), "plain")
	assert.NotContains(t, buf.String(), "component")
}

// TestZerologLogger_LevelFilter 测试级别过滤
func TestZerologLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug(context.Background(), "invisible")
	logger.Info(context.Background(), "invisible")
	assert.Empty(t, buf.String())

	logger.Warn(context.Background(), "visible")
	assert.Contains(t, buf.String(), "visible")
}

// TestToZerologLevel 测试级别映射
func TestToZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, toZerologLevel(DebugLevel))
	assert.Equal(t, zerolog.InfoLevel, toZerologLevel(InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, toZerologLevel(WarnLevel))
	assert.Equal(t, zerolog.ErrorLevel, toZerologLevel(ErrorLevel))
	assert.Equal(t, zerolog.InfoLevel, toZerologLevel(Level(99)))
}
