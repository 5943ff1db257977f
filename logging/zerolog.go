package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger 基于 rs/zerolog 的Logger实现
//
// 适合需要结构化 JSON 日志或控制台彩色输出的场景；
// 库内部各组件仍通过 Logger 接口使用，不直接依赖 zerolog。
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger 包装一个已配置的 zerolog.Logger
func NewZerologLogger(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

// NewConsoleLogger 创建控制台输出的 zerolog Logger
func NewConsoleLogger(minLevel Level) *ZerologLogger {
	zl := zerolog.New(zerolog.NewConsoleWriter()).
		With().
		Timestamp().
		Logger().
		Level(toZerologLevel(minLevel))
	return &ZerologLogger{zl: zl}
}

func toZerologLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func applyFields(ev *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ev = ev.Str(f.Key, v)
		case int:
			ev = ev.Int(f.Key, v)
		case int64:
			ev = ev.Int64(f.Key, v)
		case uint64:
			ev = ev.Uint64(f.Key, v)
		case float64:
			ev = ev.Float64(f.Key, v)
		case bool:
			ev = ev.Bool(f.Key, v)
		case time.Duration:
			ev = ev.Dur(f.Key, v)
		case error:
			ev = ev.AnErr(f.Key, v)
		default:
			ev = ev.Interface(f.Key, v)
		}
	}
	return ev
}

func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	applyFields(l.zl.Debug().Ctx(ctx), fields).Msg(msg)
}

func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...Field) {
	applyFields(l.zl.Info().Ctx(ctx), fields).Msg(msg)
}

func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	applyFields(l.zl.Warn().Ctx(ctx), fields).Msg(msg)
}

func (l *ZerologLogger) Error(ctx context.Context, msg string, fields ...Field) {
	applyFields(l.zl.Error().Ctx(ctx), fields).Msg(msg)
}

func (l *ZerologLogger) WithFields(fields ...Field) Logger {
	zc := l.zl.With()
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			zc = zc.Str(f.Key, v)
		case int:
			zc = zc.Int(f.Key, v)
		case int64:
			zc = zc.Int64(f.Key, v)
		case uint64:
			zc = zc.Uint64(f.Key, v)
		case float64:
			zc = zc.Float64(f.Key, v)
		case bool:
			zc = zc.Bool(f.Key, v)
		case time.Duration:
			zc = zc.Dur(f.Key, v)
		case error:
			zc = zc.AnErr(f.Key, v)
		default:
			zc = zc.Interface(f.Key, v)
		}
	}
	return &ZerologLogger{zl: zc.Logger()}
}
