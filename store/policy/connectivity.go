package policy

import (
	"context"
	"time"

	"goredux/connectivity"
	"goredux/errors"
	"goredux/logging"
	"goredux/retry"
	"goredux/store"
)

// CheckInternetConfig 联网检查配置
type CheckInternetConfig struct {
	// Checker 连通性探测器，必填
	Checker connectivity.IChecker

	// NoDialog 为真时生成的用户错误不要求弹窗展示
	NoDialog bool

	// Message 离线时的用户错误文案，默认"没有网络连接"
	Message string
}

// CheckInternet 联网检查策略
//
// before 阶段探测连通性，离线时以用户错误结束本次调度
// （归约不执行，错误进入用户错误队列供界面展示）。
// 探测本身出错按离线处理。占用连通性槽位。
type CheckInternet[S comparable] struct {
	base[S]
	cfg CheckInternetConfig
}

func NewCheckInternet[S comparable](inner store.IAction[S], cfg CheckInternetConfig) *CheckInternet[S] {
	if cfg.Checker == nil {
		panic("policy: CheckInternet 需要连通性探测器")
	}
	if cfg.Message == "" {
		cfg.Message = "没有网络连接"
	}
	p := &CheckInternet[S]{base: base[S]{inner: inner}, cfg: cfg}
	store.MustValidateChain[S](p)
	return p
}

func (p *CheckInternet[S]) Slots() []store.Slot {
	return []store.Slot{store.SlotConnectivity}
}

func (p *CheckInternet[S]) Asynchronous() {}

func (p *CheckInternet[S]) Before(ctx context.Context) error {
	if online(ctx, p.cfg.Checker) {
		return nil
	}
	userErr := errors.NewUserError(p.cfg.Message).WithCode(errors.ErrCodeNoConnectivity)
	if p.cfg.NoDialog {
		userErr = userErr.NoDialog()
	}
	return userErr
}

// AbortWhenNoInternetConfig 离线静默中止配置
type AbortWhenNoInternetConfig struct {
	// Checker 连通性探测器，必填
	Checker connectivity.IChecker
}

// AbortWhenNoInternet 离线静默中止策略
//
// 与 CheckInternet 相同的探测，但离线时抛出静默中止信号，
// 动作如同从未被调度过，不产生任何可见错误。占用连通性槽位。
type AbortWhenNoInternet[S comparable] struct {
	base[S]
	cfg AbortWhenNoInternetConfig
}

func NewAbortWhenNoInternet[S comparable](inner store.IAction[S], cfg AbortWhenNoInternetConfig) *AbortWhenNoInternet[S] {
	if cfg.Checker == nil {
		panic("policy: AbortWhenNoInternet 需要连通性探测器")
	}
	p := &AbortWhenNoInternet[S]{base: base[S]{inner: inner}, cfg: cfg}
	store.MustValidateChain[S](p)
	return p
}

func (p *AbortWhenNoInternet[S]) Slots() []store.Slot {
	return []store.Slot{store.SlotConnectivity}
}

func (p *AbortWhenNoInternet[S]) Asynchronous() {}

func (p *AbortWhenNoInternet[S]) Before(ctx context.Context) error {
	if online(ctx, p.cfg.Checker) {
		return nil
	}
	return errors.ErrAborted
}

// UnlimitedRetryCheckInternetConfig 断网感知无限重试配置
type UnlimitedRetryCheckInternetConfig struct {
	// Checker 连通性探测器，必填
	Checker connectivity.IChecker

	// InitialDelay 首次退避，默认 350ms
	InitialDelay time.Duration

	// Multiplier 退避倍率，默认 2，小于 1 时强制为 2
	Multiplier float64

	// MaxDelay 一般失败的退避上限，默认 5s
	MaxDelay time.Duration

	// MaxDelayNoInternet 断网失败的退避上限，默认 1s
	// （断网时更频繁地探测，网络恢复后尽快完成）
	MaxDelayNoInternet time.Duration

	// Key 防重入键；为空时取内层动作的 Kind
	Key string
}

// DefaultUnlimitedRetryCheckInternetConfig 返回默认配置
func DefaultUnlimitedRetryCheckInternetConfig() UnlimitedRetryCheckInternetConfig {
	return UnlimitedRetryCheckInternetConfig{
		InitialDelay:       350 * time.Millisecond,
		Multiplier:         2,
		MaxDelay:           5 * time.Second,
		MaxDelayNoInternet: time.Second,
	}
}

// UnlimitedRetryCheckInternet 断网感知无限重试策略
//
// 特性:
// - 防重入闸门：同键动作已在飞行中时静默中止新调度
// - 归约失败后无限重试，断网导致的失败用更短的退避上限
//   （MaxDelayNoInternet），其他失败用 MaxDelay
// - 每次重试记一条日志，标明失败原因类别与本次退避
// - 无重试上限，等待可能仅由上下文取消终止
//
// 同时占用闸门、连通性、重试三个槽位。
type UnlimitedRetryCheckInternet[S comparable] struct {
	base[S]
	cfg UnlimitedRetryCheckInternetConfig
}

func NewUnlimitedRetryCheckInternet[S comparable](inner store.IAction[S], cfg UnlimitedRetryCheckInternetConfig) *UnlimitedRetryCheckInternet[S] {
	if cfg.Checker == nil {
		panic("policy: UnlimitedRetryCheckInternet 需要连通性探测器")
	}
	defaults := DefaultUnlimitedRetryCheckInternetConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.MaxDelayNoInternet <= 0 {
		cfg.MaxDelayNoInternet = defaults.MaxDelayNoInternet
	}
	p := &UnlimitedRetryCheckInternet[S]{base: base[S]{inner: inner}, cfg: cfg}
	store.MustValidateChain[S](p)
	return p
}

func (p *UnlimitedRetryCheckInternet[S]) Slots() []store.Slot {
	return []store.Slot{store.SlotGate, store.SlotConnectivity, store.SlotRetry}
}

func (p *UnlimitedRetryCheckInternet[S]) Asynchronous() {}

func (p *UnlimitedRetryCheckInternet[S]) AbortDispatch(ctx context.Context) bool {
	return p.st.IsWaiting(p.keyOr(p.cfg.Key))
}

func (p *UnlimitedRetryCheckInternet[S]) WrapReduce(ctx context.Context, next store.Reducer[S]) (S, bool, error) {
	for attempt := 1; ; attempt++ {
		s, apply, err := next(ctx)
		if err == nil {
			return s, apply, nil
		}

		cause := "error"
		maxDelay := p.cfg.MaxDelay
		if !online(ctx, p.cfg.Checker) {
			cause = "no_internet"
			maxDelay = p.cfg.MaxDelayNoInternet
		}

		delay := retry.Backoff(retry.Config{
			InitialDelay: p.cfg.InitialDelay,
			Multiplier:   p.cfg.Multiplier,
			MaxDelay:     maxDelay,
		}, attempt)

		p.st.Logger().Info(ctx, "归约失败，无限重试中",
			logging.String("action", p.Kind()),
			logging.String("cause", cause),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))

		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			var zero S
			return zero, false, sleepErr
		}
	}
}

// online 探测连通性，探测失败按离线处理
func online(ctx context.Context, checker connectivity.IChecker) bool {
	ok, err := checker.Online(ctx)
	return err == nil && ok
}
