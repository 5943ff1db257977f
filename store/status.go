package store

import "time"

// Status 一次调度的终态记录
//
// 不可变快照：管线结束后由 Pending 对外提供。
// Aborted 包含两种情形：准入闸门拒绝，以及 before/reduce 抛出中止信号。
type Status struct {
	// DispatchID 本次调度的唯一标识
	DispatchID string

	// Kind 动作类型标签
	Kind string

	// Completed 管线是否已走完
	Completed bool

	// Aborted 是否被中止（闸门拒绝或中止信号）
	Aborted bool

	// BeforeDone before 阶段是否完整执行
	BeforeDone bool

	// ReduceDone reduce 阶段是否无错完成
	ReduceDone bool

	// AfterDone after 阶段是否已执行
	AfterDone bool

	// StateChanged 本次调度是否实际替换了状态
	StateChanged bool

	// OriginalError 钩子抛出的原始阶段错误（中止信号除外）
	OriginalError error

	// WrappedError 包装后向调用方传播的错误；
	// 错误被吞掉或作为用户错误入队时为 nil
	WrappedError error

	// UserErrorQueued 错误是否已作为用户错误进入容器队列
	UserErrorQueued bool

	// StartedAt / FinishedAt 调度起止时间
	StartedAt  time.Time
	FinishedAt time.Time
}

// IsCompleted 调度是否已结束（含中止）
func (s Status) IsCompleted() bool {
	return s.Completed
}

// IsCompletedOK 调度是否成功结束（未中止且无任何错误）
func (s Status) IsCompletedOK() bool {
	return s.Completed && !s.Aborted && s.OriginalError == nil
}

// IsCompletedFailed 调度是否发生过错误（含已吞掉与入队的）
func (s Status) IsCompletedFailed() bool {
	return s.Completed && s.OriginalError != nil
}

// Err 向调用方传播的错误
//
// 用户错误入队与被吞掉的错误不在此返回；中止不算错误。
func (s Status) Err() error {
	return s.WrappedError
}

// Elapsed 调度耗时
func (s Status) Elapsed() time.Duration {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
