// Package persist 把状态流变成节流后的持久化写入。
//
// 处理器只认四条规则（按序判定）：暂停或状态与上次落盘相同则不动；
// 已有写入在飞行中则只记住最新状态；节流窗口已过或动作要求立即
// 落盘则马上写；否则按窗口剩余时间上弦定时器，攒一次尾边写入。
// 写入完成时若期间又有新状态，立即接着写（链式，而非排队多次）。
//
// 设计原则：
//  1. 单飞行写入：任何时刻至多一个 PersistDifference 在执行，
//     后到的状态只覆盖待写快照，绝不并发落盘。
//  2. 尾边不丢：窗口内的最后一个状态总会被定时器或链式完成写出。
//  3. 写入失败只记日志，不打断状态流；失败的快照被后续更新取代。
//  4. 生命周期由调用方掌控：Pause/Resume/PersistAndPause 对应
//     应用挂起、恢复与退到后台前的强制落盘。
//
// 使用示例：
//
//	p := persist.NewProcessor[AppState](persistor)
//	cancel := persist.Attach(st, p)
//	defer cancel()
//	...
//	st.DispatchAndWait(ctx, persist.FlushAction[AppState]())
package persist

import (
	"context"
	"sync"
	"time"

	"goredux/errors"
	"goredux/logging"
)

// DefaultThrottle 后端未指定时的节流窗口
const DefaultThrottle = 2 * time.Second

// IPersistor 持久化后端
//
// PersistDifference 收到上次落盘快照（首次为 nil）与新状态，
// 差异计算是后端自己的事；本包只保证调用时机与串行性。
type IPersistor[S any] interface {
	// ReadState 读取持久化的状态，不存在时 ok 为 false
	ReadState(ctx context.Context) (state S, ok bool, err error)

	// SaveInitialState 首次运行时写入初始状态
	SaveInitialState(ctx context.Context, state S) error

	// DeleteState 删除持久化的状态
	DeleteState(ctx context.Context) error

	// PersistDifference 落盘一次状态变更
	PersistDifference(ctx context.Context, last *S, next S) error

	// Throttle 返回节流窗口；非正值按 DefaultThrottle 处理
	Throttle() time.Duration
}

// Trigger 一次状态更新的触发描述
type Trigger struct {
	// Kind 触发动作的类型标签，仅用于日志
	Kind string

	// Force 要求绕过节流窗口立即落盘
	Force bool
}

// Processor 节流持久化处理器
//
// 所有方法并发安全。状态比较用恒等（S comparable），
// 与容器的替换判定保持同一口径。
type Processor[S comparable] struct {
	persistor IPersistor[S]
	logger    logging.Logger
	clock     func() time.Time

	mu            sync.Mutex
	paused        bool
	inFlight      bool
	lastStart     time.Time
	lastPersisted S
	hasPersisted  bool
	pendingState  S
	hasPending    bool
	timer         *time.Timer
	timerGen      int64
	idleCh        chan struct{}
}

// ProcessorOption 处理器配置项
type ProcessorOption[S comparable] func(*Processor[S])

// WithLogger 注入日志器
func WithLogger[S comparable](logger logging.Logger) ProcessorOption[S] {
	return func(p *Processor[S]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock 注入时间源（测试用）
func WithClock[S comparable](clock func() time.Time) ProcessorOption[S] {
	return func(p *Processor[S]) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewProcessor 创建持久化处理器
func NewProcessor[S comparable](persistor IPersistor[S], opts ...ProcessorOption[S]) *Processor[S] {
	if persistor == nil {
		panic("persist: 需要持久化后端")
	}

	p := &Processor[S]{
		persistor: persistor,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.ComponentLogger("persist")
	}
	return p
}

func (p *Processor[S]) throttle() time.Duration {
	if d := p.persistor.Throttle(); d > 0 {
		return d
	}
	return DefaultThrottle
}

// Process 处理一次状态更新，返回是否立即开始了落盘
//
// 规则按序判定：暂停或与上次落盘相同 → 不动；已在飞行 → 记住最新
// 状态等链式接力；窗口已过或 Force → 立即落盘；否则上弦尾边定时器。
func (p *Processor[S]) Process(trigger Trigger, newState S) bool {
	p.mu.Lock()

	if p.paused || (p.hasPersisted && newState == p.lastPersisted) {
		p.mu.Unlock()
		return false
	}

	if p.inFlight {
		p.pendingState = newState
		p.hasPending = true
		p.mu.Unlock()
		return false
	}

	now := p.clock()
	window := p.throttle()
	if trigger.Force || now.Sub(p.lastStart) >= window {
		p.hasPending = false
		p.inFlight = true
		p.lastStart = now
		p.stopTimerLocked()
		p.mu.Unlock()

		go p.run(newState)
		return true
	}

	p.pendingState = newState
	p.hasPending = true
	if p.timer == nil {
		p.armTimerLocked(window - now.Sub(p.lastStart))
	}
	p.mu.Unlock()
	return false
}

// armTimerLocked 上弦尾边定时器
//
// 代数随每次上弦与拆除递增；到点回调比对代数，
// 被换掉的旧定时器即使已经触发也不会误动新定时器的状态。
func (p *Processor[S]) armTimerLocked(remaining time.Duration) {
	p.timerGen++
	gen := p.timerGen
	p.timer = time.AfterFunc(remaining, func() { p.timerFire(gen) })
}

// timerFire 尾边定时器到点：待写快照仍然新鲜则开始落盘
func (p *Processor[S]) timerFire(gen int64) {
	p.mu.Lock()
	if gen != p.timerGen {
		p.mu.Unlock()
		return
	}
	p.timer = nil

	if p.paused || p.inFlight || !p.hasPending {
		p.mu.Unlock()
		return
	}
	next := p.pendingState
	p.hasPending = false
	if p.hasPersisted && next == p.lastPersisted {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.lastStart = p.clock()
	p.mu.Unlock()

	p.run(next)
}

// run 执行落盘，完成后在同一临界区内决定是否链式接力
//
// 链式判定与飞行标记清除在一个锁持有期内完成，调用方看到
// inFlight 为假时一定没有将要开始的写入。
func (p *Processor[S]) run(next S) {
	for {
		p.mu.Lock()
		var last *S
		if p.hasPersisted {
			snapshot := p.lastPersisted
			last = &snapshot
		}
		p.mu.Unlock()

		err := p.persistor.PersistDifference(context.Background(), last, next)

		p.mu.Lock()
		if err != nil {
			p.logger.Error(context.Background(), "持久化失败", logging.Error(err))
		} else {
			p.lastPersisted = next
			p.hasPersisted = true
		}

		if !p.paused && p.hasPending {
			candidate := p.pendingState
			p.hasPending = false
			if !p.hasPersisted || candidate != p.lastPersisted {
				next = candidate
				p.lastStart = p.clock()
				p.mu.Unlock()
				continue
			}
		}

		p.inFlight = false
		if p.idleCh != nil {
			close(p.idleCh)
			p.idleCh = nil
		}
		p.mu.Unlock()
		return
	}
}

// Pause 暂停处理；暂停期间的状态更新被忽略
func (p *Processor[S]) Pause() {
	p.mu.Lock()
	p.paused = true
	p.stopTimerLocked()
	p.mu.Unlock()
}

// Resume 恢复处理
//
// 暂停前攒下的尾边快照若仍然新鲜，会重新上弦或立即落盘，
// 不会因为一次暂停而丢掉。
func (p *Processor[S]) Resume() {
	p.mu.Lock()
	p.paused = false

	if !p.hasPending || p.inFlight || p.timer != nil {
		p.mu.Unlock()
		return
	}
	if p.hasPersisted && p.pendingState == p.lastPersisted {
		p.hasPending = false
		p.mu.Unlock()
		return
	}

	now := p.clock()
	window := p.throttle()
	if now.Sub(p.lastStart) >= window {
		next := p.pendingState
		p.hasPending = false
		p.inFlight = true
		p.lastStart = now
		p.mu.Unlock()

		go p.run(next)
		return
	}

	p.armTimerLocked(window - now.Sub(p.lastStart))
	p.mu.Unlock()
}

// PersistAndPause 先把未落盘的快照冲刷出去，再暂停
//
// 应用退到后台前调用。返回冲刷写入的错误；没有待写快照时
// 只是暂停。
func (p *Processor[S]) PersistAndPause(ctx context.Context) error {
	p.mu.Lock()
	p.paused = true
	p.stopTimerLocked()
	p.mu.Unlock()

	if err := p.WaitIdle(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	if !p.hasPending || (p.hasPersisted && p.pendingState == p.lastPersisted) {
		p.hasPending = false
		p.mu.Unlock()
		return nil
	}
	next := p.pendingState
	p.hasPending = false
	p.inFlight = true
	p.lastStart = p.clock()
	var last *S
	if p.hasPersisted {
		snapshot := p.lastPersisted
		last = &snapshot
	}
	p.mu.Unlock()

	err := p.persistor.PersistDifference(ctx, last, next)

	p.mu.Lock()
	if err == nil {
		p.lastPersisted = next
		p.hasPersisted = true
	}
	p.inFlight = false
	if p.idleCh != nil {
		close(p.idleCh)
		p.idleCh = nil
	}
	p.mu.Unlock()
	return errors.WrapPersistenceError(ctx, err, "暂停前冲刷")
}

// WaitIdle 等待飞行中的落盘完成（测试与停机用）
//
// 只等待已经开始的写入，不等待已上弦的尾边定时器；
// 停机时先 Pause 再 WaitIdle。
func (p *Processor[S]) WaitIdle(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.inFlight {
			p.mu.Unlock()
			return nil
		}
		if p.idleCh == nil {
			p.idleCh = make(chan struct{})
		}
		ch := p.idleCh
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LastPersisted 返回最近一次成功落盘的快照
func (p *Processor[S]) LastPersisted() (S, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPersisted, p.hasPersisted
}

// Paused 返回是否处于暂停状态
func (p *Processor[S]) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Processor[S]) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
		p.timerGen++
	}
}
