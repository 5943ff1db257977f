// Package stablesync 把同一键上的高频乐观写入合并为趋稳的服务器确认值。
//
// 设计原则：
// 1. 每键至多一个飞行中请求：后续写入只记录本地意图，由持有者的跟进请求带出
// 2. 乐观优先：新值无条件立即写入状态，网络确认在后台收敛
// 3. 推送模式下用修订号仲裁本地意图与服务器推送的先后（远端更新时本地意图作废）
// 4. 跟进次数有上限，防止本地与远端交替写入造成活锁
//
// 使用示例：
//
//	sync := stablesync.New(st, stablesync.Config[App, bool]{
//		ValueFrom: func(s App, key string) bool { return s.Flags[key] },
//		Apply: func(s App, key string, v bool) App {
//			s.Flags[key] = v
//			return s
//		},
//		Send: client.Send,
//		Push: true,
//	})
//	st.Dispatch(ctx, sync.Set("dark_mode", true))
package stablesync

import (
	"context"
	"sync"

	"goredux/errors"
	"goredux/logging"
	"goredux/store"
)

// DefaultMaxFollowUps 单次发送循环的默认跟进上限
const DefaultMaxFollowUps = 10000

// Outgoing 一次发往服务器的值
type Outgoing[V comparable] struct {
	Key   string
	Value V

	// LocalRev 本次携带的本地意图修订号（推送模式）
	LocalRev int64

	// ServerRev 发送时已知的最大服务器修订号（推送模式）
	ServerRev int64
}

// Reply 服务器应答
type Reply[V comparable] struct {
	// Value 服务器确认后的权威值，HasValue 为 true 时有效
	Value    V
	HasValue bool

	// ServerRev 应答告知的服务器修订号（推送模式）
	ServerRev int64
}

// Config 同步协调器配置
type Config[S comparable, V comparable] struct {
	// Name 键空间名称，用于动作 Kind 与日志，默认 "stablesync"
	Name string

	// ValueFrom 从状态中取出键对应的值，必填
	ValueFrom func(s S, key string) V

	// Apply 把键对应的值写回状态，必填
	Apply func(s S, key string, v V) S

	// Send 把值发给服务器，必填
	Send func(ctx context.Context, out Outgoing[V]) (Reply[V], error)

	// Push 推送模式：跟进判定改用修订号仲裁，配合 Coordinator.Push 使用
	Push bool

	// SkipPushWhileLocked 发送期间收到的服务器推送只记修订号、不改状态
	SkipPushWhileLocked bool

	// MaxFollowUps 单次发送循环的跟进上限，0 取 DefaultMaxFollowUps。
	// 超过上限按编程错误处理，返回硬错误而不是静默封顶
	MaxFollowUps int

	// OnFinish 发送循环结束回调，成功时 err 为 nil
	OnFinish func(key string, err error)

	// Logger 日志器，缺省用容器的
	Logger logging.Logger
}

// entry 单键的修订记录
type entry[V comparable] struct {
	localRev    int64 // 本地意图计数，只增
	intentValue V     // 最新记录的本地意图值
	intentBase  int64 // 最新意图创建时已知的服务器修订号
	serverRev   int64 // 已知最大服务器修订号，应答告知与推送都会推进
}

// Coordinator 稳定同步协调器
//
// 每个容器的每个键空间一个实例。修订记录由协调器自持，
// 发送权共用容器的同步键集合：同一键同时至多一个发送循环。
type Coordinator[S comparable, V comparable] struct {
	cfg Config[S, V]
	st  *store.Store[S]
	log logging.Logger

	mu      sync.Mutex
	entries map[string]*entry[V]

	// applyMu 串行化服务器值写回（应答确认与推送）：
	// 修订号判定与状态替换必须作为一个整体执行，否则并发到达的
	// 两条写回可能乱序落地，旧值反而后写进状态
	applyMu sync.Mutex
}

// New 创建同步协调器
func New[S comparable, V comparable](st *store.Store[S], cfg Config[S, V]) *Coordinator[S, V] {
	if cfg.ValueFrom == nil || cfg.Apply == nil || cfg.Send == nil {
		panic("stablesync: 需要 ValueFrom/Apply/Send 三个函数")
	}
	if cfg.Name == "" {
		cfg.Name = "stablesync"
	}
	if cfg.MaxFollowUps <= 0 {
		cfg.MaxFollowUps = DefaultMaxFollowUps
	}

	log := cfg.Logger
	if log == nil {
		log = st.Logger()
	}

	return &Coordinator[S, V]{
		cfg:     cfg,
		st:      st,
		log:     log,
		entries: make(map[string]*entry[V]),
	}
}

// Store 协调器挂接的状态容器
func (c *Coordinator[S, V]) Store() *store.Store[S] {
	return c.st
}

// ServerRevision 键已知的最大服务器修订号
func (c *Coordinator[S, V]) ServerRevision(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryLocked(key).serverRev
}

// KnownLocalRevision 键当前的本地意图修订号
func (c *Coordinator[S, V]) KnownLocalRevision(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryLocked(key).localRev
}

// Sending 键是否有发送循环在飞行
func (c *Coordinator[S, V]) Sending(key string) bool {
	return c.st.SyncLocks().Held(key)
}

func (c *Coordinator[S, V]) entryLocked(key string) *entry[V] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}
	return e
}

func (c *Coordinator[S, V]) kind(key, op string) string {
	return c.cfg.Name + "/" + key + "/" + op
}

// recordIntent 记录本地意图并尝试抢占发送权
//
// 记录与抢占在同一临界区内完成：在飞行的发送循环要么在结算时
// 看到这个意图（跟进带出），要么已经释放、由本次调度接手。
func (c *Coordinator[S, V]) recordIntent(key string, v V) (rev int64, acquired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	e.localRev++
	e.intentValue = v
	e.intentBase = e.serverRev
	return e.localRev, c.st.SyncLocks().TryAcquire(key)
}

// snapshot 快照本轮要发送的内容
//
// 推送模式发送最新记录的本地意图值（状态可能已被推送覆盖，不可靠）；
// 非推送模式发送状态中的当前值。
func (c *Coordinator[S, V]) snapshot(key string) Outgoing[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	if c.cfg.Push {
		return Outgoing[V]{
			Key:       key,
			Value:     e.intentValue,
			LocalRev:  e.localRev,
			ServerRev: e.serverRev,
		}
	}
	return Outgoing[V]{Key: key, Value: c.cfg.ValueFrom(c.st.State(), key)}
}

// recordReply 记下应答告知的服务器修订号
func (c *Coordinator[S, V]) recordReply(key string, rep Reply[V]) {
	if !c.cfg.Push {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	if rep.ServerRev > e.serverRev {
		e.serverRev = rep.ServerRev
	}
}

// applyReply 把服务器应答写回状态
//
// 只在结算判定无需跟进之后调用，此时发送权已释放。释放与写回
// 之间可能有新的写入或推送插队，所以守卫条件在子调度里重查：
// 推送模式要求应答告知的修订号仍是已知最新且发送后没有新的本地
// 意图；非推送模式要求状态值仍是发出的值。不满足时应答值作废，
// 由后续跟进或推送收敛。
func (c *Coordinator[S, V]) applyReply(ctx context.Context, out Outgoing[V], rep Reply[V]) {
	if !rep.HasValue {
		return
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	key := out.Key
	c.st.DispatchAndWait(ctx, store.Update(c.kind(key, "confirm"), func(ctx context.Context, s S) (S, bool, error) {
		if !c.replyRelevant(s, out, rep) {
			return s, false, nil
		}
		return c.cfg.Apply(s, key, rep.Value), true, nil
	}))
}

func (c *Coordinator[S, V]) replyRelevant(s S, out Outgoing[V], rep Reply[V]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(out.Key)
	if c.cfg.Push {
		return rep.ServerRev >= e.serverRev && e.localRev == out.LocalRev
	}
	return c.cfg.ValueFrom(s, out.Key) == out.Value
}

// revisionCurrent 修订号是否仍是已知最新
func (c *Coordinator[S, V]) revisionCurrent(key string, rev int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rev >= c.entryLocked(key).serverRev
}

// settle 结算一轮发送：决定是否需要跟进
//
// 判定发生在应答写回状态之前：非推送模式比较的是发出的值与
// 发送期间的状态值，服务器对确认值的改写不算本地新写入，
// 不触发跟进。不需要跟进时在同一临界区内释放发送权，保证
// 新意图的记录与这里的判定不会互相错过。
func (c *Coordinator[S, V]) settle(ctx context.Context, out Outgoing[V], rep Reply[V]) (followUp bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := out.Key
	e := c.entryLocked(key)

	if c.cfg.Push {
		if e.localRev > out.LocalRev {
			// 发送期间出现了更新的本地意图。若远端修订号已越过
			// 应答告知的修订号和意图创建时已知的修订号，远端胜出，
			// 本地意图作废，不再跟进
			if e.serverRev > rep.ServerRev && e.serverRev > e.intentBase {
				c.log.Debug(ctx, "远端已更新，本地意图作废",
					logging.String("key", key),
					logging.Int64("server_rev", e.serverRev),
					logging.Int64("intent_base", e.intentBase))
			} else {
				return true
			}
		}
	} else if c.cfg.ValueFrom(c.st.State(), key) != out.Value {
		return true
	}

	c.st.SyncLocks().Release(key)
	return false
}

// sendLoop 发送循环：发送、结算、必要时跟进，直到值趋稳
//
// 所有退出路径都会释放发送权。
func (c *Coordinator[S, V]) sendLoop(ctx context.Context, key string) error {
	for followUps := 0; ; followUps++ {
		if followUps > c.cfg.MaxFollowUps {
			c.st.SyncLocks().Release(key)
			c.log.Error(ctx, "同步跟进次数超过上限",
				logging.String("key", key),
				logging.Int("max_follow_ups", c.cfg.MaxFollowUps))
			return errors.ErrFollowUpLimit.WithContext("key", key)
		}

		out := c.snapshot(key)
		rep, err := c.cfg.Send(ctx, out)
		if err != nil {
			c.st.SyncLocks().Release(key)
			return err
		}

		c.recordReply(key, rep)

		// 先结算再写回：跟进与否由发出的快照对照发送期间的变化决定，
		// 应答值只在无需跟进时落地
		if !c.settle(ctx, out, rep) {
			c.applyReply(ctx, out, rep)
			return nil
		}
		c.log.Debug(ctx, "发送期间值已更新，继续跟进",
			logging.String("key", key),
			logging.Int("follow_up", followUps+1))
	}
}

func (c *Coordinator[S, V]) finish(key string, err error) {
	if c.cfg.OnFinish != nil {
		c.cfg.OnFinish(key, err)
	}
}
