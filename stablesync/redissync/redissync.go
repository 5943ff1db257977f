// Package redissync 用 Redis 承载 stablesync：INCR 签发修订号，
// SET 存权威值，PUBLISH 广播推送；监听端 PSUBSCRIBE 推送频道并
// 转成 ServerPush 动作。修订号由 Redis 统一签发，天然单调。
package redissync

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"goredux/errors"
	"goredux/logging"
	"goredux/retry"
	"goredux/stablesync"
)

// client 只声明用到的 go-redis 命令子集（便于测试替身）
type client interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
	Close() error
}

// Config Redis 同步配置
type Config struct {
	// Client 注入已有客户端；不注入时按 Addr 自行建连并在 Close 时关闭
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix 修订号、权威值与推送频道的键前缀，默认 "sync:"
	KeyPrefix string

	// Name 日志里的实例标识，默认 uuid 后缀
	Name string

	// MinRetryBackoff 推送订阅断开后的最小重订退避，默认 100ms
	MinRetryBackoff time.Duration

	// MaxRetryBackoff 最大重订退避，默认 5s
	MaxRetryBackoff time.Duration

	Logger logging.Logger
}

func (cfg *Config) withDefaults() {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sync:"
	}
	if cfg.Name == "" {
		cfg.Name = "sync-" + uuid.NewString()
	}
	if cfg.MinRetryBackoff <= 0 {
		cfg.MinRetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("redissync")
	}
}

func (cfg *Config) revKey(key string) string {
	return cfg.KeyPrefix + "rev:" + key
}

func (cfg *Config) valKey(key string) string {
	return cfg.KeyPrefix + "val:" + key
}

func (cfg *Config) pushChannel(key string) string {
	return cfg.KeyPrefix + "push:" + key
}

func (cfg *Config) pushPattern() string {
	return cfg.KeyPrefix + "push:*"
}

func dial(cfg *Config) (client, bool) {
	if cfg.Client != nil {
		return cfg.Client, false
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), true
}

// Client stablesync 发送端
//
// Send 满足 stablesync.Config.Send。一次发送做三步：
// INCR 拿到新修订号，SET 写权威值，PUBLISH 广播推送。
// 推送会回流到本实例的监听端，由协调器按修订号忽略。
type Client[V comparable] struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger
}

// NewClient 创建发送端，必要时建连
func NewClient[V comparable](cfg Config) *Client[V] {
	cfg.withDefaults()
	cl, own := dial(&cfg)
	return newClient[V](cfg, cl, own)
}

func newClient[V comparable](cfg Config, cl client, own bool) *Client[V] {
	return &Client[V]{cfg: cfg, client: cl, ownClient: own, logger: cfg.Logger}
}

// Send 写入一次同步值并广播推送
func (c *Client[V]) Send(ctx context.Context, out stablesync.Outgoing[V]) (stablesync.Reply[V], error) {
	var zero stablesync.Reply[V]

	value, err := json.Marshal(out.Value)
	if err != nil {
		return zero, errors.WrapError(err, errors.ErrCodeTransport, "编码同步值失败")
	}

	rev, err := c.client.Incr(ctx, c.cfg.revKey(out.Key)).Result()
	if err != nil {
		return zero, errors.Wrap(ctx, err, errors.ErrCodeTransport, "签发修订号失败")
	}
	if err := c.client.Set(ctx, c.cfg.valKey(out.Key), value, 0).Err(); err != nil {
		return zero, errors.Wrap(ctx, err, errors.ErrCodeTransport, "写入权威值失败")
	}

	payload, err := json.Marshal(wirePush{Key: out.Key, Value: value, ServerRev: rev})
	if err != nil {
		return zero, errors.WrapError(err, errors.ErrCodeTransport, "编码推送失败")
	}
	if err := c.client.Publish(ctx, c.cfg.pushChannel(out.Key), payload).Err(); err != nil {
		return zero, errors.Wrap(ctx, err, errors.ErrCodeTransport, "广播推送失败")
	}

	return stablesync.Reply[V]{Value: out.Value, HasValue: true, ServerRev: rev}, nil
}

// Fetch 读取键的权威值与修订号，用于启动时预热
//
// 键从未写入过时 ok 为 false。
func (c *Client[V]) Fetch(ctx context.Context, key string) (v V, rev int64, ok bool, err error) {
	revStr, err := c.client.Get(ctx, c.cfg.revKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return v, 0, false, nil
		}
		return v, 0, false, errors.Wrap(ctx, err, errors.ErrCodeTransport, "读取修订号失败")
	}
	rev, err = strconv.ParseInt(revStr, 10, 64)
	if err != nil {
		return v, 0, false, errors.WrapError(err, errors.ErrCodeTransport, "修订号格式错误")
	}

	data, err := c.client.Get(ctx, c.cfg.valKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return v, 0, false, nil
		}
		return v, 0, false, errors.Wrap(ctx, err, errors.ErrCodeTransport, "读取权威值失败")
	}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, 0, false, errors.WrapError(err, errors.ErrCodeTransport, "解码权威值失败")
	}
	return v, rev, true, nil
}

// Close 关闭自行建立的连接；注入的客户端归调用方管
func (c *Client[V]) Close() error {
	if c.ownClient {
		return c.client.Close()
	}
	return nil
}

// Listener 服务器推送监听者
//
// 订阅推送频道，把每条推送调度为协调器的 ServerPush 动作。
// 订阅断开时按指数退避重订。
type Listener[S comparable, V comparable] struct {
	cfg       Config
	coord     *stablesync.Coordinator[S, V]
	client    client
	ownClient bool
	logger    logging.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewListener 创建推送监听者，必要时建连
func NewListener[S comparable, V comparable](coord *stablesync.Coordinator[S, V], cfg Config) *Listener[S, V] {
	cfg.withDefaults()
	cl, own := dial(&cfg)
	return newListener(coord, cfg, cl, own)
}

func newListener[S comparable, V comparable](coord *stablesync.Coordinator[S, V], cfg Config, cl client, own bool) *Listener[S, V] {
	return &Listener[S, V]{cfg: cfg, coord: coord, client: cl, ownClient: own, logger: cfg.Logger}
}

// Start 启动后台订阅
func (l *Listener[S, V]) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New(errors.ErrCodeTransport, "推送监听已在运行")
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	l.wg.Add(1)
	go l.listenLoop()

	l.logger.Info(ctx, "推送监听已启动",
		logging.String("name", l.cfg.Name),
		logging.String("pattern", l.cfg.pushPattern()))
	return nil
}

// Close 停止订阅并关闭自行建立的连接
func (l *Listener[S, V]) Close() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		if l.ownClient {
			return l.client.Close()
		}
		return nil
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	if l.ownClient {
		return l.client.Close()
	}
	return nil
}

func (l *Listener[S, V]) listenLoop() {
	defer l.wg.Done()

	backoff := retry.Config{
		InitialDelay: l.cfg.MinRetryBackoff,
		Multiplier:   2,
		MaxDelay:     l.cfg.MaxRetryBackoff,
	}

	attempt := 0
	for {
		sub := l.client.PSubscribe(l.ctx, l.cfg.pushPattern())
		ch := sub.Channel()

	recv:
		for {
			select {
			case <-l.ctx.Done():
				_ = sub.Close()
				return
			case msg, open := <-ch:
				if !open {
					break recv
				}
				attempt = 0
				l.handlePayload(msg.Payload)
			}
		}

		_ = sub.Close()
		attempt++
		delay := retry.Backoff(backoff, attempt)
		l.logger.Warn(l.ctx, "推送订阅断开，退避后重订",
			logging.String("name", l.cfg.Name),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay))
		if err := retry.Sleep(l.ctx, delay); err != nil {
			return
		}
	}
}

func (l *Listener[S, V]) handlePayload(payload string) {
	var wire wirePush
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		l.logger.Warn(context.Background(), "解码推送失败", logging.Error(err))
		return
	}
	var v V
	if err := json.Unmarshal(wire.Value, &v); err != nil {
		l.logger.Warn(context.Background(), "解码推送值失败",
			logging.String("key", wire.Key),
			logging.Error(err))
		return
	}

	// 同步投递：监听循环按消息顺序逐条执行，
	// 同一监听器投递的推送不会重叠
	status := l.coord.Store().DispatchAndWait(context.Background(), l.coord.Push(wire.Key, v, wire.ServerRev))
	if err := status.Err(); err != nil {
		l.logger.Warn(context.Background(), "推送动作调度失败",
			logging.String("key", wire.Key),
			logging.Int64("server_rev", wire.ServerRev),
			logging.Error(err))
	}
}

// 线格式：键值 JSON 编码
type wirePush struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	ServerRev int64           `json:"server_rev"`
}
