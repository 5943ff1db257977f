// Package natssync 用 NATS 请求/应答承载 stablesync 的发送端，
// 并把订阅到的服务器推送转成 ServerPush 动作。
//
// 主题约定：请求发到 <前缀>set.<键>，推送订阅 <前缀>push.>。
package natssync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"goredux/errors"
	"goredux/logging"
	"goredux/stablesync"
)

// Config NATS 同步配置
type Config struct {
	URL            string
	SubjectPrefix  string        // 默认 "sync."
	RequestTimeout time.Duration // 默认 5s，ctx 没带截止时间时兜底
	Name           string        // 监听者名称，用于日志，默认 uuid 后缀
	Logger         logging.Logger

	// Conn 注入已有连接；不注入时自行拨号并在 Close 时关闭
	Conn *nats.Conn
}

func (cfg *Config) withDefaults() {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "sync."
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "sync-" + uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("natssync")
	}
}

func connect(cfg *Config) (*nats.Conn, bool, error) {
	if cfg.Conn != nil {
		return cfg.Conn, false, nil
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Name))
	if err != nil {
		return nil, false, errors.WrapError(err, errors.ErrCodeTransport, "连接 NATS 失败")
	}
	return conn, true, nil
}

// Client stablesync 发送端
//
// Send 满足 stablesync.Config.Send，可直接填入协调器配置。
type Client[V comparable] struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	ownsConn bool
}

// NewClient 创建发送端，必要时拨号
func NewClient[V comparable](cfg Config) (*Client[V], error) {
	cfg.withDefaults()
	conn, owns, err := connect(&cfg)
	if err != nil {
		return nil, err
	}
	return &Client[V]{cfg: cfg, logger: cfg.Logger, conn: conn, ownsConn: owns}, nil
}

// Send 把一次同步写入发给服务器并解出应答
func (c *Client[V]) Send(ctx context.Context, out stablesync.Outgoing[V]) (stablesync.Reply[V], error) {
	var zero stablesync.Reply[V]

	payload, err := encodeRequest(out)
	if err != nil {
		return zero, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, c.cfg.SubjectPrefix+"set."+out.Key, payload)
	if err != nil {
		return zero, errors.Wrap(ctx, err, errors.ErrCodeTransport, "同步请求失败")
	}
	return decodeReply[V](msg.Data)
}

// Close 关闭自行拨号的连接；注入的连接归调用方管
func (c *Client[V]) Close() error {
	if c.ownsConn && c.conn != nil {
		c.conn.Close()
	}
	return nil
}

// Listener 服务器推送监听者
//
// 订阅推送主题，把每条推送调度为协调器的 ServerPush 动作。
// 修订号仲裁在协调器内完成，这里只做解码与投递。
type Listener[S comparable, V comparable] struct {
	cfg    Config
	coord  *stablesync.Coordinator[S, V]
	logger logging.Logger

	mu       sync.Mutex
	conn     *nats.Conn
	ownsConn bool
	sub      *nats.Subscription
	running  bool
}

// NewListener 创建推送监听者
func NewListener[S comparable, V comparable](coord *stablesync.Coordinator[S, V], cfg Config) *Listener[S, V] {
	cfg.withDefaults()
	return &Listener[S, V]{cfg: cfg, coord: coord, logger: cfg.Logger}
}

// Start 建立连接并订阅推送主题
func (l *Listener[S, V]) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New(errors.ErrCodeTransport, "推送监听已在运行")
	}

	conn, owns, err := connect(&l.cfg)
	if err != nil {
		return err
	}
	l.conn = conn
	l.ownsConn = owns

	sub, err := conn.Subscribe(l.cfg.SubjectPrefix+"push.>", l.handlePush)
	if err != nil {
		if l.ownsConn {
			conn.Close()
			l.conn = nil
		}
		return errors.Wrap(ctx, err, errors.ErrCodeTransport, "订阅推送主题失败")
	}
	l.sub = sub
	l.running = true
	l.logger.Info(ctx, "推送监听已启动",
		logging.String("name", l.cfg.Name),
		logging.String("subject", l.cfg.SubjectPrefix+"push.>"))
	return nil
}

// Close 退订并关闭自行拨号的连接
func (l *Listener[S, V]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub != nil {
		_ = l.sub.Drain()
		l.sub = nil
	}
	if l.ownsConn && l.conn != nil {
		l.conn.Close()
	}
	l.conn = nil
	l.running = false
	return nil
}

func (l *Listener[S, V]) handlePush(msg *nats.Msg) {
	key, v, serverRev, err := decodePush[V](msg.Data)
	if err != nil {
		l.logger.Warn(context.Background(), "解码推送失败",
			logging.String("subject", msg.Subject),
			logging.Error(err))
		return
	}
	l.dispatchPush(key, v, serverRev)
}

// dispatchPush 同步投递一条推送
//
// 等待调度完成再返回：订阅回调按消息顺序逐条执行，
// 同一监听器投递的推送不会重叠。
func (l *Listener[S, V]) dispatchPush(key string, v V, serverRev int64) {
	status := l.coord.Store().DispatchAndWait(context.Background(), l.coord.Push(key, v, serverRev))
	if err := status.Err(); err != nil {
		l.logger.Warn(context.Background(), "推送动作调度失败",
			logging.String("key", key),
			logging.Int64("server_rev", serverRev),
			logging.Error(err))
	}
}

// 线格式：键值 JSON 编码，修订号零值省略

type wireRequest struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	LocalRev  int64           `json:"local_rev,omitempty"`
	ServerRev int64           `json:"server_rev,omitempty"`
}

type wireReply struct {
	Value     json.RawMessage `json:"value,omitempty"`
	HasValue  bool            `json:"has_value"`
	ServerRev int64           `json:"server_rev,omitempty"`
}

type wirePush struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	ServerRev int64           `json:"server_rev"`
}

func encodeRequest[V comparable](out stablesync.Outgoing[V]) ([]byte, error) {
	value, err := json.Marshal(out.Value)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeTransport, "编码同步值失败")
	}
	return json.Marshal(wireRequest{
		Key:       out.Key,
		Value:     value,
		LocalRev:  out.LocalRev,
		ServerRev: out.ServerRev,
	})
}

func decodeReply[V comparable](data []byte) (stablesync.Reply[V], error) {
	var zero stablesync.Reply[V]
	var wire wireReply
	if err := json.Unmarshal(data, &wire); err != nil {
		return zero, errors.WrapError(err, errors.ErrCodeTransport, "解码同步应答失败")
	}

	rep := stablesync.Reply[V]{HasValue: wire.HasValue, ServerRev: wire.ServerRev}
	if wire.HasValue {
		if err := json.Unmarshal(wire.Value, &rep.Value); err != nil {
			return zero, errors.WrapError(err, errors.ErrCodeTransport, "解码同步应答值失败")
		}
	}
	return rep, nil
}

func encodePush[V comparable](key string, v V, serverRev int64) ([]byte, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeTransport, "编码推送值失败")
	}
	return json.Marshal(wirePush{Key: key, Value: value, ServerRev: serverRev})
}

func decodePush[V comparable](data []byte) (key string, v V, serverRev int64, err error) {
	var wire wirePush
	if err = json.Unmarshal(data, &wire); err != nil {
		err = errors.WrapError(err, errors.ErrCodeTransport, "解码推送失败")
		return
	}
	if err = json.Unmarshal(wire.Value, &v); err != nil {
		err = errors.WrapError(err, errors.ErrCodeTransport, "解码推送值失败")
		return
	}
	return wire.Key, v, wire.ServerRev, nil
}
