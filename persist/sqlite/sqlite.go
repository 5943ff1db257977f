// Package sqlite 基于 SQLite 的持久化后端。
//
// 整个状态以 JSON 快照存进单行表 goredux_state；
// 差异计算不落库，后端收到什么写什么。纯 Go 驱动（modernc），
// 无 cgo 依赖。
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"goredux/errors"
	"goredux/logging"
	"goredux/persist"
)

const schema = `
CREATE TABLE IF NOT EXISTS goredux_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// 单行快照写入本来就串行，连接池收缩到 1 也让 PRAGMA 稳定生效
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// Config SQLite 后端配置
type Config struct {
	// Path 数据库文件路径（":memory:" 仅用于测试）
	Path string

	// Throttle 节流窗口，默认 persist.DefaultThrottle
	Throttle time.Duration

	Logger logging.Logger
}

// Persistor persist.IPersistor 的 SQLite 实现
type Persistor[S any] struct {
	db       *sql.DB
	throttle time.Duration
	logger   logging.Logger
}

// Open 打开数据库并确保建表
func Open[S any](cfg Config) (*Persistor[S], error) {
	if cfg.Path == "" {
		return nil, errors.New(errors.ErrCodePersistence, "需要数据库路径")
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = persist.DefaultThrottle
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("sqlite")
	}

	path := cfg.Path
	if path != ":memory:" {
		path = filepath.Clean(path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodePersistence, "打开数据库失败")
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.WrapError(err, errors.ErrCodePersistence, "连接数据库失败")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.WrapError(err, errors.ErrCodePersistence, "设置 PRAGMA 失败")
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapError(err, errors.ErrCodePersistence, "建表失败")
	}

	return &Persistor[S]{
		db:       db,
		throttle: cfg.Throttle,
		logger:   cfg.Logger,
	}, nil
}

// ReadState 读取快照，表为空时 ok 为 false
func (p *Persistor[S]) ReadState(ctx context.Context) (S, bool, error) {
	var zero S
	var payload []byte

	row := p.db.QueryRowContext(ctx, `SELECT payload FROM goredux_state WHERE id = 1`)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, errors.WrapError(err, errors.ErrCodePersistence, "读取状态失败")
	}

	var state S
	if err := json.Unmarshal(payload, &state); err != nil {
		return zero, false, errors.WrapError(err, errors.ErrCodePersistence, "解码状态失败")
	}
	return state, true, nil
}

// SaveInitialState 表为空时写入初始快照，已有快照不覆盖
func (p *Persistor[S]) SaveInitialState(ctx context.Context, state S) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodePersistence, "编码状态失败")
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO goredux_state (id, payload, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		payload, time.Now().UnixMilli())
	if err != nil {
		return errors.WrapError(err, errors.ErrCodePersistence, "写入初始状态失败")
	}
	return nil
}

// DeleteState 删除快照
func (p *Persistor[S]) DeleteState(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM goredux_state`); err != nil {
		return errors.WrapError(err, errors.ErrCodePersistence, "删除状态失败")
	}
	return nil
}

// PersistDifference 以 UPSERT 写入整份快照
func (p *Persistor[S]) PersistDifference(ctx context.Context, last *S, next S) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodePersistence, "编码状态失败")
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO goredux_state (id, payload, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		payload, time.Now().UnixMilli())
	if err != nil {
		return errors.WrapError(err, errors.ErrCodePersistence, "写入状态失败")
	}
	return nil
}

// Throttle 返回节流窗口
func (p *Persistor[S]) Throttle() time.Duration {
	return p.throttle
}

// Close 关闭数据库
func (p *Persistor[S]) Close() error {
	return p.db.Close()
}

var _ persist.IPersistor[struct{}] = (*Persistor[struct{}])(nil)
