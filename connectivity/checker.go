// Package connectivity 提供网络连通性探测抽象
//
// 连通性策略（CheckInternet 等）只依赖 IChecker 接口；
// 生产环境用 DialChecker，测试用 Simulated 模拟断网/恢复。
package connectivity

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// IChecker 连通性探测接口
type IChecker interface {
	// Online 探测当前是否有网络连接
	//
	// 返回 (false, nil) 表示确定离线；error 表示探测本身失败，
	// 调用方应将其视为离线处理。
	Online(ctx context.Context) (bool, error)
}

// CheckerFunc 函数式探测器适配
type CheckerFunc func(ctx context.Context) (bool, error)

func (f CheckerFunc) Online(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Simulated 可编程探测器（用于测试）
type Simulated struct {
	online atomic.Bool
}

// NewSimulated 创建模拟探测器
func NewSimulated(online bool) *Simulated {
	s := &Simulated{}
	s.online.Store(online)
	return s
}

// SetOnline 切换在线状态
func (s *Simulated) SetOnline(online bool) {
	s.online.Store(online)
}

func (s *Simulated) Online(ctx context.Context) (bool, error) {
	return s.online.Load(), nil
}

// DialConfig 拨测探测器配置
type DialConfig struct {
	// Hosts 探测目标（host:port），任意一个可达即视为在线
	Hosts []string

	// Timeout 单个目标的拨测超时
	Timeout time.Duration
}

// DefaultDialConfig 返回默认配置
//
// 默认拨测公共 DNS 的 53 端口，单目标超时 3s。
func DefaultDialConfig() DialConfig {
	return DialConfig{
		Hosts:   []string{"1.1.1.1:53", "8.8.8.8:53"},
		Timeout: 3 * time.Second,
	}
}

// DialChecker 基于 TCP 拨测的探测器
type DialChecker struct {
	config DialConfig
	dialer *net.Dialer
}

// NewDialChecker 创建拨测探测器
func NewDialChecker(config DialConfig) *DialChecker {
	if len(config.Hosts) == 0 {
		config.Hosts = DefaultDialConfig().Hosts
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultDialConfig().Timeout
	}

	return &DialChecker{
		config: config,
		dialer: &net.Dialer{Timeout: config.Timeout},
	}
}

// Online 依次拨测目标，任意一个连通即在线
func (c *DialChecker) Online(ctx context.Context) (bool, error) {
	for _, host := range c.config.Hosts {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		conn, err := c.dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			continue
		}
		_ = conn.Close()
		return true, nil
	}
	return false, nil
}
