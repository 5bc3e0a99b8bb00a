package acceptor

import (
	"context"
	"net"
	"time"

	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-chat/internal/network/session"
)

// DefaultPollInterval 为接收循环与接入循环复查关闭信号的间隔。
const DefaultPollInterval = time.Second

// ShutdownSignal 是进程级的关闭信号，只能被置位一次。
type ShutdownSignal struct {
	raised atomic.Bool
}

// Raise 置位信号，只有第一次调用返回 true。
func (s *ShutdownSignal) Raise() bool {
	return s.raised.CompareAndSwap(false, true)
}

// Raised 返回信号是否已置位。
func (s *ShutdownSignal) Raised() bool {
	return s.raised.Load()
}

// Config 描述接入层配置。
//
// 说明：
//   - PollInterval 为接收循环的轮询超时，只用于复查关闭信号，不会断开空闲连接；
//   - MaxFrameSize 为单帧最大字节数，0 表示使用 framer 默认值。
type Config struct {
	PollInterval time.Duration
	MaxFrameSize int
}

func defaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
	}
}

// Handler 由服务器实现，在单个连接的各个阶段被调用。
//
// 所有回调都在该连接自己的 worker 协程中串行执行。
type Handler interface {
	// OnConnected 完成握手与注册。返回错误时接入层直接关闭原始连接，不进入接收循环。
	OnConnected(ctx context.Context, sess session.Session) error

	// OnMessage 处理一帧完整的文本。
	OnMessage(ctx context.Context, sess session.Session, msg string)

	// OnClosed 在接收出错或对端关闭时被调用，err 为 io.EOF 表示对端正常关闭。
	// 观察到关闭信号而退出的 worker 不会调用 OnClosed，连接由关闭流程统一处理。
	OnClosed(ctx context.Context, sess session.Session, err error)
}

// Acceptor 抽象了服务器侧的 TCP 接入层。
//
// 职责：
//   - 在 listener 上接受连接，为每个连接创建 Session 并启动独立的 worker；
//   - 接入循环与接收循环都会定期复查 ShutdownSignal；
//   - 记录所有 worker，关闭时可以有界等待它们退出。
type Acceptor interface {
	// Serve 启动接入循环，阻塞直到信号置位、listener 关闭或 ctx 取消。
	Serve(ctx context.Context, h Handler) error

	// Close 关闭 listener，不影响已建立的连接。
	Close() error

	// Addr 返回监听地址。
	Addr() net.Addr

	// Wait 最多等待 timeout，返回所有 worker 是否都已退出。
	Wait(timeout time.Duration) bool
}
