package session

import (
	"context"
	"net"
	"time"
)

// Session 抽象了一条已接入的聊天连接。
//
// 约定：
//   - 每个 Session 对应一条底层流式连接（TCP 或测试中的 net.Pipe）；
//   - Session ID 使用 64 位无符号整型，在进程内保持唯一；
//   - 生命周期状态只能单调前进 Open -> Closing -> Closed，且只由 Registry 在锁内推进。
type Session interface {
	// ID 返回该会话在进程内的唯一标识。
	ID() uint64

	// Context 返回与该会话关联的上下文，会话关闭时被取消。
	Context() context.Context

	// RemoteAddr 返回远端地址（客户端地址）。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址（服务器监听地址）。
	LocalAddr() net.Addr

	// Identity 返回绑定的用户名；尚未注册时返回空串。
	Identity() string

	// Send 向对端写出一帧文本。
	//
	// 说明：
	//   - timeout > 0 时为本次写操作设置写超时，单个慢速对端不会无限阻塞调用方；
	//   - 会话已进入 Closing/Closed 时直接返回 merr.ErrSessionClosed；
	//   - 写失败统一包装为 merr.ErrTransport。
	Send(msg string, timeout time.Duration) error

	// Recv 读取一帧文本。
	//
	// 说明：
	//   - poll > 0 时最多等待 poll 时长，超时返回满足 network.IsTimeout 的错误，流保持完整；
	//   - 对端关闭时返回满足 network.IsClosed 的错误。
	Recv(poll time.Duration) (string, error)

	// Shutdown 尝试半关闭写方向，通知对端不会再有数据。
	Shutdown() error

	// Close 关闭底层连接并取消 Context，多次调用是幂等的。
	Close() error

	// State 返回当前生命周期状态。
	State() State

	// casState 与 bind 仅供 Registry 在锁内调用。
	casState(from, to State) bool
	bind(identity string)
}
