package session

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-chat/internal/network"
	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// BaseSession 提供了 Session 接口的基础实现。
//
// 设计目标：
//   - 封装最小但完整的会话能力：ID、Context、地址信息、收发与关闭；
//   - 写操作由 writeMu 串行化，保证一帧数据不会与其他写者交叉；
//   - 读操作只由所属 worker 协程调用，不加锁。
type BaseSession struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn   net.Conn
	reader *bufio.Reader
	framer framer.Framer

	remoteAddr net.Addr
	localAddr  net.Addr

	identity atomic.String
	state    atomic.Int32

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// 确保 BaseSession 实现了 Session 接口。
var _ Session = (*BaseSession)(nil)

var nextSessionID atomic.Uint64

// NextID 返回一个新的进程内唯一会话 ID。
func NextID() uint64 {
	return nextSessionID.Inc()
}

// NewBaseSession 创建一个基于 net.Conn 的基础 Session 实例。
//
// 参数：
//   - parent：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - id    ：会话 ID，通常由 NextID 分配；
//   - conn  ：底层网络连接；
//   - f     ：帧编解码器，为 nil 时使用默认的长度前缀编码。
func NewBaseSession(parent context.Context, id uint64, conn net.Conn, f framer.Framer) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	if f == nil {
		f = framer.NewLengthPrefixedFramer(0)
	}
	ctx, cancel := context.WithCancel(parent)

	return &BaseSession{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		framer:     f,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
	}
}

// ID 实现 Session.ID。
func (s *BaseSession) ID() uint64 {
	return s.id
}

// Context 实现 Session.Context。
func (s *BaseSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *BaseSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// LocalAddr 实现 Session.LocalAddr。
func (s *BaseSession) LocalAddr() net.Addr {
	return s.localAddr
}

// Identity 实现 Session.Identity。
func (s *BaseSession) Identity() string {
	return s.identity.Load()
}

// State 实现 Session.State。
func (s *BaseSession) State() State {
	return State(s.state.Load())
}

// Send 实现 Session.Send。
func (s *BaseSession) Send(msg string, timeout time.Duration) error {
	if s.State() != StateOpen {
		return merr.WrapErrSessionClosed(s.id)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return network.Transport(network.StageSend, err)
		}
		defer s.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}
	if err := s.framer.WriteFrame(s.conn, msg); err != nil {
		return network.Transport(network.StageSend, err)
	}
	return nil
}

// Recv 实现 Session.Recv。
//
// 轮询超时只作用于“等待下一帧开始”的阶段：Peek 超时不会消费任何字节，
// 调用方可以直接重试。首字节到达后，帧的剩余部分必须在下一个 poll 窗口内读完，
// 否则流已失步，返回 network.ErrFrameStalled，它不被视为轮询超时。
func (s *BaseSession) Recv(poll time.Duration) (string, error) {
	if poll <= 0 {
		return s.framer.ReadFrame(s.reader)
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(poll)); err != nil {
		return "", err
	}
	if _, err := s.reader.Peek(1); err != nil {
		return "", err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(poll)); err != nil {
		return "", err
	}
	defer s.conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	msg, err := s.framer.ReadFrame(s.reader)
	if err != nil && network.IsTimeout(err) {
		return "", errors.Wrapf(network.ErrFrameStalled, "frame incomplete after %s", poll)
	}
	return msg, err
}

// Shutdown 实现 Session.Shutdown。
func (s *BaseSession) Shutdown() error {
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Close 实现 Session.Close。
func (s *BaseSession) Close() error {
	s.closeOnce.Do(func() {
		// 先取消上下文，再关闭连接。
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			s.closeErr = s.conn.Close()
		}
	})
	return s.closeErr
}

func (s *BaseSession) casState(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *BaseSession) bind(identity string) {
	s.identity.Store(identity)
}
