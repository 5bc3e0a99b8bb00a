package acceptor

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/internal/network"
	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// BaseAcceptor 是 Acceptor 接口的基础 TCP 实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体业务逻辑；
//   - 内部负责：接受连接、创建 Session、驱动接收循环并回调 Handler；
//   - 每个连接使用独立的 goroutine 串行处理消息，保证同一 Session 上 Handler 串行执行。
type BaseAcceptor struct {
	log.Binder

	ln     net.Listener
	cfg    Config
	signal *ShutdownSignal

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// 确保 BaseAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*BaseAcceptor)(nil)

// deadliner 由支持 SetDeadline 的 listener 实现（*net.TCPListener）。
type deadliner interface {
	SetDeadline(t time.Time) error
}

// NewBaseAcceptor 使用已有的 Listener 创建一个基础接入器。
//
// 参数：
//   - ln    ：已创建好的 net.Listener；
//   - signal：关闭信号，为 nil 时内部新建一个；
//   - cfg   ：零值字段使用默认值。
func NewBaseAcceptor(ln net.Listener, signal *ShutdownSignal, cfg Config) (*BaseAcceptor, error) {
	if ln == nil {
		return nil, merr.WrapErrParameterMissing("listener", "acceptor")
	}
	if signal == nil {
		signal = &ShutdownSignal{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultConfig().PollInterval
	}
	if cfg.MaxFrameSize < 0 {
		cfg.MaxFrameSize = 0
	}
	return &BaseAcceptor{
		ln:     ln,
		cfg:    cfg,
		signal: signal,
	}, nil
}

// NewTCPAcceptor 在给定地址上监听 TCP，并创建一个基础接入器。
func NewTCPAcceptor(addr string, signal *ShutdownSignal, cfg Config) (*BaseAcceptor, error) {
	if addr == "" {
		return nil, merr.WrapErrParameterMissing("addr", "acceptor")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, network.Transport(network.StageAccept, err)
	}
	return NewBaseAcceptor(ln, signal, cfg)
}

// Addr 实现 Acceptor.Addr。
func (a *BaseAcceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Signal 返回接入器观察的关闭信号。
func (a *BaseAcceptor) Signal() *ShutdownSignal {
	return a.signal
}

// Serve 实现 Acceptor.Serve。
func (a *BaseAcceptor) Serve(ctx context.Context, h Handler) error {
	if h == nil {
		return merr.WrapErrParameterMissing("handler", "acceptor serve")
	}
	logger := a.Logger().With(zap.Stringer("addr", a.ln.Addr()))
	logger.Info("acceptor serving")

	for {
		if a.stopped(ctx) {
			logger.Info("acceptor stopped")
			return nil
		}
		if dl, ok := a.ln.(deadliner); ok {
			_ = dl.SetDeadline(time.Now().Add(a.cfg.PollInterval))
		}

		conn, err := a.ln.Accept()
		if err != nil {
			if network.IsTimeout(err) {
				continue
			}
			if a.stopped(ctx) || errors.Is(err, net.ErrClosed) {
				logger.Info("acceptor stopped")
				return nil
			}
			return network.Transport(network.StageAccept, err)
		}
		if a.signal.Raised() {
			// 信号置位后不再接纳任何连接。
			_ = conn.Close()
			continue
		}

		metrics.AcceptedConnections.Inc()
		a.wg.Add(1)
		go func(conn net.Conn) {
			defer a.wg.Done()
			a.handleConnection(ctx, conn, h)
		}(conn)
	}
}

func (a *BaseAcceptor) stopped(ctx context.Context) bool {
	return a.signal.Raised() || ctx.Err() != nil
}

// Close 实现 Acceptor.Close。
func (a *BaseAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.ln.Close()
	})
	return err
}

// Wait 实现 Acceptor.Wait。
func (a *BaseAcceptor) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// handleConnection 处理单个连接的生命周期。
//
// 流程：
//  1. 创建 Session，并生成携带 connID/remote/traceID 的上下文；
//  2. 调用 Handler.OnConnected 完成握手与注册，失败则直接关闭原始连接；
//  3. 以 PollInterval 为超时循环接收，每次超时复查关闭信号；
//  4. 接收出错或对端关闭时调用 Handler.OnClosed。
func (a *BaseAcceptor) handleConnection(parent context.Context, conn net.Conn, h Handler) {
	id := session.NextID()
	ctx := log.WithTraceID(parent, uuid.NewString())
	ctx = log.WithFields(ctx, log.FieldConnID(id), log.FieldRemote(conn.RemoteAddr()))

	sess := session.NewBaseSession(ctx, id, conn, framer.NewLengthPrefixedFramer(uint32(a.cfg.MaxFrameSize)))
	logger := log.Ctx(ctx)
	logger.Debug("connection accepted")

	if err := h.OnConnected(ctx, sess); err != nil {
		logger.Info("connection rejected", zap.Error(err))
		_ = sess.Close()
		return
	}

	ctx = log.WithFields(ctx, log.FieldUser(sess.Identity()))
	cause := a.receiveLoop(ctx, sess, h)
	if cause == nil {
		return
	}
	if errors.Is(cause, io.EOF) {
		logger.Debug("peer closed")
	} else {
		logger.Info("receive failed", zap.Error(cause))
	}
	h.OnClosed(ctx, sess, cause)
}

// receiveLoop 返回 nil 表示因关闭信号或本地关闭而退出，此时不需要再调用 OnClosed。
func (a *BaseAcceptor) receiveLoop(ctx context.Context, sess session.Session, h Handler) error {
	for {
		if a.signal.Raised() {
			return nil
		}
		if sess.State() != session.StateOpen {
			return nil
		}

		msg, err := sess.Recv(a.cfg.PollInterval)
		if err != nil {
			if network.IsTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return network.Transport(network.StageRecv, err)
		}
		h.OnMessage(ctx, sess, msg)
	}
}
