package connector

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/internal/network"
	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/util/conc"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	// DialTimeout 为单次拨号超时。
	DialTimeout time.Duration
	// RetryInterval 与 RetryElapsed 控制拨号失败后的指数退避。
	RetryInterval time.Duration
	RetryElapsed  time.Duration

	WriteTimeout  time.Duration
	RecvQueueSize int
	MaxFrameSize  int
}

func defaultConfig() Config {
	return Config{
		DialTimeout:   3 * time.Second,
		RetryInterval: 200 * time.Millisecond,
		RetryElapsed:  10 * time.Second,
		WriteTimeout:  time.Second,
		RecvQueueSize: 256,
	}
}

// ClientConn 抽象了客户端侧的一条连接。
type ClientConn interface {
	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// Send 发送一帧文本。
	Send(msg string) error
	// Recv 返回收到的帧，连接结束后通道被关闭。
	Recv() <-chan string
	// Err 返回连接结束的原因，对端正常关闭时为 nil。
	Err() error

	Close() error
}

// Connector 抽象了客户端的拨号器。
type Connector interface {
	Dial(ctx context.Context, addr string) (ClientConn, error)
}

// tcpConnector 是基于 TCP 与长度前缀帧的默认 Connector 实现。
type tcpConnector struct {
	cfg Config
}

// NewTCPConnector 创建一个 TCP Connector，零值字段使用默认值。
func NewTCPConnector(cfg Config) Connector {
	def := defaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.RetryElapsed <= 0 {
		cfg.RetryElapsed = def.RetryElapsed
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RecvQueueSize <= 0 {
		cfg.RecvQueueSize = def.RecvQueueSize
	}
	if cfg.MaxFrameSize < 0 {
		cfg.MaxFrameSize = 0
	}
	return &tcpConnector{cfg: cfg}
}

// Dial 拨号 addr，失败时按指数退避重试直到 RetryElapsed 用尽或 ctx 取消。
func (c *tcpConnector) Dial(ctx context.Context, addr string) (ClientConn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	policy.MaxElapsedTime = c.cfg.RetryElapsed

	var conn net.Conn
	dial := func() error {
		d := net.Dialer{Timeout: c.cfg.DialTimeout}
		var err error
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Ctx(ctx).Debug("dial failed, retrying",
			zap.String("addr", addr),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, network.Transport(network.StageDial, errors.Wrapf(err, "dial %s", addr))
	}
	return newTCPClientConn(conn, c.cfg), nil
}

// tcpClientConn 是 ClientConn 的默认实现。
type tcpClientConn struct {
	conn   net.Conn
	cfg    Config
	framer *framer.LengthPrefixedFramer

	writeMu  sync.Mutex
	recvChan chan string
	done     chan struct{}
	err      error

	closeOnce sync.Once
}

func newTCPClientConn(conn net.Conn, cfg Config) *tcpClientConn {
	c := &tcpClientConn{
		conn:     conn,
		cfg:      cfg,
		framer:   framer.NewLengthPrefixedFramer(uint32(cfg.MaxFrameSize)),
		recvChan: make(chan string, cfg.RecvQueueSize),
		done:     make(chan struct{}),
	}
	_ = conc.Go(func() (struct{}, error) {
		c.recvLoop()
		return struct{}{}, nil
	})
	return c
}

func (c *tcpClientConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *tcpClientConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *tcpClientConn) Recv() <-chan string  { return c.recvChan }

// Err 只有在 Recv 通道关闭后才有意义。
func (c *tcpClientConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *tcpClientConn) Send(msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return network.Transport(network.StageSend, err)
	}
	if err := c.framer.WriteFrame(c.conn, msg); err != nil {
		return network.Transport(network.StageSend, err)
	}
	return nil
}

func (c *tcpClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// recvLoop 持续读取帧并投递到 recvChan，通道满时阻塞而不是丢弃。
func (c *tcpClientConn) recvLoop() {
	defer func() {
		close(c.done)
		close(c.recvChan)
	}()
	for {
		msg, err := c.framer.ReadFrame(c.conn)
		if err != nil {
			if !network.IsClosed(err) {
				c.err = network.Transport(network.StageRecv, err)
			}
			_ = c.Close()
			return
		}
		c.recvChan <- msg
	}
}
