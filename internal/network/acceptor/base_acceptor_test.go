package acceptor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// echoHandler 接受所有连接并原样回写每条消息。
type echoHandler struct {
	reject bool

	mu     sync.Mutex
	closed []error
}

func (h *echoHandler) OnConnected(_ context.Context, sess session.Session) error {
	if h.reject {
		return errors.New("rejected")
	}
	return sess.Send("welcome", time.Second)
}

func (h *echoHandler) OnMessage(_ context.Context, sess session.Session, msg string) {
	_ = sess.Send("echo:"+msg, time.Second)
}

func (h *echoHandler) OnClosed(_ context.Context, sess session.Session, err error) {
	h.mu.Lock()
	h.closed = append(h.closed, err)
	h.mu.Unlock()
	_ = sess.Close()
}

func (h *echoHandler) closedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closed)
}

type AcceptorSuite struct {
	suite.Suite

	acceptor *BaseAcceptor
	handler  *echoHandler
	served   chan error
	framer   *framer.LengthPrefixedFramer
}

func (s *AcceptorSuite) SetupTest() {
	a, err := NewTCPAcceptor("127.0.0.1:0", nil, Config{PollInterval: 20 * time.Millisecond})
	s.Require().NoError(err)
	s.acceptor = a
	s.handler = &echoHandler{}
	s.framer = framer.NewLengthPrefixedFramer(0)
	s.served = make(chan error, 1)
}

func (s *AcceptorSuite) serve() {
	go func() {
		s.served <- s.acceptor.Serve(context.Background(), s.handler)
	}()
}

func (s *AcceptorSuite) TearDownTest() {
	s.acceptor.Signal().Raise()
	_ = s.acceptor.Close()
}

func (s *AcceptorSuite) dial() net.Conn {
	conn, err := net.DialTimeout("tcp", s.acceptor.Addr().String(), time.Second)
	s.Require().NoError(err)
	s.Require().NoError(conn.SetDeadline(time.Now().Add(2 * time.Second)))
	return conn
}

func (s *AcceptorSuite) read(conn net.Conn) (string, error) {
	return s.framer.ReadFrame(conn)
}

func (s *AcceptorSuite) TestEcho() {
	s.serve()
	conn := s.dial()
	defer conn.Close()

	msg, err := s.read(conn)
	s.Require().NoError(err)
	s.Equal("welcome", msg)

	// 空闲时间超过轮询间隔，连接保持不变。
	time.Sleep(60 * time.Millisecond)
	s.Require().NoError(s.framer.WriteFrame(conn, "ping"))
	msg, err = s.read(conn)
	s.Require().NoError(err)
	s.Equal("echo:ping", msg)
}

func (s *AcceptorSuite) TestPeerCloseCallsOnClosed() {
	s.serve()
	conn := s.dial()
	_, err := s.read(conn)
	s.Require().NoError(err)
	conn.Close()

	s.Eventually(func() bool { return s.handler.closedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.True(s.acceptor.Wait(time.Second))
}

func (s *AcceptorSuite) TestStalledFrameClosesSession() {
	s.serve()
	conn := s.dial()
	defer conn.Close()
	_, err := s.read(conn)
	s.Require().NoError(err)

	_, err = conn.Write([]byte{0, 0})
	s.Require().NoError(err)

	s.Eventually(func() bool { return s.handler.closedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.True(s.acceptor.Wait(time.Second))

	s.handler.mu.Lock()
	cause := s.handler.closed[0]
	s.handler.mu.Unlock()
	s.ErrorIs(cause, merr.ErrTransport)
}

func (s *AcceptorSuite) TestRejectedConnectionClosed() {
	s.handler.reject = true
	s.serve()
	conn := s.dial()
	defer conn.Close()

	_, err := s.read(conn)
	s.Error(err)
	s.Equal(0, s.handler.closedCount())
}

func (s *AcceptorSuite) TestSignalStopsAcceptLoop() {
	s.serve()
	conn := s.dial()
	defer conn.Close()
	_, err := s.read(conn)
	s.Require().NoError(err)

	s.True(s.acceptor.Signal().Raise())
	s.False(s.acceptor.Signal().Raise())

	select {
	case err := <-s.served:
		s.NoError(err)
	case <-time.After(time.Second):
		s.FailNow("accept loop did not stop")
	}

	// worker 观察到信号后退出且不调用 OnClosed。
	s.True(s.acceptor.Wait(time.Second))
	s.Equal(0, s.handler.closedCount())
}

func (s *AcceptorSuite) TestCloseStopsServe() {
	s.serve()
	s.NoError(s.acceptor.Close())
	select {
	case err := <-s.served:
		s.NoError(err)
	case <-time.After(time.Second):
		s.FailNow("serve did not return")
	}
}

func TestAcceptor(t *testing.T) {
	suite.Run(t, new(AcceptorSuite))
}

func TestNewAcceptorValidation(t *testing.T) {
	_, err := NewBaseAcceptor(nil, nil, Config{})
	if err == nil {
		t.Fatal("expected error for nil listener")
	}
	_, err = NewTCPAcceptor("", nil, Config{})
	if err == nil {
		t.Fatal("expected error for empty addr")
	}
}
