package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-chat/internal/auth"
	"github.com/lk2023060901/danmu-chat/internal/network/connector"
	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// peer 是测试中服务端一侧的连接。
type peer struct {
	s      *ClientSuite
	conn   net.Conn
	framer *framer.LengthPrefixedFramer
}

func (p *peer) send(msg string) {
	p.s.Require().NoError(p.framer.WriteFrame(p.conn, msg))
}

func (p *peer) expect(want string) {
	_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := p.framer.ReadFrame(p.conn)
	p.s.Require().NoError(err)
	p.s.Equal(want, got)
}

type ClientSuite struct {
	suite.Suite

	ln     net.Listener
	stdin  *io.PipeWriter
	out    *bytes.Buffer
	client *Client
	result chan error
}

func (s *ClientSuite) SetupTest() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.ln = ln

	r, w := io.Pipe()
	s.stdin = w
	s.out = &bytes.Buffer{}
	s.client = New(connector.NewTCPConnector(connector.Config{RetryElapsed: 500 * time.Millisecond}), r, s.out)
	s.client.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local) }
	s.result = make(chan error, 1)
}

func (s *ClientSuite) TearDownTest() {
	_ = s.stdin.Close()
	_ = s.ln.Close()
}

// start 运行客户端并返回服务端一侧的连接。
func (s *ClientSuite) start() *peer {
	go func() { s.result <- s.client.Run(context.Background(), s.ln.Addr().String()) }()
	conn, err := s.ln.Accept()
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })
	return &peer{s: s, conn: conn, framer: framer.NewLengthPrefixedFramer(0)}
}

// input 模拟用户逐行输入。
func (s *ClientSuite) input(lines ...string) {
	go func() {
		for _, l := range lines {
			if _, err := io.WriteString(s.stdin, l+"\n"); err != nil {
				return
			}
		}
	}()
}

func (s *ClientSuite) wait() error {
	select {
	case err := <-s.result:
		return err
	case <-time.After(3 * time.Second):
		s.FailNow("client did not return")
		return nil
	}
}

func (s *ClientSuite) login(p *peer) {
	p.send(auth.PromptMode)
	p.expect("login")
	p.send(auth.PromptUsername)
	p.expect("User1")
	p.send(auth.PromptPassword)
	p.expect("pass123")
	p.send(auth.ReplyLoginOK)
}

func (s *ClientSuite) TestChatUntilShutdown() {
	s.input("login", " User1 ", "pass123", "hello there")
	p := s.start()
	s.login(p)

	p.send("PRIVATE:User2:hi")
	p.send("USER_DISCONNECT:User2")
	p.expect("hello there")
	p.send("SERVER_SHUTDOWN:Server is shutting down. Goodbye!")

	s.NoError(s.wait())
	out := s.out.String()
	s.Contains(out, auth.PromptMode)
	s.Contains(out, "Authentication successful!")
	s.Contains(out, "[12:00:00] [PM from User2] hi")
	s.Contains(out, "!!! User2 has disconnected from the chat. !!!")
	s.Contains(out, "*** Server is shutting down. Goodbye! ***")
}

func (s *ClientSuite) TestQuit() {
	s.input("login", "User1", "pass123", "", "/QUIT")
	p := s.start()
	s.login(p)

	p.expect("/quit")
	s.NoError(s.wait())
	s.Contains(s.out.String(), "Disconnecting from chat server...")
}

func (s *ClientSuite) TestLocalClear() {
	s.input("login", "User1", "pass123", "/clear", "after")
	p := s.start()
	s.login(p)

	p.expect("after")
	p.send("SERVER_SHUTDOWN:bye")
	s.NoError(s.wait())
	s.Contains(s.out.String(), clearSequence)
}

func (s *ClientSuite) TestServerClosesConnection() {
	s.input("login", "User1", "pass123")
	p := s.start()
	s.login(p)
	p.conn.Close()

	s.NoError(s.wait())
	s.Contains(s.out.String(), "Connection to server lost.")
}

func (s *ClientSuite) TestAuthenticationFailed() {
	s.input("login", "User1", "nope99")
	p := s.start()
	p.send(auth.PromptMode)
	p.expect("login")
	p.send(auth.PromptUsername)
	p.expect("User1")
	p.send(auth.PromptPassword)
	p.expect("nope99")
	p.send(auth.ReplyAuthFailed)
	p.conn.Close()

	s.ErrorIs(s.wait(), merr.ErrAuthFailed)
	s.Contains(s.out.String(), auth.ReplyAuthFailed)
}

func (s *ClientSuite) TestDialFailure() {
	addr := s.ln.Addr().String()
	s.ln.Close()

	err := s.client.Run(context.Background(), addr)
	s.ErrorIs(err, merr.ErrTransport)
	s.Contains(s.out.String(), "Could not connect to server")
}

func TestClient(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}
