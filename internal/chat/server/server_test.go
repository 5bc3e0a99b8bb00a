package server

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/lk2023060901/danmu-chat/internal/auth"
	"github.com/lk2023060901/danmu-chat/internal/chat/router"
	"github.com/lk2023060901/danmu-chat/internal/chatlog"
	"github.com/lk2023060901/danmu-chat/internal/network/framer"
)

// testClient 是测试用的原始 TCP 客户端。
type testClient struct {
	s      *ServerSuite
	conn   net.Conn
	framer *framer.LengthPrefixedFramer
}

func (c *testClient) send(line string) {
	c.s.Require().NoError(c.framer.WriteFrame(c.conn, line))
}

func (c *testClient) read() (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return c.framer.ReadFrame(c.conn)
}

func (c *testClient) expect(want string) {
	got, err := c.read()
	c.s.Require().NoError(err)
	c.s.Equal(want, got)
}

// await 读取直到出现 want，返回之前跳过的帧。
func (c *testClient) await(want string) []string {
	var skipped []string
	for {
		got, err := c.read()
		c.s.Require().NoError(err, "waiting for %q, skipped %v", want, skipped)
		if got == want {
			return skipped
		}
		skipped = append(skipped, got)
	}
}

// readUntilClosed 返回连接关闭前收到的所有帧。
func (c *testClient) readUntilClosed() []string {
	var frames []string
	for {
		got, err := c.read()
		if err != nil {
			return frames
		}
		frames = append(frames, got)
	}
}

type ServerSuite struct {
	suite.Suite

	server *Server
	cancel context.CancelFunc
	ran    chan error
}

func (s *ServerSuite) SetupTest() {
	store, err := auth.OpenFileStore(filepath.Join(s.T().TempDir(), "users.json"), bcrypt.MinCost)
	s.Require().NoError(err)

	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.PollInterval = 20 * time.Millisecond
	cfg.ShutdownGrace = 500 * time.Millisecond
	cfg.SendTimeout = 500 * time.Millisecond
	cfg.Auth.HandshakeTimeout = 2 * time.Second
	cfg.Auth.Cost = bcrypt.MinCost

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	srv, err := New(ctx, cfg, WithStore(store), WithSink(chatlog.Discard))
	s.Require().NoError(err)
	s.Require().NoError(srv.Start(ctx))
	s.server = srv

	s.ran = make(chan error, 1)
	go func() { s.ran <- srv.Run(ctx) }()
}

func (s *ServerSuite) TearDownTest() {
	s.cancel()
	select {
	case <-s.server.Done():
	case <-time.After(3 * time.Second):
		s.Fail("server did not stop")
	}
}

func (s *ServerSuite) dial() *testClient {
	conn, err := net.DialTimeout("tcp", s.server.Addr().String(), time.Second)
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })
	return &testClient{s: s, conn: conn, framer: framer.NewLengthPrefixedFramer(0)}
}

func (s *ServerSuite) login(name, password string) *testClient {
	c := s.dial()
	c.expect(auth.PromptMode)
	c.send("login")
	c.expect(auth.PromptUsername)
	c.send(name)
	c.expect(auth.PromptPassword)
	c.send(password)
	c.expect(auth.ReplyLoginOK)
	return c
}

func (s *ServerSuite) TestJoinAndChat() {
	alice := s.login("User1", "pass123")
	bob := s.login("User2", "pass456")

	alice.expect("User2 has joined the chat.")
	alice.expect(router.StatusUpdate("User2", "online"))

	bob.send("hello everyone")
	alice.expect("User2: hello everyone")
}

func (s *ServerSuite) TestUsersWithThreeConnections() {
	first := s.login("User1", "pass123")
	s.login("User2", "pass456")
	s.login("User3", "pass789")
	first.await(router.StatusUpdate("User3", "online"))

	first.send("/users")
	first.expect("Online users (3):\nUser1 (online)\nUser2 (online)\nUser3 (online)")
}

func (s *ServerSuite) TestPrivateMessage() {
	alice := s.login("User1", "pass123")
	bob := s.login("User2", "pass456")
	alice.await(router.StatusUpdate("User2", "online"))

	alice.send("/pm User2 psst")
	bob.expect("PRIVATE:User1:psst")
	alice.expect("Message sent to User2")
}

func (s *ServerSuite) TestDuplicateLoginRejected() {
	s.login("User1", "pass123")

	dup := s.dial()
	dup.expect(auth.PromptMode)
	dup.send("login")
	dup.expect(auth.PromptUsername)
	dup.send("User1")
	dup.expect(auth.PromptPassword)
	dup.send("pass123")
	dup.expect(auth.ReplyAlreadyLoggedIn)
	s.Empty(dup.readUntilClosed())
	s.Equal(1, s.server.Registry().Count())
}

func (s *ServerSuite) TestFailedLoginClosesConnection() {
	c := s.dial()
	c.expect(auth.PromptMode)
	c.send("login")
	c.expect(auth.PromptUsername)
	c.send("User1")
	c.expect(auth.PromptPassword)
	c.send("wrong99")
	c.expect(auth.ReplyAuthFailed)
	s.Empty(c.readUntilClosed())
	s.Equal(0, s.server.Registry().Count())
}

func (s *ServerSuite) TestQuit() {
	alice := s.login("User1", "pass123")
	bob := s.login("User2", "pass456")
	alice.await(router.StatusUpdate("User2", "online"))

	alice.send("/quit")
	alice.expect("Goodbye!")
	s.Empty(alice.readUntilClosed())
	bob.expect(router.TokenUserDisconnect + "User1")
}

func (s *ServerSuite) TestPeerDisconnect() {
	alice := s.login("User1", "pass123")
	bob := s.login("User2", "pass456")
	alice.await(router.StatusUpdate("User2", "online"))

	bob.conn.Close()
	alice.expect(router.TokenUserDisconnect + "User2")
	s.Eventually(func() bool { return s.server.Registry().Count() == 1 }, time.Second, 10*time.Millisecond)
}

func (s *ServerSuite) TestShutdownNotifiesBeforeClose() {
	alice := s.login("User1", "pass123")
	bob := s.login("User2", "pass456")
	alice.await(router.StatusUpdate("User2", "online"))

	go s.server.Shutdown(context.Background())

	for _, c := range []*testClient{alice, bob} {
		frames := c.readUntilClosed()
		s.Require().NotEmpty(frames)
		s.Contains(frames, ShutdownNotice)
		for _, f := range frames {
			if f == ShutdownNotice {
				break
			}
			s.False(strings.HasPrefix(f, router.TokenUserDisconnect), "disconnect notice before shutdown notice")
		}
	}

	<-s.server.Done()
	s.Equal(0, s.server.Registry().Count())

	// 关闭后不再接纳连接：要么拨号失败，要么连接立即被关闭且收不到提示。
	conn, err := net.DialTimeout("tcp", s.server.Addr().String(), 200*time.Millisecond)
	if err == nil {
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, rerr := framer.NewLengthPrefixedFramer(0).ReadFrame(conn)
		s.Error(rerr)
	}
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}
