package auth

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

type handshakeOutcome struct {
	result Result
	err    error
}

type GatewaySuite struct {
	suite.Suite

	registry *session.Registry
	gateway  *Gateway
	conns    []net.Conn
}

func (s *GatewaySuite) SetupTest() {
	store, err := OpenFileStore(filepath.Join(s.T().TempDir(), "users.json"), testCost)
	s.Require().NoError(err)
	s.registry = session.NewRegistry()
	s.gateway = NewGateway(store, Config{HandshakeTimeout: time.Second, Cost: testCost})
	s.conns = nil
}

func (s *GatewaySuite) TearDownTest() {
	for _, c := range s.conns {
		c.Close()
	}
}

// start 在后台运行握手，返回客户端一侧的连接与结果通道。
func (s *GatewaySuite) start() (net.Conn, *session.BaseSession, <-chan handshakeOutcome) {
	server, client := net.Pipe()
	s.conns = append(s.conns, server, client)
	sess := session.NewBaseSession(nil, session.NextID(), server, nil)

	done := make(chan handshakeOutcome, 1)
	go func() {
		res, err := s.gateway.Handshake(context.Background(), sess, s.registry.Register)
		done <- handshakeOutcome{res, err}
	}()
	return client, sess, done
}

func (s *GatewaySuite) expect(conn net.Conn, want string) {
	f := framer.NewLengthPrefixedFramer(0)
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	got, err := f.ReadFrame(conn)
	s.Require().NoError(err)
	s.Equal(want, got)
}

func (s *GatewaySuite) answer(conn net.Conn, line string) {
	f := framer.NewLengthPrefixedFramer(0)
	s.Require().NoError(f.WriteFrame(conn, line))
}

func (s *GatewaySuite) wait(done <-chan handshakeOutcome) handshakeOutcome {
	select {
	case out := <-done:
		return out
	case <-time.After(3 * time.Second):
		s.FailNow("handshake did not finish")
		return handshakeOutcome{}
	}
}

func (s *GatewaySuite) TestLoginDefaultAccount() {
	conn, sess, done := s.start()
	s.expect(conn, PromptMode)
	s.answer(conn, "LOGIN\n")
	s.expect(conn, PromptUsername)
	s.answer(conn, "User1")
	s.expect(conn, PromptPassword)
	s.answer(conn, "pass123")
	s.expect(conn, ReplyLoginOK)

	out := s.wait(done)
	s.Require().NoError(out.err)
	s.Equal(Result{Identity: "User1", Mode: ModeLogin}, out.result)
	s.Equal("User1", sess.Identity())
	s.Equal(1, s.registry.Count())
}

func (s *GatewaySuite) TestLoginWrongPassword() {
	conn, _, done := s.start()
	s.expect(conn, PromptMode)
	s.answer(conn, "login")
	s.expect(conn, PromptUsername)
	s.answer(conn, "User1")
	s.expect(conn, PromptPassword)
	s.answer(conn, "pass999")
	s.expect(conn, ReplyAuthFailed)

	s.ErrorIs(s.wait(done).err, merr.ErrAuthFailed)
	s.Equal(0, s.registry.Count())
}

func (s *GatewaySuite) TestLoginUnknownUser() {
	conn, _, done := s.start()
	s.expect(conn, PromptMode)
	s.answer(conn, "anything")
	s.expect(conn, PromptUsername)
	s.answer(conn, "ghost")
	s.expect(conn, PromptPassword)
	s.answer(conn, "pass123")
	s.expect(conn, ReplyAuthFailed)

	s.ErrorIs(s.wait(done).err, merr.ErrAuthFailed)
}

func (s *GatewaySuite) TestInvalidUsername() {
	conn, _, done := s.start()
	s.expect(conn, PromptMode)
	s.answer(conn, "login")
	s.expect(conn, PromptUsername)
	s.answer(conn, "ab")
	s.expect(conn, "Invalid username: Username must be at least 3 characters long")

	s.ErrorIs(s.wait(done).err, merr.ErrInvalidCredential)
}

func (s *GatewaySuite) TestAlreadyLoggedIn() {
	first, _, done := s.start()
	s.expect(first, PromptMode)
	s.answer(first, "login")
	s.expect(first, PromptUsername)
	s.answer(first, "User2")
	s.expect(first, PromptPassword)
	s.answer(first, "pass456")
	s.expect(first, ReplyLoginOK)
	s.Require().NoError(s.wait(done).err)

	second, _, done := s.start()
	s.expect(second, PromptMode)
	s.answer(second, "login")
	s.expect(second, PromptUsername)
	s.answer(second, "User2")
	s.expect(second, PromptPassword)
	s.answer(second, "pass456")
	s.expect(second, ReplyAlreadyLoggedIn)

	s.ErrorIs(s.wait(done).err, merr.ErrDuplicateIdentity)
	s.Equal(1, s.registry.Count())
}

func (s *GatewaySuite) TestRegisterThenLogin() {
	conn, _, done := s.start()
	s.expect(conn, PromptMode)
	s.answer(conn, "register")
	s.expect(conn, PromptNewUsername)
	s.answer(conn, "new_user")
	s.expect(conn, PromptPassword)
	s.answer(conn, "abc123")
	s.expect(conn, "Registration successful! Welcome new_user.")

	out := s.wait(done)
	s.Require().NoError(out.err)
	s.Equal(ModeRegister, out.result.Mode)

	hashed, err := s.gateway.store.Get(context.Background(), "new_user")
	s.Require().NoError(err)
	s.NoError(CheckPassword("new_user", hashed, "abc123"))
}

func (s *GatewaySuite) TestRegisterExisting() {
	conn, _, done := s.start()
	s.expect(conn, PromptMode)
	s.answer(conn, "register")
	s.expect(conn, PromptNewUsername)
	s.answer(conn, "User3")
	s.expect(conn, ReplyUserExists)

	s.ErrorIs(s.wait(done).err, merr.ErrUserExists)
}

func (s *GatewaySuite) TestRegisterWeakPassword() {
	conn, _, done := s.start()
	s.expect(conn, PromptMode)
	s.answer(conn, "register")
	s.expect(conn, PromptNewUsername)
	s.answer(conn, "frank")
	s.expect(conn, PromptPassword)
	s.answer(conn, "password")
	s.expect(conn, "Invalid password: Password must contain at least one number")

	s.ErrorIs(s.wait(done).err, merr.ErrInvalidCredential)
}

func (s *GatewaySuite) TestHandshakeTimeout() {
	s.gateway.timeout = 50 * time.Millisecond
	conn, _, done := s.start()
	s.expect(conn, PromptMode)

	s.ErrorIs(s.wait(done).err, merr.ErrTransport)
}

func (s *GatewaySuite) TestHandshakeStalledFrame() {
	s.gateway.timeout = 50 * time.Millisecond
	conn, _, done := s.start()
	s.expect(conn, PromptMode)

	// 帧头只到达一个字节，握手仍须在时限内失败。
	go func() {
		_, _ = conn.Write([]byte{0})
	}()

	s.ErrorIs(s.wait(done).err, merr.ErrTransport)
}

func TestGateway(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}
