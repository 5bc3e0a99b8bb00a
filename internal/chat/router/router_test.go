package router

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// peer 是测试中的客户端一侧，持续读取服务端写来的帧。
type peer struct {
	sess   *session.BaseSession
	client net.Conn
	frames chan string
}

func newPeer(reading bool) *peer {
	server, client := net.Pipe()
	p := &peer{
		sess:   session.NewBaseSession(nil, session.NextID(), server, nil),
		client: client,
		frames: make(chan string, 64),
	}
	if reading {
		go p.readLoop()
	}
	return p
}

func (p *peer) readLoop() {
	f := framer.NewLengthPrefixedFramer(0)
	for {
		msg, err := f.ReadFrame(p.client)
		if err != nil {
			close(p.frames)
			return
		}
		p.frames <- msg
	}
}

// drain 收集在 wait 时间内到达的所有帧。
func (p *peer) drain(wait time.Duration) []string {
	var got []string
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-p.frames:
			if !ok {
				return got
			}
			got = append(got, msg)
		case <-timer.C:
			return got
		}
	}
}

type RouterSuite struct {
	suite.Suite

	ctx      context.Context
	clock    *session.ManualClock
	registry *session.Registry
	router   *Router
	peers    []*peer
}

func (s *RouterSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = session.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local))
	s.registry = session.NewRegistry(session.WithClock(s.clock))
	r, err := New(s.registry, nil, Config{SendTimeout: 100 * time.Millisecond, Workers: 8})
	s.Require().NoError(err)
	s.router = r
	s.peers = nil
}

func (s *RouterSuite) TearDownTest() {
	for _, p := range s.peers {
		p.client.Close()
		p.sess.Close()
	}
	s.router.Close()
}

func (s *RouterSuite) join(name string, reading bool) *peer {
	p := newPeer(reading)
	s.peers = append(s.peers, p)
	s.Require().NoError(s.registry.Register(p.sess, name))
	return p
}

func (s *RouterSuite) TestBroadcastExcludesSender() {
	alice := s.join("alice", true)
	bob := s.join("bob", true)
	carol := s.join("carol", true)

	delivered := s.router.Broadcast(s.ctx, "alice: hi", alice.sess)
	s.Equal(2, delivered)

	s.Equal([]string{"alice: hi"}, bob.drain(50*time.Millisecond))
	s.Equal([]string{"alice: hi"}, carol.drain(50*time.Millisecond))
	s.Empty(alice.drain(50 * time.Millisecond))
}

func (s *RouterSuite) TestBroadcastSkipsClosing() {
	alice := s.join("alice", true)
	bob := s.join("bob", true)
	s.True(s.registry.BeginClose(bob.sess))

	s.Equal(0, s.router.Broadcast(s.ctx, "hello", alice.sess))
	s.Empty(bob.drain(50 * time.Millisecond))
}

func (s *RouterSuite) TestBroadcastTearsDownStalledPeer() {
	alice := s.join("alice", true)
	stalled := s.join("stalled", false)
	carol := s.join("carol", true)

	delivered := s.router.Broadcast(s.ctx, "news", alice.sess)
	s.Equal(1, delivered)

	s.Equal(session.StateClosed, s.registry.StateOf(stalled.sess))
	_, ok := s.registry.Lookup("stalled")
	s.False(ok)
	s.Equal(2, s.registry.Count())

	// carol 先收到消息，随后收到 stalled 的离开通知。
	s.Equal([]string{"news", TokenUserDisconnect + "stalled"}, carol.drain(100*time.Millisecond))
	s.Equal([]string{TokenUserDisconnect + "stalled"}, alice.drain(100*time.Millisecond))
}

func (s *RouterSuite) TestConcurrentTeardown() {
	observer := s.join("observer", true)
	target := s.join("target", true)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	reasons := []string{ReasonRecv, ReasonBroadcast, ReasonShutdown, ReasonQuit}
	for _, reason := range reasons {
		wg.Add(1)
		go func(reason string) {
			defer wg.Done()
			if s.router.Teardown(s.ctx, target.sess, reason) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(reason)
	}
	wg.Wait()

	s.Equal(1, winners)
	s.Equal(session.StateClosed, target.sess.State())
	s.Equal([]string{TokenUserDisconnect + "target"}, observer.drain(100*time.Millisecond))
	s.Equal(1, s.registry.Count())
}

func (s *RouterSuite) TestTeardownIdempotent() {
	target := s.join("target", true)
	s.True(s.router.Teardown(s.ctx, target.sess, ReasonQuit))
	s.False(s.router.Teardown(s.ctx, target.sess, ReasonQuit))
	s.False(s.router.Teardown(s.ctx, nil, ReasonQuit))
}

func (s *RouterSuite) TestDirectDeliverUnavailable() {
	s.join("alice", true)
	err := s.router.DirectDeliver(s.ctx, "alice", "ghost", "hello")
	s.ErrorIs(err, merr.ErrRecipientUnavailable)
}

func (s *RouterSuite) TestDirectDeliverActiveRecipient() {
	s.join("alice", true)
	bob := s.join("bob", true)

	s.clock.Advance(30 * time.Second)
	s.NoError(s.router.DirectDeliver(s.ctx, "alice", "bob", "hello"))

	s.Equal([]string{"PRIVATE:alice:hello"}, bob.drain(50*time.Millisecond))
	s.Empty(s.registry.DrainMailbox("bob"))
}

func (s *RouterSuite) TestDirectDeliverIdleRecipient() {
	s.join("alice", true)
	bob := s.join("bob", true)

	s.clock.Advance(61 * time.Second)
	s.NoError(s.router.DirectDeliver(s.ctx, "alice", "bob", "hello"))

	s.Equal([]string{"PRIVATE:alice:hello"}, bob.drain(50*time.Millisecond))
	items := s.registry.DrainMailbox("bob")
	s.Len(items, 1)
	s.Equal("alice", items[0].From)
	s.Equal("hello", items[0].Body)
	s.Equal(s.clock.Now(), items[0].At)
}

func (s *RouterSuite) TestDirectDeliverFailedLiveStillDeferred() {
	s.join("alice", true)
	s.join("bob", false)

	s.clock.Advance(61 * time.Second)
	s.NoError(s.router.DirectDeliver(s.ctx, "alice", "bob", "hello"))

	s.Len(s.registry.DrainMailbox("bob"), 1)
	_, ok := s.registry.Lookup("bob")
	s.False(ok)
}

func (s *RouterSuite) TestDirectDeliverFailedLive() {
	s.join("alice", true)
	s.join("bob", false)

	err := s.router.DirectDeliver(s.ctx, "alice", "bob", "hello")
	s.ErrorIs(err, merr.ErrTransport)
	s.Empty(s.registry.DrainMailbox("bob"))
}

func (s *RouterSuite) TestTokens() {
	s.Equal("PRIVATE:alice:a:b", PrivateMessage("alice", "a:b"))
	s.Equal("STATUS_UPDATE:bob:online", StatusUpdate("bob", session.StatusOnline))
	s.True(strings.HasPrefix(TokenServerShutdown+"bye", "SERVER_SHUTDOWN:"))
}

func TestRouter(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
