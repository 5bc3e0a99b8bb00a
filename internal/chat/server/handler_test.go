package server

import (
	"context"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lk2023060901/danmu-chat/internal/auth"
	"github.com/lk2023060901/danmu-chat/internal/chat/router"
	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/metrics"
)

func (s *ServerSuite) TestHandshakeFailureClosesRawConnection() {
	server, client := net.Pipe()
	defer client.Close()
	sess := session.NewBaseSession(nil, session.NextID(), server, nil)
	teardowns := testutil.ToFloat64(metrics.Teardowns.WithLabelValues(router.ReasonRecv))

	go func() {
		f := framer.NewLengthPrefixedFramer(0)
		_ = client.SetDeadline(time.Now().Add(2 * time.Second))
		if got, err := f.ReadFrame(client); err != nil || got != auth.PromptMode {
			return
		}
		_ = f.WriteFrame(client, "login")
		_, _ = f.ReadFrame(client)
		client.Close()
	}()

	err := s.server.OnConnected(context.Background(), sess)
	s.Error(err)
	s.Error(sess.Context().Err(), "session should be closed")
	// 未经过 BeginClose，状态保持 Open。
	s.Equal(session.StateOpen, s.server.Registry().StateOf(sess))
	s.Equal(0, s.server.Registry().Count())
	s.Equal(teardowns, testutil.ToFloat64(metrics.Teardowns.WithLabelValues(router.ReasonRecv)))
}
