package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/internal/auth"
	msgrouter "github.com/lk2023060901/danmu-chat/internal/chat/router"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/log"
)

// OnConnected 实现 acceptor.Handler：握手、注册并宣布加入。
func (s *Server) OnConnected(ctx context.Context, sess session.Session) error {
	res, err := s.gateway.Handshake(ctx, sess, s.admit)
	if err != nil {
		if sess.Identity() == "" {
			// 尚未进入索引，直接关闭原始连接。
			_ = sess.Close()
		} else {
			// 已注册但回复失败，走 Teardown 清理索引。
			s.router.Teardown(ctx, sess, msgrouter.ReasonRecv)
		}
		return err
	}

	identity := res.Identity
	if res.Mode == auth.ModeRegister {
		s.sink.Append(fmt.Sprintf("New user registered: %s", identity))
	}
	s.sink.Append(fmt.Sprintf("%s connected.", identity))
	log.Ctx(ctx).Info("user joined",
		log.FieldUser(identity),
		zap.String("mode", res.Mode),
		zap.Int("online", s.registry.Count()))

	s.router.Broadcast(ctx, fmt.Sprintf("%s has joined the chat.", identity), sess)
	s.router.Broadcast(ctx, msgrouter.StatusUpdate(identity, session.StatusOnline), sess)
	return nil
}

// OnMessage 实现 acceptor.Handler。
func (s *Server) OnMessage(ctx context.Context, sess session.Session, msg string) {
	s.interp.HandleLine(ctx, sess, msg)
}

// OnClosed 实现 acceptor.Handler。
func (s *Server) OnClosed(ctx context.Context, sess session.Session, _ error) {
	s.router.Teardown(ctx, sess, msgrouter.ReasonRecv)
}
