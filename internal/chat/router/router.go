package router

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/internal/chatlog"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-chat/pkg/util/conc"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
	"github.com/lk2023060901/danmu-chat/pkg/util/typeutil"
)

// 服务端发往客户端的控制令牌。
const (
	TokenClearScreen    = "CLEAR_SCREEN"
	TokenServerShutdown = "SERVER_SHUTDOWN:"
	TokenUserDisconnect = "USER_DISCONNECT:"
	TokenStatusUpdate   = "STATUS_UPDATE:"
	TokenPrivate        = "PRIVATE:"
)

// Teardown 的触发原因，用于日志与指标。
const (
	ReasonRecv      = "recv"
	ReasonQuit      = "quit"
	ReasonBroadcast = "broadcast"
	ReasonDirect    = "direct"
	ReasonShutdown  = "shutdown"
	ReasonReply     = "reply"
)

const (
	DefaultSendTimeout = time.Second
	DefaultWorkers     = 64
)

// PrivateMessage 构造发往接收方的私信令牌。
func PrivateMessage(sender, body string) string {
	return TokenPrivate + sender + ":" + body
}

// StatusUpdate 构造状态变更令牌。
func StatusUpdate(identity string, status session.Status) string {
	return fmt.Sprintf("%s%s:%s", TokenStatusUpdate, identity, status)
}

// Config 描述消息路由的投递参数。
type Config struct {
	// SendTimeout 为单个接收方一次写操作的超时。
	SendTimeout time.Duration
	// Workers 为广播扇出协程池的容量。
	Workers int
}

// Router 负责广播、定向投递以及唯一的断开流程 Teardown。
//
// 所有对连接索引的读写都经由 SessionManager 完成；Router 自身只在锁外做网络 IO。
type Router struct {
	log.Binder

	sessions    session.SessionManager
	sink        chatlog.Sink
	pool        *conc.Pool[any]
	sendTimeout time.Duration
}

// New 创建 Router。sink 为 nil 时丢弃聊天日志。
func New(sessions session.SessionManager, sink chatlog.Sink, cfg Config) (*Router, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if sink == nil {
		sink = chatlog.Discard
	}
	pool, err := conc.NewPool[any](cfg.Workers, conc.WithName("broadcast"), conc.WithConcealPanic(true))
	if err != nil {
		return nil, err
	}
	return &Router{
		sessions:    sessions,
		sink:        sink,
		pool:        pool,
		sendTimeout: cfg.SendTimeout,
	}, nil
}

// Close 释放广播协程池。
func (r *Router) Close() {
	r.pool.Release()
}

// SendTimeout 返回单次写超时。
func (r *Router) SendTimeout() time.Duration {
	return r.sendTimeout
}

// Broadcast 向除 exclude 以外的所有 Open 连接投递 body，返回成功投递的数量。
//
// 说明：
//   - 先取快照再在锁外扇出，每个接收方独立超时、独立失败；
//   - 失败的连接在整轮扇出结束后逐个交给 Teardown，而不是在遍历中处理；
//   - 接收方之间不保证顺序。
func (r *Router) Broadcast(ctx context.Context, body string, exclude session.Session) int {
	start := time.Now()
	metrics.Broadcasts.Inc()

	targets := lo.FilterMap(r.sessions.Snapshot(), func(e session.Entry, _ int) (session.Session, bool) {
		if exclude != nil && e.Session.ID() == exclude.ID() {
			return nil, false
		}
		return e.Session, r.sessions.StateOf(e.Session) == session.StateOpen
	})

	failed := typeutil.NewConcurrentSet[session.Session]()
	futures := make([]*conc.Future[any], 0, len(targets))
	for _, target := range targets {
		target := target
		futures = append(futures, r.pool.Submit(func() (any, error) {
			err := target.Send(body, r.sendTimeout)
			if err != nil && !errors.Is(err, merr.ErrSessionClosed) {
				failed.Insert(target)
				metrics.SendFailures.Inc()
				r.Logger().RatedWarn(1, "broadcast send failed",
					log.FieldConnID(target.ID()),
					log.FieldUser(target.Identity()),
					zap.Error(err))
			}
			return nil, err
		}))
	}
	_ = conc.AwaitAll(futures...)

	failures := failed.Collect()
	for _, sess := range failures {
		r.Teardown(ctx, sess, ReasonBroadcast)
	}

	metrics.BroadcastLatency.Observe(float64(time.Since(start).Milliseconds()))
	return len(targets) - len(failures)
}

// DirectDeliver 将 body 定向投递给 recipient。
//
// 说明：
//   - recipient 没有 Open 连接时返回 merr.ErrRecipientUnavailable；
//   - 接收方空闲超过 away 阈值时，消息额外追加到其信箱，与实时投递互不影响；
//   - 实时投递失败且消息未进入信箱时返回传输错误，接收方连接随后被 Teardown。
func (r *Router) DirectDeliver(ctx context.Context, sender, recipient, body string) error {
	target, ok := r.sessions.Lookup(recipient)
	if !ok {
		metrics.DirectDeliveries.WithLabelValues(metrics.UnavailableLabel).Inc()
		return merr.WrapErrRecipientUnavailable(recipient)
	}

	idle, _ := r.sessions.Idle(recipient)
	deferred := idle > r.sessions.AwayTimeout()
	now := r.sessions.Clock().Now()

	sendErr := target.Send(PrivateMessage(sender, body), r.sendTimeout)
	if deferred {
		r.sessions.AppendMail(recipient, session.MailItem{From: sender, Body: body, At: now})
		metrics.MailboxAppends.Inc()
	}

	if sendErr != nil {
		metrics.DirectDeliveries.WithLabelValues(metrics.FailLabel).Inc()
		log.Ctx(ctx).Warn("direct delivery failed",
			log.FieldUser(sender),
			zap.String("recipient", recipient),
			zap.Bool("deferred", deferred),
			zap.Error(sendErr))
		if !errors.Is(sendErr, merr.ErrSessionClosed) {
			r.Teardown(ctx, target, ReasonDirect)
		}
		if deferred {
			return nil
		}
		return sendErr
	}
	metrics.DirectDeliveries.WithLabelValues(metrics.SuccessLabel).Inc()
	return nil
}

// Reply 向单个连接发送回复；失败时 Teardown 该连接并返回错误。
func (r *Router) Reply(ctx context.Context, sess session.Session, msg string) error {
	err := sess.Send(msg, r.sendTimeout)
	if err != nil && !errors.Is(err, merr.ErrSessionClosed) {
		log.Ctx(ctx).Debug("reply failed", log.FieldConnID(sess.ID()), zap.Error(err))
		r.Teardown(ctx, sess, ReasonReply)
	}
	return err
}

// Teardown 是唯一且幂等的断开流程，返回本次调用是否真正执行了关闭。
//
// 流程：
//  1. 在锁内 Open -> Closing，并发调用方中只有一个能继续；
//  2. 半关闭写方向，然后关闭连接；
//  3. Closing -> Closed，并从索引中移除；
//  4. 向剩余用户广播 USER_DISCONNECT。
//
// 任一步骤失败都只记录日志，状态推进一定会完成。
func (r *Router) Teardown(ctx context.Context, sess session.Session, reason string) bool {
	if sess == nil || !r.sessions.BeginClose(sess) {
		return false
	}
	logger := log.Ctx(ctx).With(log.FieldConnID(sess.ID()), zap.String("reason", reason))

	if err := sess.Shutdown(); err != nil {
		logger.Debug("shutdown stream failed", zap.Error(err))
	}
	if err := sess.Close(); err != nil {
		logger.Debug("close stream failed", zap.Error(err))
	}
	r.sessions.FinishClose(sess)
	metrics.Teardowns.WithLabelValues(reason).Inc()

	identity, ok := r.sessions.Unregister(sess)
	if !ok {
		logger.Info("connection closed")
		return true
	}

	remaining := r.sessions.Count()
	logger.Info("user disconnected", log.FieldUser(identity), zap.Int("remaining", remaining))
	r.sink.Append(fmt.Sprintf("%s has disconnected.", identity))
	if remaining == 0 {
		r.sink.Append(fmt.Sprintf("Last user (%s) has disconnected. Server is now empty.", identity))
	} else {
		r.sink.Append(fmt.Sprintf("Server has %d active %s remaining", remaining, lo.Ternary(remaining == 1, "user", "users")))
	}

	r.Broadcast(ctx, TokenUserDisconnect+identity, nil)
	return true
}
