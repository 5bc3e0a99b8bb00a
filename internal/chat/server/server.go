package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/danmu-chat/internal/auth"
	"github.com/lk2023060901/danmu-chat/internal/chat/command"
	msgrouter "github.com/lk2023060901/danmu-chat/internal/chat/router"
	"github.com/lk2023060901/danmu-chat/internal/chatlog"
	"github.com/lk2023060901/danmu-chat/internal/network/acceptor"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/internal/util/sessionutil"
	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
	"github.com/lk2023060901/danmu-chat/pkg/util/retry"
)

// ShutdownNotice 是关闭时发送给每个在线连接的通知。
const ShutdownNotice = msgrouter.TokenServerShutdown + "Server is shutting down. Goodbye!"

// Option 定制 Server 的可替换组件，主要用于测试。
type Option func(*options)

type options struct {
	clock   session.Clock
	store   auth.Store
	sink    chatlog.Sink
	loggers func(name string) *log.MLogger
}

// WithClock 替换推导在线状态所用的时钟。
func WithClock(c session.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStore 使用外部提供的凭据存储，Server 关闭时仍会调用其 Close。
func WithStore(s auth.Store) Option {
	return func(o *options) { o.store = s }
}

// WithSink 使用外部提供的聊天日志。
func WithSink(s chatlog.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithLoggers 为各组件提供命名日志，name 取值为 server、registry、router、
// command、auth、acceptor 与 presence。返回 nil 时回退到全局日志。
func WithLoggers(lookup func(name string) *log.MLogger) Option {
	return func(o *options) { o.loggers = lookup }
}

// Server 将接入层、会话索引、消息路由、命令解释器与认证网关组装在一起。
//
// 生命周期：New -> Start（绑定端口）-> Run（阻塞）-> Shutdown。
type Server struct {
	log.Binder

	cfg    Config
	signal *acceptor.ShutdownSignal

	registry *session.Registry
	router   *msgrouter.Router
	interp   *command.Interpreter
	gateway  *auth.Gateway
	store    auth.Store
	sink     chatlog.Sink
	acceptor *acceptor.BaseAcceptor
	presence *sessionutil.Session
	loggers  func(name string) *log.MLogger

	shutdownOnce sync.Once
	done         chan struct{}
}

var _ acceptor.Handler = (*Server)(nil)

// New 创建服务器及其全部组件，不绑定端口。
func New(ctx context.Context, cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{clock: session.RealClock()}
	for _, opt := range opts {
		opt(o)
	}
	metrics.Register(prometheus.DefaultRegisterer)

	sink := o.sink
	if sink == nil {
		var err error
		if sink, err = chatlog.Open(cfg.ChatLog); err != nil {
			return nil, err
		}
	}
	store := o.store
	if store == nil {
		var err error
		if store, err = auth.OpenStore(ctx, cfg.Auth); err != nil {
			return nil, err
		}
	}

	registry := session.NewRegistry(
		session.WithClock(o.clock),
		session.WithTimeouts(cfg.AwayTimeout, cfg.InactiveTimeout))
	router, err := msgrouter.New(registry, sink, msgrouter.Config{
		SendTimeout: cfg.SendTimeout,
		Workers:     cfg.BroadcastWorkers,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	interp, err := command.New(registry, router, sink)
	if err != nil {
		router.Close()
		_ = store.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		signal:   &acceptor.ShutdownSignal{},
		registry: registry,
		router:   router,
		interp:   interp,
		gateway:  auth.NewGateway(store, cfg.Auth),
		store:    store,
		sink:     sink,
		loggers:  o.loggers,
		done:     make(chan struct{}),
	}
	s.SetLogger(s.moduleLogger("server"))
	registry.SetLogger(s.moduleLogger("registry"))
	router.SetLogger(s.moduleLogger("router"))
	interp.SetLogger(s.moduleLogger("command"))
	s.gateway.SetLogger(s.moduleLogger("auth"))
	return s, nil
}

func (s *Server) moduleLogger(name string) *log.MLogger {
	if s.loggers != nil {
		if lg := s.loggers(name); lg != nil {
			return lg
		}
	}
	return log.With(log.FieldModule(name))
}

// Start 绑定监听端口，失败时按 BindAttempts 重试。
func (s *Server) Start(ctx context.Context) error {
	if s.acceptor != nil {
		return nil
	}
	attempts := s.cfg.BindAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var a *acceptor.BaseAcceptor
	err := retry.Do(ctx, func() error {
		var err error
		a, err = acceptor.NewTCPAcceptor(s.cfg.Addr(), s.signal, acceptor.Config{
			PollInterval: s.cfg.PollInterval,
			MaxFrameSize: s.cfg.MaxFrameSize,
		})
		return err
	}, retry.Attempts(uint(attempts)), retry.Sleep(200*time.Millisecond))
	if err != nil {
		return errors.Wrapf(err, "bind %s", s.cfg.Addr())
	}

	a.SetLogger(s.moduleLogger("acceptor"))
	s.acceptor = a
	s.sink.Append(fmt.Sprintf("Server started on %s", a.Addr()))
	s.Logger().Info("server started", zap.Stringer("addr", a.Addr()))
	s.announce(ctx)
	return nil
}

// announce 在 etcd 中登记本实例，失败只记录日志。
func (s *Server) announce(ctx context.Context) {
	if !s.cfg.Announce {
		return
	}
	es, ok := s.store.(*auth.EtcdStore)
	if !ok {
		s.Logger().Warn("server.announce requires the etcd credential store, skipped")
		return
	}
	p := sessionutil.NewSession(es.Client(), sessionutil.DefaultPrefix, s.acceptor.Addr().String(), sessionutil.DefaultTTL)
	p.SetLogger(s.moduleLogger("presence"))
	if err := p.Register(ctx); err != nil {
		s.Logger().Warn("announce server failed", zap.Error(err))
		return
	}
	s.presence = p
}

// Addr 返回实际监听地址，Start 之前为 nil。
func (s *Server) Addr() net.Addr {
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// Registry 返回会话索引。
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Done 在关闭流程结束后被关闭。
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Run 启动接入循环与可选的指标端点，阻塞直到关闭流程结束。
// ctx 取消会触发 Shutdown。
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.acceptor.Serve(gctx, s)
	})
	if s.cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              s.cfg.MetricsAddr,
			Handler:           metrics.Handler(prometheus.DefaultGatherer),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.Logger().Info("metrics endpoint listening", zap.String("addr", s.cfg.MetricsAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-s.done:
			}
			return srv.Close()
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.Shutdown(context.Background())
		case <-s.done:
		}
		return nil
	})

	err := g.Wait()
	s.Shutdown(context.Background())
	return err
}

// Shutdown 执行关闭流程，多次调用只执行一次，后来者等待其完成。
//
// 流程：
//  1. 置位关闭信号并关闭 listener，此后不再接纳新连接；
//  2. 向所有在线连接发送关闭通知，然后逐个 Teardown；
//  3. 在 ShutdownGrace 内等待 worker 退出；
//  4. 再清理一次期间完成注册的连接，最后释放资源。
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		defer close(s.done)

		s.signal.Raise()
		s.Logger().Info("server shutting down", zap.Int("sessions", s.registry.Count()))
		s.sink.Append("Server shutting down...")
		if s.acceptor != nil {
			_ = s.acceptor.Close()
		}
		if s.presence != nil {
			if err := s.presence.Stop(ctx); err != nil {
				s.Logger().Warn("withdraw server announcement failed", zap.Error(err))
			}
		}

		s.farewell(ctx)
		if s.acceptor != nil && !s.acceptor.Wait(s.cfg.ShutdownGrace) {
			s.Logger().Warn("workers still running after grace period", zap.Duration("grace", s.cfg.ShutdownGrace))
		}
		s.farewell(ctx)

		s.router.Close()
		if err := s.store.Close(); err != nil {
			s.Logger().Warn("close credential store failed", zap.Error(err))
		}
		if c, ok := s.sink.(io.Closer); ok {
			_ = c.Close()
		}
		s.Logger().Info("server stopped")
	})
	<-s.done
}

// farewell 先向所有在线连接广播关闭通知，再逐个 Teardown。
func (s *Server) farewell(ctx context.Context) {
	if s.registry.Count() == 0 {
		return
	}
	s.router.Broadcast(ctx, ShutdownNotice, nil)
	for _, e := range s.registry.Snapshot() {
		s.router.Teardown(ctx, e.Session, msgrouter.ReasonShutdown)
	}
}

// admit 在握手成功后注册连接，关闭流程开始后拒绝新的注册。
func (s *Server) admit(sess session.Session, identity string) error {
	if s.signal.Raised() {
		return merr.WrapErrServiceShuttingDown()
	}
	return s.registry.Register(sess, identity)
}
