package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/internal/network"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// 握手阶段的提示与回复文本。
const (
	PromptMode        = "Enter 'login' or 'register': "
	PromptUsername    = "Enter username: "
	PromptNewUsername = "Enter new username: "
	PromptPassword    = "Enter password: "

	ReplyLoginOK         = "Authentication successful! Welcome to the chat.\nType /help for available commands."
	ReplyRegisteredFmt   = "Registration successful! Welcome %s."
	ReplyAuthFailed      = "Authentication failed. Disconnecting..."
	ReplyUserExists      = "Username already exists. Try again."
	ReplyUserTaken       = "Username was just taken. Please try another username."
	ReplyAlreadyLoggedIn = "This account is already logged in elsewhere."
	ReplyRegisterError   = "An error occurred during registration. Please try again."
)

// 握手模式。
const (
	ModeLogin    = "login"
	ModeRegister = "register"
)

// Admit 在凭据校验通过后将 identity 绑定到 sess。
// 返回 merr.ErrDuplicateIdentity 时握手以“已在别处登录”结束。
type Admit func(sess session.Session, identity string) error

// Result 是一次成功握手的结果。
type Result struct {
	Identity string
	Mode     string
}

// Gateway 在连接进入聊天前完成登录或注册。
//
// 每次读取都受 handshake 超时约束；任何失败都会先给客户端一条说明，
// 然后返回错误，由调用方关闭连接。
type Gateway struct {
	log.Binder

	store   Store
	timeout time.Duration
	cost    int
}

// NewGateway 创建认证网关。
func NewGateway(store Store, cfg Config) *Gateway {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Gateway{
		store:   store,
		timeout: timeout,
		cost:    cfg.Cost,
	}
}

// Handshake 执行完整的握手流程，成功时 sess 已经通过 admit 完成注册。
func (g *Gateway) Handshake(ctx context.Context, sess session.Session, admit Admit) (Result, error) {
	if err := g.say(sess, PromptMode); err != nil {
		return Result{}, err
	}
	choice, err := g.read(sess)
	if err != nil {
		return Result{}, err
	}

	mode := ModeLogin
	if strings.ToLower(choice) == ModeRegister {
		mode = ModeRegister
	}

	var identity string
	if mode == ModeRegister {
		identity, err = g.register(ctx, sess, admit)
	} else {
		identity, err = g.login(ctx, sess, admit)
	}
	if err != nil {
		metrics.Handshakes.WithLabelValues(mode, metrics.FailLabel).Inc()
		g.Logger().Info("handshake failed",
			log.FieldConnID(sess.ID()),
			zap.String("mode", mode),
			zap.Error(err))
		return Result{}, err
	}
	metrics.Handshakes.WithLabelValues(mode, metrics.SuccessLabel).Inc()
	return Result{Identity: identity, Mode: mode}, nil
}

func (g *Gateway) login(ctx context.Context, sess session.Session, admit Admit) (string, error) {
	username, err := g.ask(sess, PromptUsername, "username", usernameProblem)
	if err != nil {
		return "", err
	}
	password, err := g.ask(sess, PromptPassword, "password", passwordProblem)
	if err != nil {
		return "", err
	}

	hashed, err := g.store.Get(ctx, username)
	if err == nil {
		err = CheckPassword(username, hashed, password)
	}
	if err != nil {
		_ = g.say(sess, ReplyAuthFailed)
		if errors.Is(err, merr.ErrUserNotFound) {
			return "", merr.WrapErrAuthFailed(username, "unknown user")
		}
		return "", err
	}

	if err := g.admit(sess, username, admit); err != nil {
		return "", err
	}
	if err := g.say(sess, ReplyLoginOK); err != nil {
		return "", err
	}
	return username, nil
}

func (g *Gateway) register(ctx context.Context, sess session.Session, admit Admit) (string, error) {
	username, err := g.ask(sess, PromptNewUsername, "username", usernameProblem)
	if err != nil {
		return "", err
	}

	_, err = g.store.Get(ctx, username)
	switch {
	case err == nil:
		_ = g.say(sess, ReplyUserExists)
		return "", merr.WrapErrUserExists(username)
	case !errors.Is(err, merr.ErrUserNotFound):
		_ = g.say(sess, ReplyRegisterError)
		return "", err
	}

	password, err := g.ask(sess, PromptPassword, "password", passwordProblem)
	if err != nil {
		return "", err
	}
	hashed, err := HashPassword(password, g.cost)
	if err != nil {
		_ = g.say(sess, ReplyRegisterError)
		return "", err
	}
	if err := g.store.Create(ctx, username, hashed); err != nil {
		if errors.Is(err, merr.ErrUserExists) {
			_ = g.say(sess, ReplyUserTaken)
		} else {
			_ = g.say(sess, ReplyRegisterError)
		}
		return "", err
	}

	if err := g.say(sess, fmt.Sprintf(ReplyRegisteredFmt, username)); err != nil {
		return "", err
	}
	if err := g.admit(sess, username, admit); err != nil {
		return "", err
	}
	return username, nil
}

func (g *Gateway) admit(sess session.Session, username string, admit Admit) error {
	if admit == nil {
		return nil
	}
	err := admit(sess, username)
	if errors.Is(err, merr.ErrDuplicateIdentity) {
		_ = g.say(sess, ReplyAlreadyLoggedIn)
	}
	return err
}

// ask 发送提示并读取一行，problem 返回非空时回复原因并结束握手。
func (g *Gateway) ask(sess session.Session, prompt, field string, problem func(string) string) (string, error) {
	if err := g.say(sess, prompt); err != nil {
		return "", err
	}
	value, err := g.read(sess)
	if err != nil {
		return "", err
	}
	if reason := problem(value); reason != "" {
		_ = g.say(sess, "Invalid "+field+": "+reason)
		return "", merr.WrapErrInvalidCredential(field, reason)
	}
	return value, nil
}

func (g *Gateway) say(sess session.Session, msg string) error {
	return sess.Send(msg, g.timeout)
}

func (g *Gateway) read(sess session.Session) (string, error) {
	line, err := sess.Recv(g.timeout)
	if err != nil {
		return "", network.Transport(network.StageHandshake, err)
	}
	return strings.TrimSpace(line), nil
}
