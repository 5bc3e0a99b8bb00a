package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	msgrouter "github.com/lk2023060901/danmu-chat/internal/chat/router"
	"github.com/lk2023060901/danmu-chat/internal/chatlog"
	netrouter "github.com/lk2023060901/danmu-chat/internal/network/router"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// Marker 是命令行的前缀。
const Marker = "/"

const (
	replyGenericError = "Error processing command. Please try again."
	replyUnknownFmt   = "Unknown command: %s%s. Type /help for available commands."
	timeLayout        = "2006-01-02 15:04:05"
	tracerName        = "chat.command"
)

// errUsage 表示参数个数或格式不合法，由分发边界转换为 Route.Usage 回复。
var errUsage = merr.WrapErrParameterInvalidMsg("command usage")

// Interpreter 解析每一行输入并分发到对应的处理函数。
//
// 以 Marker 开头的行为命令：动词不区分大小写，参数保持原样；
// 其余行为普通聊天，记录到聊天日志后广播给除发送者外的所有人。
type Interpreter struct {
	log.Binder

	sessions session.SessionManager
	router   *msgrouter.Router
	sink     chatlog.Sink
	table    netrouter.Router
}

// New 创建命令解释器并注册全部动词。
func New(sessions session.SessionManager, router *msgrouter.Router, sink chatlog.Sink) (*Interpreter, error) {
	if sink == nil {
		sink = chatlog.Discard
	}
	it := &Interpreter{
		sessions: sessions,
		router:   router,
		sink:     sink,
		table:    netrouter.New(),
	}
	if err := it.registerAll(); err != nil {
		return nil, err
	}
	return it, nil
}

// Verbs 返回已注册的动词。
func (it *Interpreter) Verbs() []string {
	return it.table.Verbs()
}

// HandleLine 处理 sess 发来的一行输入。
//
// 命令处理失败只会给发送者回复错误信息，连接本身不会因此被断开。
func (it *Interpreter) HandleLine(ctx context.Context, sess session.Session, line string) {
	identity := sess.Identity()
	it.sessions.Touch(identity)

	if strings.TrimSpace(line) == "" {
		return
	}
	if !strings.HasPrefix(line, Marker) {
		it.chat(ctx, sess, identity, line)
		return
	}

	verb, args := parse(line)
	it.dispatch(ctx, sess, verb, args)
}

// parse 将 "/Verb rest of line" 拆成小写动词和原样参数。
func parse(line string) (string, string) {
	body := strings.TrimPrefix(line, Marker)
	verb, args, _ := strings.Cut(body, " ")
	return strings.ToLower(strings.TrimSpace(verb)), args
}

func (it *Interpreter) chat(ctx context.Context, sess session.Session, identity, line string) {
	formatted := fmt.Sprintf("%s: %s", identity, line)
	it.sink.Append(formatted)
	it.router.Broadcast(ctx, formatted, sess)
}

func (it *Interpreter) dispatch(ctx context.Context, sess session.Session, verb, args string) {
	ctx, span := log.NewIntentContext(ctx, tracerName, verb)
	defer span.End()
	span.SetAttributes(attribute.String("user", sess.Identity()))

	route, known := it.table.Lookup(verb)
	if !known {
		metrics.Commands.WithLabelValues("unknown", metrics.FailLabel).Inc()
		it.reply(ctx, sess, fmt.Sprintf(replyUnknownFmt, Marker, verb))
		return
	}

	err := it.table.Handle(ctx, sess, verb, args)
	switch {
	case err == nil:
		metrics.Commands.WithLabelValues(verb, metrics.SuccessLabel).Inc()
	case errors.Is(err, merr.ErrParameterInvalid):
		metrics.Commands.WithLabelValues(verb, metrics.FailLabel).Inc()
		it.reply(ctx, sess, route.Usage)
	case errors.IsAny(err, merr.ErrSessionClosed, merr.ErrTransport):
		// 回复失败时连接已经进入 Teardown。
		metrics.Commands.WithLabelValues(verb, metrics.FailLabel).Inc()
	default:
		metrics.Commands.WithLabelValues(verb, metrics.FailLabel).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Ctx(ctx).Error("command failed",
			log.FieldConnID(sess.ID()),
			log.FieldUser(sess.Identity()),
			zap.Error(err))
		it.sink.Append(fmt.Sprintf("Command error (%s): %v", sess.Identity(), err))
		it.reply(ctx, sess, replyGenericError)
	}
}

func (it *Interpreter) reply(ctx context.Context, sess session.Session, msg string) error {
	return it.router.Reply(ctx, sess, msg)
}
