package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	msgrouter "github.com/lk2023060901/danmu-chat/internal/chat/router"
	netrouter "github.com/lk2023060901/danmu-chat/internal/network/router"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

const helpText = "=== Chat Server Commands ===\n\n" +
	"Basic Commands:\n" +
	"  /help - Show this help message\n" +
	"  /users - List all online users with their status\n" +
	"  /time - Show current server time\n" +
	"  /quit - Disconnect from the server\n" +
	"  /clear - Clear the chat screen\n\n" +
	"Messaging Commands:\n" +
	"  /pm <username> <message> - Send private message\n" +
	"  /broadcast <message> - Send message to all users\n" +
	"  /me <action> - Send an action message (e.g., /me waves)\n\n" +
	"Status Commands:\n" +
	"  /status - Show your current status\n" +
	"  /whois <username> - Show user's last seen time\n" +
	"  /unread - Show unread messages\n\n" +
	"Status Indicators:\n" +
	"  away - User inactive for 1-5 minutes\n" +
	"  inactive - User inactive for more than 5 minutes\n" +
	"  online - User is currently active"

func (it *Interpreter) registerAll() error {
	routes := map[string]netrouter.Route{
		"help":      {Handler: it.help},
		"users":     {Handler: it.users},
		"time":      {Handler: it.serverTime},
		"quit":      {Handler: it.quit},
		"clear":     {Handler: it.clearScreen},
		"pm":        {Handler: it.privateMessage, Usage: "Usage: /pm <username> <message>"},
		"status":    {Handler: it.status},
		"whois":     {Handler: it.whois, Usage: "Usage: /whois <username>"},
		"broadcast": {Handler: it.broadcast, Usage: "Usage: /broadcast <message>"},
		"me":        {Handler: it.action, Usage: "Usage: /me <action>"},
		"unread":    {Handler: it.unread},
	}
	for verb, route := range routes {
		if err := it.table.Register(verb, route); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interpreter) help(ctx context.Context, sess session.Session, _ string) error {
	return it.reply(ctx, sess, helpText)
}

// users 列出快照中的全部用户及其状态，状态由快照内的活跃时间推导，人数与行数一致。
func (it *Interpreter) users(ctx context.Context, sess session.Session, _ string) error {
	snapshot := it.sessions.Snapshot()
	now := it.sessions.Clock().Now()
	away, inactive := it.sessions.AwayTimeout(), it.sessions.InactiveTimeout()
	lines := lo.Map(snapshot, func(e session.Entry, _ int) string {
		status := session.DeriveStatus(now.Sub(e.LastActive), away, inactive)
		return fmt.Sprintf("%s (%s)", e.Identity, status)
	})
	msg := fmt.Sprintf("Online users (%d):\n%s", len(snapshot), strings.Join(lines, "\n"))
	return it.reply(ctx, sess, msg)
}

func (it *Interpreter) serverTime(ctx context.Context, sess session.Session, _ string) error {
	now := it.sessions.Clock().Now()
	return it.reply(ctx, sess, "Current server time: "+now.Format(timeLayout))
}

func (it *Interpreter) quit(ctx context.Context, sess session.Session, _ string) error {
	_ = it.reply(ctx, sess, "Goodbye!")
	it.router.Teardown(ctx, sess, msgrouter.ReasonQuit)
	return nil
}

func (it *Interpreter) clearScreen(ctx context.Context, sess session.Session, _ string) error {
	return it.reply(ctx, sess, msgrouter.TokenClearScreen)
}

func (it *Interpreter) privateMessage(ctx context.Context, sess session.Session, args string) error {
	recipient, body, ok := strings.Cut(strings.TrimLeft(args, " "), " ")
	if !ok || recipient == "" || body == "" {
		return errUsage
	}

	err := it.router.DirectDeliver(ctx, sess.Identity(), recipient, body)
	if err != nil {
		if !errors.IsAny(err, merr.ErrRecipientUnavailable, merr.ErrTransport, merr.ErrSessionClosed) {
			return err
		}
		return it.reply(ctx, sess, "Could not send message to "+recipient)
	}
	return it.reply(ctx, sess, "Message sent to "+recipient)
}

func (it *Interpreter) status(ctx context.Context, sess session.Session, _ string) error {
	status, ok := it.sessions.StatusOf(sess.Identity())
	if !ok {
		return merr.WrapErrSessionNotFound(sess.ID(), "status")
	}
	text := string(status)
	if status == session.StatusOnline {
		text = "active"
	}
	return it.reply(ctx, sess, "Your current status: "+text)
}

func (it *Interpreter) whois(ctx context.Context, sess session.Session, args string) error {
	target := strings.TrimSpace(args)
	if target == "" {
		return errUsage
	}

	ts, status, ok := it.sessions.LastSeen(target)
	if !ok {
		return it.reply(ctx, sess, fmt.Sprintf("User %s not found", target))
	}
	text := string(status)
	if status == session.StatusOnline {
		text = "currently online"
	}
	return it.reply(ctx, sess, fmt.Sprintf("%s was last seen %s at %s", target, text, ts.Format(timeLayout)))
}

func (it *Interpreter) broadcast(ctx context.Context, sess session.Session, args string) error {
	msg := strings.TrimSpace(args)
	if msg == "" {
		return errUsage
	}
	it.router.Broadcast(ctx, fmt.Sprintf("BROADCAST from %s: %s", sess.Identity(), msg), nil)
	return it.reply(ctx, sess, "Broadcast message sent")
}

func (it *Interpreter) action(ctx context.Context, sess session.Session, args string) error {
	act := strings.TrimSpace(args)
	if act == "" {
		return errUsage
	}
	it.router.Broadcast(ctx, fmt.Sprintf("* %s %s", sess.Identity(), act), nil)
	return nil
}

func (it *Interpreter) unread(ctx context.Context, sess session.Session, _ string) error {
	items := it.sessions.DrainMailbox(sess.Identity())
	if len(items) == 0 {
		return it.reply(ctx, sess, "No unread messages")
	}

	var b strings.Builder
	b.WriteString("Unread messages:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "[%s] From %s: %s\n", item.At.Format(timeLayout), item.From, item.Body)
	}
	return it.reply(ctx, sess, b.String())
}
