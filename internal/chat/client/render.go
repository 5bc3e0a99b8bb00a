package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/danmu-chat/internal/chat/router"
)

// Event 是渲染一帧后客户端需要执行的动作。
type Event int

const (
	EventNone Event = iota
	EventClear
	EventShutdown
)

// clearSequence 清屏并将光标移到左上角。
const clearSequence = "\033[H\033[2J"

// Render 将服务端发来的一帧转换为终端输出，控制令牌被解释为可读文本。
func Render(frame string, now time.Time) (string, Event) {
	ts := now.Format("15:04:05")

	switch {
	case frame == router.TokenClearScreen:
		return clearSequence, EventClear

	case strings.HasPrefix(frame, router.TokenServerShutdown):
		return fmt.Sprintf("*** %s ***", strings.TrimPrefix(frame, router.TokenServerShutdown)), EventShutdown

	case strings.HasPrefix(frame, router.TokenUserDisconnect):
		user := strings.TrimPrefix(frame, router.TokenUserDisconnect)
		return fmt.Sprintf("[%s] !!! %s has disconnected from the chat. !!!", ts, user), EventNone

	case strings.HasPrefix(frame, router.TokenStatusUpdate):
		user, status, ok := strings.Cut(strings.TrimPrefix(frame, router.TokenStatusUpdate), ":")
		if !ok {
			break
		}
		return fmt.Sprintf("[%s] * %s is now %s", ts, user, status), EventNone

	case strings.HasPrefix(frame, router.TokenPrivate):
		sender, body, ok := strings.Cut(strings.TrimPrefix(frame, router.TokenPrivate), ":")
		if !ok {
			break
		}
		return fmt.Sprintf("[%s] [PM from %s] %s", ts, sender, body), EventNone
	}
	return fmt.Sprintf("[%s] %s", ts, frame), EventNone
}
