package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/internal/network/connector"
	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

const (
	cmdQuit  = "/quit"
	cmdClear = "/clear"

	// 握手阶段的提示都以该后缀结尾，其余帧为结果或错误说明。
	promptSuffix = ": "
	successMark  = "successful"
)

// ErrStdinClosed 表示握手过程中标准输入已结束。
var ErrStdinClosed = errors.New("stdin closed")

// Client 是交互式终端聊天客户端。
type Client struct {
	log.Binder

	connector connector.Connector
	in        io.Reader
	out       io.Writer
	now       func() time.Time
}

// New 创建客户端，in/out 通常为标准输入与标准输出。
func New(c connector.Connector, in io.Reader, out io.Writer) *Client {
	return &Client{
		connector: c,
		in:        in,
		out:       out,
		now:       time.Now,
	}
}

// Run 连接 addr，完成握手后进入聊天循环，直到 /quit、服务器关闭或连接断开。
func (c *Client) Run(ctx context.Context, addr string) error {
	conn, err := c.connector.Dial(ctx, addr)
	if err != nil {
		c.printf("Could not connect to server at %s. Make sure the server is running.\n", addr)
		return err
	}
	defer conn.Close()
	c.printf("Connected to server at %s\n", addr)

	lines := c.readLines()
	if err := c.handshake(ctx, conn, lines); err != nil {
		return err
	}

	c.printf("=== Welcome to the Chat! ===\n")
	c.printf("Type /help to see available commands, /quit to leave\n\n")
	return c.chat(ctx, conn, lines)
}

// readLines 在独立协程中逐行读取输入，输入结束时关闭通道。
func (c *Client) readLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// handshake 把服务端的提示原样展示，并将用户输入逐条回传。
func (c *Client) handshake(ctx context.Context, conn connector.ClientConn, lines <-chan string) error {
	for {
		var frame string
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok = <-conn.Recv():
		}
		if !ok {
			c.printf("Authentication failed. Disconnecting...\n")
			if err := conn.Err(); err != nil {
				return err
			}
			return merr.WrapErrAuthFailed("", "server closed the connection during handshake")
		}

		if !strings.HasSuffix(frame, promptSuffix) {
			c.printf("%s\n", frame)
			if strings.Contains(strings.ToLower(frame), successMark) {
				return nil
			}
			continue
		}

		c.printf("%s", frame)
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			return ErrStdinClosed
		}
		if err := conn.Send(strings.TrimSpace(line)); err != nil {
			return err
		}
	}
}

// chat 是握手后的主循环。
func (c *Client) chat(ctx context.Context, conn connector.ClientConn, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			c.quit(conn)
			return nil

		case frame, ok := <-conn.Recv():
			if !ok {
				c.printf("Connection to server lost.\n")
				return conn.Err()
			}
			text, ev := Render(frame, c.now())
			switch ev {
			case EventClear:
				c.printf("%s", text)
			case EventShutdown:
				c.printf("\n%s\n", text)
				return nil
			default:
				c.printf("%s\n", text)
			}

		case line, ok := <-lines:
			if !ok {
				c.quit(conn)
				return nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				continue
			case cmdQuit:
				c.quit(conn)
				return nil
			case cmdClear:
				c.printf("%s", clearSequence)
				continue
			}
			if err := conn.Send(line); err != nil {
				c.printf("Server connection lost. Cannot send message.\n")
				return err
			}
		}
	}
}

// quit 通知服务端后关闭连接，发送失败说明连接已断开，忽略即可。
func (c *Client) quit(conn connector.ClientConn) {
	c.printf("Disconnecting from chat server...\n")
	if err := conn.Send(cmdQuit); err != nil {
		c.Logger().Debug("send quit failed", zap.Error(err))
	}
	_ = conn.Close()
}

func (c *Client) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
