package network

import (
	"io"
	"net"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在日志中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAccept    Stage = "accept"
	StageDial      Stage = "dial"
	StageHandshake Stage = "handshake"
	StageRecv      Stage = "recv"     // 读取一帧
	StageDispatch  Stage = "dispatch" // 帧 -> 命令解释器/广播
	StageSend      Stage = "send"     // 写出一帧
	StageClose     Stage = "close"
)

// ErrFrameStalled 表示帧已开始但剩余部分未能在时限内到达。
// 此时流已失步，连接只能关闭。
var ErrFrameStalled = errors.New("frame stalled")

// Transport 将底层 IO 错误按阶段包装为 merr.ErrTransport。
func Transport(stage Stage, err error) error {
	return merr.WrapErrTransport(string(stage), err)
}

// IsTimeout 判断错误是否为读写超时（deadline 到期）。
// 接收循环依赖它区分“轮询超时”和真正的连接错误。
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed 判断错误是否表示对端关闭或本端连接已关闭。
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.IsAny(err, io.EOF, io.ErrUnexpectedEOF, net.ErrClosed, io.ErrClosedPipe)
}
