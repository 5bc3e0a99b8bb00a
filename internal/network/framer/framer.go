package framer

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// Framer 抽象了文本消息的打包/解包能力。
//
// 约定：
//   - 一帧数据的格式为：4 字节大端无符号整型（表示后续 UTF-8 文本的字节数）+ 文本本身。
//   - 一帧即一条完整的逻辑消息，不会被合并或截断。
type Framer interface {
	// WriteFrame 将 msg 打包为一帧并写入到 w 中。
	WriteFrame(w io.Writer, msg string) error

	// ReadFrame 从 r 中读取一帧数据并返回其文本。
	ReadFrame(r io.Reader) (string, error)
}

// LengthPrefixedFramer 使用长度前缀（4 字节大端）作为帧边界。
type LengthPrefixedFramer struct {
	// MaxFrameSize 为允许的最大帧大小，单位字节。
	// 为 0 时使用默认值 DefaultMaxFrameSize。
	MaxFrameSize uint32
}

const (
	DefaultMaxFrameSize uint32 = 64 * 1024 // 64KB
	headerSize                 = 4
)

var _ Framer = (*LengthPrefixedFramer)(nil)

// NewLengthPrefixedFramer 创建一个长度前缀帧编码器。
// maxFrameSize 为 0 时使用默认值。
func NewLengthPrefixedFramer(maxFrameSize uint32) *LengthPrefixedFramer {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &LengthPrefixedFramer{
		MaxFrameSize: maxFrameSize,
	}
}

// WriteFrame 将文本编码为长度前缀帧并一次性写入，避免头部与正文被其他写者穿插。
func (f *LengthPrefixedFramer) WriteFrame(w io.Writer, msg string) error {
	length := uint32(len(msg))
	if length > f.effectiveMaxSize() {
		return merr.WrapErrProtocol("frame too large",
			errors.Newf("frame size %d exceeds max %d", length, f.effectiveMaxSize()).Error())
	}

	buf := make([]byte, headerSize+len(msg))
	binary.BigEndian.PutUint32(buf[:headerSize], length)
	copy(buf[headerSize:], msg)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "framer: write frame failed")
	}
	return nil
}

// ReadFrame 从流中读取一帧数据。
//
// 说明：
//   - 头部读取到 EOF 时原样返回 io.EOF，表示对端正常关闭；
//   - 长度超过上限时返回 merr.ErrProtocol，调用方应断开连接。
func (f *LengthPrefixedFramer) ReadFrame(r io.Reader) (string, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", errors.Wrap(err, "framer: read header failed")
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > f.effectiveMaxSize() {
		return "", merr.WrapErrProtocol("frame too large",
			errors.Newf("frame size %d exceeds max %d", length, f.effectiveMaxSize()).Error())
	}
	if length == 0 {
		return "", nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", errors.Wrap(err, "framer: read body failed")
	}
	return string(body), nil
}

func (f *LengthPrefixedFramer) effectiveMaxSize() uint32 {
	if f == nil || f.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return f.MaxFrameSize
}
