package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-chat/internal/network"
	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

func TestSendRecv(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sess := NewBaseSession(nil, NextID(), server, nil)
	defer sess.Close()
	peer := NewBaseSession(nil, NextID(), client, nil)

	go func() {
		_ = sess.Send("hello", time.Second)
	}()
	msg, err := peer.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg)
}

func TestRecvPollTimeoutKeepsStream(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sess := NewBaseSession(nil, NextID(), server, nil)
	defer sess.Close()

	_, err := sess.Recv(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, network.IsTimeout(err))

	go func() {
		_ = framer.NewLengthPrefixedFramer(0).WriteFrame(client, "after timeout")
	}()
	msg, err := sess.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "after timeout", msg)
}

func TestRecvStalledFrameFails(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sess := NewBaseSession(nil, NextID(), server, nil)
	defer sess.Close()

	// 只写入长度前缀的第一个字节后停住。
	go func() {
		_, _ = client.Write([]byte{0})
	}()

	start := time.Now()
	_, err := sess.Recv(50 * time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, network.ErrFrameStalled)
	assert.False(t, network.IsTimeout(err))
}

func TestRecvPeerClosed(t *testing.T) {
	server, client := net.Pipe()
	sess := NewBaseSession(nil, NextID(), server, nil)
	defer sess.Close()

	client.Close()
	_, err := sess.Recv(time.Second)
	require.Error(t, err)
	assert.True(t, network.IsClosed(err))
}

func TestSendTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sess := NewBaseSession(nil, NextID(), server, nil)
	defer sess.Close()

	// 对端不读取，net.Pipe 的写操作会阻塞直到超时。
	err := sess.Send("stalled", 20*time.Millisecond)
	assert.ErrorIs(t, err, merr.ErrTransport)
}

func TestSendAfterClosing(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sess := NewBaseSession(nil, NextID(), server, nil)
	require.True(t, sess.casState(StateOpen, StateClosing))
	assert.ErrorIs(t, sess.Send("x", time.Second), merr.ErrSessionClosed)
}

func TestCloseIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sess := NewBaseSession(nil, NextID(), server, nil)
	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())
	assert.Error(t, sess.Context().Err())
	assert.NoError(t, sess.Shutdown())
}
