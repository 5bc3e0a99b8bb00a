package auth

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// 需要真实 redis：设置 CHAT_TEST_REDIS_ADDR 后运行。
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := DialRedisStore(ctx, addr, "chat-test:user:")
	require.NoError(t, err)
	defer s.Close()
	defer s.cli.Del(ctx, s.key("carol"))

	exerciseStore(t, s)
}

func TestRedisStoreUnreachable(t *testing.T) {
	cli := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	s := NewRedisStore(cli, "")
	defer s.Close()

	_, err := s.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, merr.ErrCredentialStoreIO)
	assert.True(t, merr.IsRetryableErr(err))
}
