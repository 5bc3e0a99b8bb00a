package auth

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// DefaultRedisPrefix 为 redis 中凭据键的默认前缀。
const DefaultRedisPrefix = "chat:user:"

// RedisStore 将凭据保存为 <prefix><username> 字符串键。
type RedisStore struct {
	cli    redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建存储；Close 会关闭 cli。
func NewRedisStore(cli redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{cli: cli, prefix: prefix}
}

// DialRedisStore 按地址创建客户端并检查连通性。
func DialRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: dialTimeout,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, merr.WrapErrCredentialStoreIO(addr, err)
	}
	return NewRedisStore(cli, prefix), nil
}

func (s *RedisStore) key(username string) string {
	return s.prefix + username
}

// Get 实现 Store.Get。
func (s *RedisStore) Get(ctx context.Context, username string) (string, error) {
	key := s.key(username)
	val, err := s.cli.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", merr.WrapErrUserNotFound(username)
		}
		return "", merr.WrapErrCredentialStoreIO(key, err)
	}
	return val, nil
}

// Create 实现 Store.Create，依赖 SETNX 的原子性。
func (s *RedisStore) Create(ctx context.Context, username, hashed string) error {
	key := s.key(username)
	ok, err := s.cli.SetNX(ctx, key, hashed, 0).Result()
	if err != nil {
		return merr.WrapErrCredentialStoreIO(key, err)
	}
	if !ok {
		return merr.WrapErrUserExists(username)
	}
	return nil
}

// Close 实现 Store.Close。
func (s *RedisStore) Close() error {
	return s.cli.Close()
}
