package auth

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// Store 是凭据存储，保存 username -> bcrypt 哈希。
//
// 实现要求：
//   - Get 在用户不存在时返回 merr.ErrUserNotFound；
//   - Create 必须是“不存在才写入”的原子操作，已存在时返回 merr.ErrUserExists；
//   - 存储本身的 IO 错误包装为 merr.ErrCredentialStoreIO。
type Store interface {
	Get(ctx context.Context, username string) (string, error)
	Create(ctx context.Context, username, hashed string) error
	Close() error
}

// DefaultAccount 是新建存储时写入的默认账号。
type DefaultAccount struct {
	Username string
	Password string
}

// DefaultAccounts 返回默认账号列表。
func DefaultAccounts() []DefaultAccount {
	return []DefaultAccount{
		{Username: "User1", Password: "pass123"},
		{Username: "User2", Password: "pass456"},
		{Username: "User3", Password: "pass789"},
	}
}

// hashDefaults 生成默认账号的哈希表。
func hashDefaults(cost int) (map[string]string, error) {
	users := make(map[string]string, len(DefaultAccounts()))
	for _, acc := range DefaultAccounts() {
		hashed, err := HashPassword(acc.Password, cost)
		if err != nil {
			return nil, err
		}
		users[acc.Username] = hashed
	}
	return users, nil
}

// Seed 将默认账号写入 s，已存在的账号保持不变。
func Seed(ctx context.Context, s Store, cost int) error {
	users, err := hashDefaults(cost)
	if err != nil {
		return err
	}
	errs := lo.FilterMap(lo.Keys(users), func(name string, _ int) (error, bool) {
		err := s.Create(ctx, name, users[name])
		return err, err != nil && !errors.Is(err, merr.ErrUserExists)
	})
	return merr.Combine(errs...)
}
