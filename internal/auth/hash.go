package auth

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// DefaultCost 为 bcrypt 默认计算强度。
const DefaultCost = bcrypt.DefaultCost

// HashPassword 使用 bcrypt 对密码加盐哈希。
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hashed), nil
}

// CheckPassword 比较明文密码与已存储的哈希，不匹配时返回 merr.ErrAuthFailed。
func CheckPassword(username, hashed, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
	if err != nil {
		return merr.WrapErrAuthFailed(username, err.Error())
	}
	return nil
}
