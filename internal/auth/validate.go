package auth

import (
	"strings"
	"unicode"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 20
	minPasswordLen = 6
	maxPasswordLen = 30
)

// usernameProblem 返回用户名不合法的原因，合法时返回空串。
func usernameProblem(username string) string {
	switch n := len(username); {
	case n == 0:
		return "Username cannot be empty"
	case n < minUsernameLen:
		return "Username must be at least 3 characters long"
	case n > maxUsernameLen:
		return "Username cannot be longer than 20 characters"
	}
	if strings.Contains(username, " ") {
		return "Username cannot contain spaces"
	}
	for _, c := range username {
		if c > unicode.MaxASCII || !(unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_') {
			return "Username can only contain letters, numbers, and underscores"
		}
	}
	return ""
}

// passwordProblem 返回密码不合法的原因，合法时返回空串。
func passwordProblem(password string) string {
	switch n := len(password); {
	case n == 0:
		return "Password cannot be empty"
	case n < minPasswordLen:
		return "Password must be at least 6 characters long"
	case n > maxPasswordLen:
		return "Password cannot be longer than 30 characters"
	}
	if strings.ContainsAny(password, " \t") {
		return "Password cannot contain spaces"
	}
	if !strings.ContainsFunc(password, unicode.IsDigit) {
		return "Password must contain at least one number"
	}
	if !strings.ContainsFunc(password, unicode.IsLetter) {
		return "Password must contain at least one letter"
	}
	return ""
}

// ValidateUsername 校验用户名：3-20 个字符，只允许字母、数字和下划线。
func ValidateUsername(username string) error {
	if reason := usernameProblem(username); reason != "" {
		return merr.WrapErrInvalidCredential("username", reason)
	}
	return nil
}

// ValidatePassword 校验密码：6-30 个字符，不含空白，至少包含一个数字和一个字母。
func ValidatePassword(password string) error {
	if reason := passwordProblem(password); reason != "" {
		return merr.WrapErrInvalidCredential("password", reason)
	}
	return nil
}
