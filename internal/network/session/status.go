package session

import "time"

// Status 是根据空闲时长推导出的在线状态。
type Status string

const (
	StatusOnline   Status = "online"
	StatusAway     Status = "away"
	StatusInactive Status = "inactive"
)

const (
	DefaultAwayTimeout     = 60 * time.Second
	DefaultInactiveTimeout = 300 * time.Second
)

// DeriveStatus 是空闲时长的纯函数：
// idle <= away 为 online，idle <= inactive 为 away，否则为 inactive。
func DeriveStatus(idle, away, inactive time.Duration) Status {
	switch {
	case idle <= away:
		return StatusOnline
	case idle <= inactive:
		return StatusAway
	default:
		return StatusInactive
	}
}
