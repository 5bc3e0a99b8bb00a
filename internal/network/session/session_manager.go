package session

import "time"

// Entry 是某一时刻的会话快照条目。
type Entry struct {
	Session    Session
	Identity   string
	LastActive time.Time
}

// MailItem 是离线信箱中的一条消息。
type MailItem struct {
	From string
	Body string
	At   time.Time
}

// SessionManager 是连接与身份之间的权威索引。
//
// 职责说明：
//   - 所有修改与多步读取都在同一把锁内完成，锁内不做任何网络 IO；
//   - 只负责注册、查询、状态推进和信箱，不直接发送数据；
//   - 快照返回拷贝，调用方在锁外对其做 IO。
type SessionManager interface {
	// Register 将 sess 绑定到 identity。
	// 已有 Open 连接持有该 identity 时返回 merr.ErrDuplicateIdentity，索引保持不变。
	Register(sess Session, identity string) error

	// Unregister 移除 sess，第一次调用返回其 identity 与 true，之后返回 "", false。
	Unregister(sess Session) (string, bool)

	// Touch 刷新 identity 的最近活跃时间；identity 不存在时为空操作。
	Touch(identity string)

	// Snapshot 按注册顺序返回当前所有条目的拷贝。
	Snapshot() []Entry

	// Lookup 返回持有 identity 的 Open 连接。
	Lookup(identity string) (Session, bool)

	// StateOf 返回 sess 的生命周期状态。
	StateOf(sess Session) State

	// BeginClose 在锁内执行 Open -> Closing，只有一个调用方会得到 true。
	BeginClose(sess Session) bool

	// FinishClose 在锁内执行 Closing -> Closed。
	FinishClose(sess Session)

	// StatusOf 返回已注册 identity 的在线状态。
	StatusOf(identity string) (Status, bool)

	// LastSeen 返回 identity 的最近活跃时间与状态，注销后仍然保留。
	LastSeen(identity string) (time.Time, Status, bool)

	// Idle 返回已注册 identity 的空闲时长。
	Idle(identity string) (time.Duration, bool)

	// AppendMail 向 identity 的信箱追加一条消息。
	AppendMail(identity string, item MailItem)

	// DrainMailbox 取出并清空 identity 的信箱。
	DrainMailbox(identity string) []MailItem

	// Count 返回当前已注册的会话数量。
	Count() int

	// Clock 返回推导状态所用的时钟。
	Clock() Clock

	// AwayTimeout 返回 online/away 的分界阈值。
	AwayTimeout() time.Duration

	// InactiveTimeout 返回 away/inactive 的分界阈值。
	InactiveTimeout() time.Duration
}
