package session

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

type entry struct {
	sess       Session
	identity   string
	lastActive time.Time
	seq        uint64
}

// Registry 提供了基于内存 map 的 SessionManager 实现。
//
// 特性：
//   - 一把互斥锁保护 connection<->identity 双向映射、活跃时间和信箱；
//   - Register 的“检查再插入”在同一临界区内完成；
//   - lastSeen 在注销后依然保留，供 whois 查询。
type Registry struct {
	log.Binder

	mu sync.Mutex

	clock    Clock
	away     time.Duration
	inactive time.Duration

	byConn     map[uint64]*entry
	byIdentity map[string]*entry
	lastSeen   map[string]time.Time
	mailboxes  map[string][]MailItem
	seq        uint64
}

// 确保 Registry 实现了 SessionManager 接口。
var _ SessionManager = (*Registry)(nil)

// RegistryOption 用于配置 Registry。
type RegistryOption func(*Registry)

func WithClock(c Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithTimeouts 设置 away / inactive 阈值，非正值保持默认。
func WithTimeouts(away, inactive time.Duration) RegistryOption {
	return func(r *Registry) {
		if away > 0 {
			r.away = away
		}
		if inactive > 0 {
			r.inactive = inactive
		}
	}
}

// NewRegistry 创建一个空的 Registry。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:      RealClock(),
		away:       DefaultAwayTimeout,
		inactive:   DefaultInactiveTimeout,
		byConn:     make(map[uint64]*entry),
		byIdentity: make(map[string]*entry),
		lastSeen:   make(map[string]time.Time),
		mailboxes:  make(map[string][]MailItem),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clock 返回 Registry 使用的时钟。
func (r *Registry) Clock() Clock {
	return r.clock
}

// AwayTimeout 返回 away 阈值。
func (r *Registry) AwayTimeout() time.Duration {
	return r.away
}

// InactiveTimeout 返回 inactive 阈值。
func (r *Registry) InactiveTimeout() time.Duration {
	return r.inactive
}

// Register 实现 SessionManager.Register。
func (r *Registry) Register(sess Session, identity string) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess.State() != StateOpen {
		return merr.WrapErrSessionClosed(sess.ID(), "register")
	}
	if _, exists := r.byConn[sess.ID()]; exists {
		return merr.WrapErrDuplicateIdentity(identity, "connection already registered")
	}
	if old, exists := r.byIdentity[identity]; exists {
		if old.sess.State() == StateOpen {
			return merr.WrapErrDuplicateIdentity(identity)
		}
		// 旧连接正在关闭，它随后的 Unregister 将返回 absent。
		delete(r.byConn, old.sess.ID())
		delete(r.byIdentity, identity)
	}

	now := r.clock.Now()
	r.seq++
	e := &entry{
		sess:       sess,
		identity:   identity,
		lastActive: now,
		seq:        r.seq,
	}
	r.byConn[sess.ID()] = e
	r.byIdentity[identity] = e
	r.lastSeen[identity] = now
	sess.bind(identity)

	metrics.ActiveSessions.Set(float64(len(r.byConn)))
	r.Logger().Debug("session registered",
		log.FieldConnID(sess.ID()),
		log.FieldUser(identity),
		zap.Int("count", len(r.byConn)))
	return nil
}

// Unregister 实现 SessionManager.Unregister。
func (r *Registry) Unregister(sess Session) (string, bool) {
	if sess == nil {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.byConn[sess.ID()]
	if !exists {
		return "", false
	}
	delete(r.byConn, sess.ID())
	if cur, ok := r.byIdentity[e.identity]; ok && cur == e {
		delete(r.byIdentity, e.identity)
	}
	r.lastSeen[e.identity] = e.lastActive

	metrics.ActiveSessions.Set(float64(len(r.byConn)))
	return e.identity, true
}

// Touch 实现 SessionManager.Touch。
func (r *Registry) Touch(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.byIdentity[identity]
	if !exists {
		return
	}
	now := r.clock.Now()
	e.lastActive = now
	r.lastSeen[identity] = now
}

// Snapshot 实现 SessionManager.Snapshot。
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	ordered := make([]*entry, 0, len(r.byConn))
	for _, e := range r.byConn {
		ordered = append(ordered, e)
	}
	snapshot := make([]Entry, 0, len(ordered))
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	for _, e := range ordered {
		snapshot = append(snapshot, Entry{
			Session:    e.sess,
			Identity:   e.identity,
			LastActive: e.lastActive,
		})
	}
	r.mu.Unlock()

	return snapshot
}

// Lookup 实现 SessionManager.Lookup。
func (r *Registry) Lookup(identity string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.byIdentity[identity]
	if !exists || e.sess.State() != StateOpen {
		return nil, false
	}
	return e.sess, true
}

// StateOf 实现 SessionManager.StateOf。
func (r *Registry) StateOf(sess Session) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sess.State()
}

// BeginClose 实现 SessionManager.BeginClose。
func (r *Registry) BeginClose(sess Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sess.casState(StateOpen, StateClosing)
}

// FinishClose 实现 SessionManager.FinishClose。
func (r *Registry) FinishClose(sess Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.casState(StateClosing, StateClosed)
}

// StatusOf 实现 SessionManager.StatusOf。
func (r *Registry) StatusOf(identity string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.byIdentity[identity]
	if !exists {
		return "", false
	}
	return DeriveStatus(r.clock.Now().Sub(e.lastActive), r.away, r.inactive), true
}

// LastSeen 实现 SessionManager.LastSeen。
func (r *Registry) LastSeen(identity string) (time.Time, Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, exists := r.lastSeen[identity]
	if !exists {
		return time.Time{}, "", false
	}
	return ts, DeriveStatus(r.clock.Now().Sub(ts), r.away, r.inactive), true
}

// Idle 实现 SessionManager.Idle。
func (r *Registry) Idle(identity string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.byIdentity[identity]
	if !exists {
		return 0, false
	}
	return r.clock.Now().Sub(e.lastActive), true
}

// AppendMail 实现 SessionManager.AppendMail。
func (r *Registry) AppendMail(identity string, item MailItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mailboxes[identity] = append(r.mailboxes[identity], item)
}

// DrainMailbox 实现 SessionManager.DrainMailbox。
func (r *Registry) DrainMailbox(identity string) []MailItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := r.mailboxes[identity]
	delete(r.mailboxes, identity)
	return items
}

// Count 实现 SessionManager.Count。
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
