package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// Handler 是命令处理函数签名。
//
// 说明：
//   - sess：发出命令的会话；
//   - args：动词之后的原始参数文本（已去掉首个分隔空格，保留大小写）；
//   - 返回的 error 由上层决定如何转换为回复。
type Handler func(ctx context.Context, sess session.Session, args string) error

// Route 描述一条路由规则：动词 -> 处理函数。
type Route struct {
	// Handler 为业务层实现的处理函数，不能为空。
	Handler Handler

	// Usage 为参数不合法时回复给用户的用法说明，可以为空。
	Usage string
}

// Router 维护动词到路由规则的映射，动词匹配不区分大小写。
//
// 典型调用链（服务器侧）：
//  1. 接收循环读出一帧文本，命令解释器拆出 verb + args；
//  2. 调用 Router.Handle(ctx, sess, verb, args)；
//  3. Router 查找 Route 并调用 Handler，Handler 内部的 panic 被转换为错误返回。
type Router interface {
	// Register 为 verb 注册一条路由规则，同一动词不允许重复注册。
	Register(verb string, route Route) error

	// Lookup 查找 verb 对应的路由规则。
	Lookup(verb string) (Route, bool)

	// Handle 分发一条命令。
	//
	// 返回：
	//   - verb 未注册时返回 merr.ErrProtocol；
	//   - Handler panic 时返回 merr.ErrServiceInternal，连接不受影响。
	Handle(ctx context.Context, sess session.Session, verb string, args string) error

	// Verbs 返回已注册的全部动词（已排序）。
	Verbs() []string
}

// defaultRouter 是 Router 接口的基础实现。
type defaultRouter struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// 编译期断言：确保 defaultRouter 实现了 Router 接口。
var _ Router = (*defaultRouter)(nil)

// New 创建一个空的 Router 实例。
func New() Router {
	return &defaultRouter{
		routes: make(map[string]Route),
	}
}

func normalize(verb string) string {
	return strings.ToLower(strings.TrimSpace(verb))
}

// Register 实现 Router.Register。
func (r *defaultRouter) Register(verb string, route Route) error {
	key := normalize(verb)
	if key == "" {
		return merr.WrapErrParameterMissing("verb", "router register")
	}
	if route.Handler == nil {
		return merr.WrapErrParameterInvalidMsg("router: Handler is nil for verb=%s", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[key]; exists {
		return merr.WrapErrParameterInvalidMsg("router: verb=%s already registered", key)
	}
	r.routes[key] = route
	return nil
}

// Lookup 实现 Router.Lookup。
func (r *defaultRouter) Lookup(verb string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[normalize(verb)]
	return route, ok
}

// Handle 实现 Router.Handle。
func (r *defaultRouter) Handle(ctx context.Context, sess session.Session, verb string, args string) (err error) {
	if sess == nil {
		return merr.WrapErrParameterMissing("session", "router handle")
	}

	route, ok := r.Lookup(verb)
	if !ok {
		return merr.WrapErrProtocol("unknown verb", verb)
	}

	defer func() {
		if x := recover(); x != nil {
			err = merr.WrapErrServiceInternal(fmt.Sprintf("handler for %s panicked: %v", normalize(verb), x))
		}
	}()
	return route.Handler(ctx, sess, args)
}

// Verbs 实现 Router.Verbs。
func (r *defaultRouter) Verbs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	verbs := make([]string, 0, len(r.routes))
	for verb := range r.routes {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	return verbs
}
