package command

import (
	"context"

	netrouter "github.com/lk2023060901/danmu-chat/internal/network/router"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
)

func routeFunc(fn func()) netrouter.Route {
	return netrouter.Route{Handler: func(context.Context, session.Session, string) error {
		fn()
		return nil
	}}
}
