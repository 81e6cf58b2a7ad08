package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent = errors.New("unknown_event")
	ErrInvalidBody  = errors.New("invalid_body")
)

// ConnContext is what a handler knows about the calling connection.
type ConnContext struct {
	Conn     *Conn
	Identity string
	Peer     string
	Server   *WsServer
}

func (cc *ConnContext) Room() string { return cc.Conn.Room }

type eventHandler func(ctx context.Context, cc *ConnContext, body json.RawMessage) (any, error)

// Router maps an envelope event to its handler. Routes are fixed before the
// server accepts its first connection and only read afterwards.
type Router struct {
	routes map[string]eventHandler
}

func NewRouter() *Router { return &Router{routes: map[string]eventHandler{}} }

// Register decodes the envelope body into Req before calling h. A missing or
// null body leaves Req at its zero value. Registering an empty or taken event
// panics.
func Register[Req, Res any](r *Router, event string, h func(context.Context, *ConnContext, Req) (Res, error)) {
	if event == "" {
		panic("ws: register with empty event")
	}
	if _, taken := r.routes[event]; taken {
		panic("ws: event registered twice: " + event)
	}
	r.routes[event] = func(ctx context.Context, cc *ConnContext, body json.RawMessage) (any, error) {
		var req Req
		if len(body) != 0 && string(body) != "null" {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
			}
		}
		return h(ctx, cc, req)
	}
}

func (r *Router) dispatch(ctx context.Context, cc *ConnContext, env Envelope) (any, error) {
	h, ok := r.routes[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}
	return h(ctx, cc, env.Body)
}
