package ws

import "go.uber.org/zap"

// Broadcast enqueues f for every member of room except exclude and returns
// how many members accepted it. A member whose queue refuses the frame is
// removed; the others still get it.
func (r *Registry) Broadcast(room string, f Frame, exclude *Conn) int {
	return r.fanout(room, f, func(c *Conn) bool {
		return exclude != nil && c.ID == exclude.ID
	})
}

// BroadcastTo delivers f only to the members authenticated as identity.
func (r *Registry) BroadcastTo(room, identity string, f Frame) int {
	return r.fanout(room, f, func(c *Conn) bool {
		return c.Identity != identity
	})
}

func (r *Registry) fanout(room string, f Frame, skip func(*Conn) bool) int {
	// snapshot first, enqueue outside the lock
	members := r.MembersOf(room)

	var failed []*Conn
	delivered := 0
	for _, c := range members {
		if skip(c) {
			continue
		}
		if err := c.enqueue(f); err != nil {
			zap.L().Warn("ws.delivery_failed",
				zap.String("room", room),
				zap.String("conn", c.ID),
				zap.Error(err),
			)
			r.obs.DeliveryFailed(room)
			failed = append(failed, c)
			continue
		}
		delivered++
	}
	for _, c := range failed {
		r.Leave(c)
	}
	r.obs.Delivered(room, delivered)
	return delivered
}
