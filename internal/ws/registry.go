package ws

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Observer receives connection lifecycle events. Implementations must not block.
type Observer interface {
	Joined(room string)
	Rejected(room string)
	Left(room string)
	Delivered(room string, n int)
	DeliveryFailed(room string)
}

type nopObserver struct{}

func (nopObserver) Joined(string)         {}
func (nopObserver) Rejected(string)       {}
func (nopObserver) Left(string)           {}
func (nopObserver) Delivered(string, int) {}
func (nopObserver) DeliveryFailed(string) {}

// Registry keeps live connections indexed by id and by room.
// One mutex guards both indexes; it is never held during network I/O.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn            // conn id -> conn
	rooms  map[string]map[string]*Conn // room -> conn id -> conn
	seq    uint64
	policy CapacityPolicy
	obs    Observer
}

func NewRegistry(policy CapacityPolicy, obs Observer) *Registry {
	if policy == nil {
		policy = MaxMembers(DefaultMaxRoomSize)
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Registry{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		policy: policy,
		obs:    obs,
	}
}

// Join admits c into c.Room if the capacity policy allows it. The capacity
// check and the insertion happen under the same lock. A refused c is closed.
func (r *Registry) Join(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.isClosed() {
		return ErrConnClosed
	}
	if _, ok := r.conns[c.ID]; ok {
		return ErrAlreadyJoined
	}
	members := r.rooms[c.Room]
	if !r.policy.Admit(c.Room, len(members)) {
		r.obs.Rejected(c.Room)
		c.shutdown()
		return ErrRoomFull
	}
	if members == nil {
		members = make(map[string]*Conn, DefaultMaxRoomSize)
		r.rooms[c.Room] = members
	}
	r.seq++
	c.seq = r.seq
	members[c.ID] = c
	r.conns[c.ID] = c
	r.obs.Joined(c.Room)
	return nil
}

// Leave removes c and closes it. Unknown or already removed connections are
// ignored; the result reports whether this call removed c.
func (r *Registry) Leave(c *Conn) bool {
	r.mu.Lock()
	if cur, ok := r.conns[c.ID]; !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c.ID)
	if members, ok := r.rooms[c.Room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(r.rooms, c.Room)
		}
	}
	r.mu.Unlock()

	c.shutdown()
	r.obs.Left(c.Room)
	zap.L().Debug("ws.leave", zap.String("room", c.Room), zap.String("conn", c.ID))
	return true
}

// MembersOf returns a snapshot of the room in join order. Members may leave
// right after the snapshot is taken.
func (r *Registry) MembersOf(room string) []*Conn {
	r.mu.RLock()
	members := r.rooms[room]
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Conn) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

func (r *Registry) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Len is the number of live connections across all rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll removes every connection, used on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	all := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		all = append(all, c)
	}
	r.mu.RUnlock()

	n := 0
	for _, c := range all {
		if r.Leave(c) {
			n++
		}
	}
	return n
}
