package ws

// DefaultMaxRoomSize fits 1:1 conversations.
const DefaultMaxRoomSize = 2

// CapacityPolicy decides whether one more connection may join a room that
// currently holds members connections.
type CapacityPolicy interface {
	Admit(room string, members int) bool
}

// MaxMembers caps every room at the same size.
type MaxMembers int

func (m MaxMembers) Admit(_ string, members int) bool { return members < int(m) }
