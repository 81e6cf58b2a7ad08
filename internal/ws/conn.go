package ws

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrRoomFull       = errors.New("room full")
	ErrAlreadyJoined  = errors.New("connection already joined")
	ErrConnClosed     = errors.New("connection closed")
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrMalformedFrame = errors.New("malformed frame")

	errSendBufferFull = errors.New("send buffer full")
)

// SessionState tracks a connection from handshake to teardown.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

// Frame is one websocket message, text or binary.
type Frame struct {
	Type websocket.MessageType
	Data []byte
}

func TextFrame(b []byte) Frame   { return Frame{Type: websocket.MessageText, Data: b} }
func BinaryFrame(b []byte) Frame { return Frame{Type: websocket.MessageBinary, Data: b} }

// Conn is one live member connection. The registry owns it from Join to
// Leave; the session loop only reads from and writes to it.
type Conn struct {
	ID       string
	Room     string
	Identity string // empty on anonymous endpoints

	seq   uint64 // join order, set by the registry
	state atomic.Int32

	mu     sync.Mutex
	closed bool
	send   chan Frame
	done   chan struct{}
}

func NewConn(room, identity string, buffer int) *Conn {
	if buffer < 0 {
		buffer = 0
	}
	return &Conn{
		ID:       uuid.NewString(),
		Room:     room,
		Identity: identity,
		send:     make(chan Frame, buffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) State() SessionState { return SessionState(c.state.Load()) }

func (c *Conn) setState(s SessionState) { c.state.Store(int32(s)) }

// markJoined fails when c was evicted during the handshake.
func (c *Conn) markJoined() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateJoined))
}

// Done is closed once the connection left its room.
func (c *Conn) Done() <-chan struct{} { return c.done }

// enqueue never blocks: a full queue is a failed delivery.
func (c *Conn) enqueue(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, ErrConnClosed)
	}
	select {
	case c.send <- f:
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, errSendBufferFull)
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// shutdown reports whether this call closed the connection.
func (c *Conn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	c.setState(StateClosed)
	return true
}
