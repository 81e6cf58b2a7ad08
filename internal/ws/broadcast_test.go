package ws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu        sync.Mutex
	joined    int
	rejected  int
	left      int
	delivered int
	failed    int
}

func (o *recordingObserver) Joined(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joined++
}

func (o *recordingObserver) Rejected(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func (o *recordingObserver) Left(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left++
}

func (o *recordingObserver) Delivered(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered += n
}

func (o *recordingObserver) DeliveryFailed(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func queued(c *Conn) []Frame {
	var out []Frame
	for {
		select {
		case f := <-c.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

func joinAll(t *testing.T, reg *Registry, conns ...*Conn) {
	t.Helper()
	for _, c := range conns {
		require.NoError(t, reg.Join(c))
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	reg := NewRegistry(MaxMembers(5), nil)
	sender := NewConn("r1", "", 4)
	others := []*Conn{NewConn("r1", "", 4), NewConn("r1", "", 4), NewConn("r1", "", 4)}
	joinAll(t, reg, append([]*Conn{sender}, others...)...)
	outsider := NewConn("r2", "", 4)
	joinAll(t, reg, outsider)

	n := reg.Broadcast("r1", TextFrame([]byte("hello")), sender)
	assert.Equal(t, len(others), n)

	assert.Empty(t, queued(sender))
	assert.Empty(t, queued(outsider))
	for _, c := range others {
		got := queued(c)
		require.Len(t, got, 1)
		assert.Equal(t, "hello", string(got[0].Data))
	}
}

func TestBroadcastWithoutExclusionReachesEveryone(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a, b := NewConn("r1", "", 1), NewConn("r1", "", 1)
	joinAll(t, reg, a, b)

	assert.Equal(t, 2, reg.Broadcast("r1", BinaryFrame([]byte{1, 2}), nil))
	assert.Equal(t, []byte{1, 2}, queued(b)[0].Data)
}

func TestBroadcastIsolatesFailedMember(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry(MaxMembers(4), obs)
	sender := NewConn("r1", "", 4)
	stalled := NewConn("r1", "", 0) // queue always full
	healthy := NewConn("r1", "", 4)
	joinAll(t, reg, sender, stalled, healthy)

	n := reg.Broadcast("r1", TextFrame([]byte("hello")), sender)
	assert.Equal(t, 1, n)
	assert.Len(t, queued(healthy), 1)

	assert.Equal(t, []*Conn{sender, healthy}, reg.MembersOf("r1"))
	assert.Equal(t, StateClosed, stalled.State())
	assert.Equal(t, 1, obs.failed)
	assert.Equal(t, 1, obs.left)
}

func TestBroadcastToClosedMemberEvictsIt(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a, b := NewConn("r1", "", 4), NewConn("r1", "", 4)
	joinAll(t, reg, a, b)

	// b's transport died but its session has not called Leave yet
	b.shutdown()

	assert.Zero(t, reg.Broadcast("r1", TextFrame([]byte("hello")), a))
	assert.Equal(t, []*Conn{a}, reg.MembersOf("r1"))
}

func TestBroadcastToIdentity(t *testing.T) {
	reg := NewRegistry(nil, nil)
	five, nine := NewConn("k", "5", 4), NewConn("k", "9", 4)
	joinAll(t, reg, five, nine)

	assert.Equal(t, 1, reg.BroadcastTo("k", "9", TextFrame([]byte("hey"))))
	assert.Empty(t, queued(five))
	assert.Len(t, queued(nine), 1)

	assert.Zero(t, reg.BroadcastTo("k", "7", TextFrame([]byte("hey"))))
}

func TestBroadcastEmptyRoom(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry(nil, obs)
	assert.Zero(t, reg.Broadcast("ghost", TextFrame([]byte("x")), nil))
	assert.Zero(t, obs.failed)
}

func TestEnqueueAfterShutdown(t *testing.T) {
	c := NewConn("r1", "", 1)
	require.True(t, c.shutdown())
	assert.False(t, c.shutdown())

	err := c.enqueue(TextFrame([]byte("late")))
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestBroadcastConcurrentWithLeave(t *testing.T) {
	reg := NewRegistry(MaxMembers(2), nil)
	sender, peer := NewConn("r1", "", 1024), NewConn("r1", "", 1024)
	joinAll(t, reg, sender, peer)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			reg.Broadcast("r1", TextFrame([]byte("x")), sender)
		}
	}()
	go func() {
		defer wg.Done()
		reg.Leave(peer)
	}()
	wg.Wait()

	assert.Equal(t, []*Conn{sender}, reg.MembersOf("r1"))
	assert.Empty(t, queued(sender))
}
