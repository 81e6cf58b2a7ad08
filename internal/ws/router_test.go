package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoReq struct {
	Word string `json:"word"`
}

func TestRouterDispatchesTypedHandler(t *testing.T) {
	r := NewRouter()
	Register(r, "echo", func(_ context.Context, cc *ConnContext, req echoReq) (string, error) {
		return cc.Identity + ":" + req.Word, nil
	})
	cc := &ConnContext{Conn: NewConn("k", "5", 1), Identity: "5"}

	res, err := r.dispatch(context.Background(), cc, Envelope{Event: "echo", Body: json.RawMessage(`{"word":"hi"}`)})
	require.NoError(t, err)
	assert.Equal(t, "5:hi", res)
	assert.Equal(t, "k", cc.Room())

	// an absent body decodes to the zero request
	res, err = r.dispatch(context.Background(), cc, Envelope{Event: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "5:", res)
}

func TestRouterErrors(t *testing.T) {
	r := NewRouter()
	boom := errors.New("boom")
	Register(r, "fail", func(context.Context, *ConnContext, echoReq) (any, error) {
		return nil, boom
	})
	cc := &ConnContext{Conn: NewConn("k", "", 1)}

	_, err := r.dispatch(context.Background(), cc, Envelope{Event: "missing"})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = r.dispatch(context.Background(), cc, Envelope{Event: "fail", Body: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, ErrInvalidBody)

	_, err = r.dispatch(context.Background(), cc, Envelope{Event: "fail", Body: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, boom)
}

func TestRouterNullBodyIsZeroRequest(t *testing.T) {
	r := NewRouter()
	Register(r, "echo", func(_ context.Context, _ *ConnContext, req echoReq) (string, error) {
		return req.Word, nil
	})
	res, err := r.dispatch(context.Background(), &ConnContext{Conn: NewConn("k", "", 1)},
		Envelope{Event: "echo", Body: json.RawMessage(`null`)})
	require.NoError(t, err)
	assert.Equal(t, "", res)
}

func TestRegisterPanicsOnBadEvent(t *testing.T) {
	nop := func(context.Context, *ConnContext, echoReq) (any, error) { return nil, nil }
	assert.Panics(t, func() { Register(NewRouter(), "", nop) })

	r := NewRouter()
	Register(r, "dup", nop)
	assert.Panics(t, func() { Register(r, "dup", nop) })
}
