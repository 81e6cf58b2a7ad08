package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"dmchat/internal/auth"
	"dmchat/internal/services/chat"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	handlerTimeout = 2 * time.Second

	// anonymous relay rooms never share a key with conversation rooms, which
	// are bare hex digests
	relayRoomPrefix = "relay:"
)

// Options tune the transport side of a session.
type Options struct {
	ReadLimit      int64
	SendBuffer     int
	PingPeriod     time.Duration
	WriteWait      time.Duration
	OriginPatterns []string // empty accepts any origin
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  64 << 10,
		SendBuffer: 32,
		PingPeriod: 15 * time.Second,
		WriteWait:  10 * time.Second,
	}
}

type WsServer struct {
	reg     *Registry
	router  *Router
	chatSvc chat.IChatService
	opts    Options
	now     func() time.Time
}

// frameHandler consumes one inbound frame. Returning ErrMalformedFrame closes
// the connection with 1007; any other error ends the session quietly.
type frameHandler func(ctx context.Context, f Frame) error

func NewWsServer(reg *Registry, chatSvc chat.IChatService, opts Options) *WsServer {
	def := DefaultOptions()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	srv := &WsServer{
		reg:     reg,
		router:  NewRouter(),
		chatSvc: chatSvc,
		opts:    opts,
		now:     time.Now,
	}
	srv.registerHandlers()
	return srv
}

func (s *WsServer) Registry() *Registry { return s.reg }

// Shutdown evicts every live connection.
func (s *WsServer) Shutdown() int { return s.reg.CloseAll() }

// ---------------------------------------------------------------------------
//  Public: Gin entry-points
// ---------------------------------------------------------------------------

// HandleRoom relays raw text and binary frames between the members of :room.
// Its rooms live under their own prefix, so a guessed conversation key only
// opens an unrelated relay room.
func (s *WsServer) HandleRoom(ginCtx *gin.Context) {
	room := ginCtx.Param("room")
	if room == "" {
		ginCtx.JSON(http.StatusBadRequest, ErrorBody{Error: "room is required"})
		return
	}
	conn := NewConn(RelayRoom(room), "", s.opts.SendBuffer)
	s.serve(ginCtx, conn, s.relay(conn))
}

// HandleChat opens the caller's conversation with ?peer=. Must run behind
// auth.Required.
func (s *WsServer) HandleChat(ginCtx *gin.Context) {
	caller := auth.Identity(ginCtx)
	if caller == "" {
		ginCtx.JSON(http.StatusUnauthorized, ErrorBody{Error: auth.ErrUnauthorized.Error()})
		return
	}
	peer := ginCtx.Query("peer")

	room, err := s.chatSvc.ResolveRoom(ginCtx.Request.Context(), caller, peer)
	switch {
	case errors.Is(err, chat.ErrInvalidIdentity), errors.Is(err, chat.ErrSelfRoom):
		ginCtx.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
		return
	case err != nil:
		zap.L().Error("ws.resolve_room", zap.String("caller", caller), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, ErrorBody{Error: "internal_error"})
		return
	}

	conn := NewConn(room.Key, caller, s.opts.SendBuffer)
	cc := &ConnContext{Conn: conn, Identity: caller, Peer: peer, Server: s}
	s.serve(ginCtx, conn, s.route(cc))
}

// RelayRoom is the registry key of the anonymous relay room name.
func RelayRoom(name string) string { return relayRoomPrefix + name }

// ---------------------------------------------------------------------------
//  Session loop
// ---------------------------------------------------------------------------

// serve admits conn before the handshake so a full room is refused with a
// plain HTTP 409 and never upgraded.
func (s *WsServer) serve(ginCtx *gin.Context, conn *Conn, onFrame frameHandler) {
	if err := s.reg.Join(conn); err != nil {
		if errors.Is(err, ErrRoomFull) {
			zap.L().Info("ws.room_full", zap.String("room", conn.Room))
			ginCtx.JSON(http.StatusConflict, ErrorBody{Error: ErrRoomFull.Error()})
			return
		}
		zap.L().Error("ws.join", zap.String("room", conn.Room), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, ErrorBody{Error: "internal_error"})
		return
	}

	rawConn, err := websocket.Accept(ginCtx.Writer, ginCtx.Request, s.acceptOptions())
	if err != nil {
		zap.L().Warn("ws.accept", zap.String("room", conn.Room), zap.Error(err))
		s.reg.Leave(conn)
		return
	}
	rawConn.SetReadLimit(s.opts.ReadLimit)
	if !conn.markJoined() {
		_ = rawConn.Close(websocket.StatusGoingAway, "left room")
		return
	}
	zap.L().Debug("ws.joined",
		zap.String("room", conn.Room),
		zap.String("conn", conn.ID),
		zap.String("identity", conn.Identity),
	)

	go s.writePump(conn, rawConn)
	s.readLoop(conn, rawConn, onFrame)
}

// readLoop blocks on the next frame until the peer goes away, the frame
// handler fails or conn is evicted. Every exit path leaves the room, panics
// included.
func (s *WsServer) readLoop(conn *Conn, rawConn *websocket.Conn, onFrame frameHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("ws.session_panic", zap.String("conn", conn.ID), zap.Any("panic", p), zap.Stack("stack"))
			_ = rawConn.Close(websocket.StatusInternalError, "internal error")
		}
		cancel()
		s.reg.Leave(conn)
	}()

	// on eviction the write pump closes rawConn, which fails the pending Read
	for {
		typ, data, err := rawConn.Read(ctx)
		if err != nil {
			zap.L().Debug("ws.read_end",
				zap.String("conn", conn.ID),
				zap.Int("status", int(websocket.CloseStatus(err))),
				zap.Error(err),
			)
			return
		}
		if err := onFrame(ctx, Frame{Type: typ, Data: data}); err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				zap.L().Info("ws.malformed_frame", zap.String("conn", conn.ID))
				_ = rawConn.Close(websocket.StatusInvalidFramePayloadData, ErrMalformedFrame.Error())
			}
			return
		}
	}
}

// relay forwards frames untouched to the other members of the room.
func (s *WsServer) relay(conn *Conn) frameHandler {
	return func(_ context.Context, f Frame) error {
		if f.Type == websocket.MessageText && !utf8.Valid(f.Data) {
			return ErrMalformedFrame
		}
		s.reg.Broadcast(conn.Room, f, conn)
		return nil
	}
}

// route decodes an envelope, dispatches it and queues the ack or error reply.
func (s *WsServer) route(cc *ConnContext) frameHandler {
	return func(ctx context.Context, f Frame) error {
		var env Envelope
		if f.Type != websocket.MessageText || json.Unmarshal(f.Data, &env) != nil || env.Event == "" {
			return ErrMalformedFrame
		}

		hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
		res, err := s.router.dispatch(hctx, cc, env)
		cancel()

		if err != nil {
			return s.reply(cc.Conn, EventError, errorBody(err))
		}
		return s.reply(cc.Conn, env.Event+ackSuffix, res)
	}
}

func (s *WsServer) reply(c *Conn, event string, body any) error {
	f, err := encodeEnvelope(event, body)
	if err != nil {
		return err
	}
	return c.enqueue(f)
}

func (s *WsServer) registerHandlers() {
	Register(
		s.router,
		EventChatMessage,
		func(ctx context.Context, cc *ConnContext, req SendMessageRequest) (*Delivery, error) {
			d, err := s.sendDirect(ctx, cc.Identity, cc.Peer, req.Text, cc.Conn)
			if err != nil && d != nil {
				return nil, &deliveryError{delivered: d.Delivered, err: err}
			}
			return d, err
		},
	)

	Register(
		s.router,
		EventChatHistory,
		func(ctx context.Context, cc *ConnContext, req HistoryRequest) ([]chat.MessageDTO, error) {
			return s.chatSvc.History(ctx, cc.Room(), req.Limit, req.Offset)
		},
	)
}

func (s *WsServer) acceptOptions() *websocket.AcceptOptions {
	if len(s.opts.OriginPatterns) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns}
}

// ─────────────────────────────── helpers ─────────────────────────────────────

// deliveryError is a message that reached the room but was not persisted.
type deliveryError struct {
	delivered int
	err       error
}

func (e *deliveryError) Error() string { return e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

var publicErrors = []error{
	ErrUnknownEvent,
	ErrInvalidBody,
	chat.ErrEmptyMessage,
	chat.ErrInvalidText,
	chat.ErrPersist,
	chat.ErrInvalidIdentity,
	chat.ErrSelfRoom,
	chat.ErrRoomNotFound,
}

// errorBody keeps storage details out of the reply.
func errorBody(err error) ErrorBody {
	body := ErrorBody{Error: "internal_error"}
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			body.Error = known.Error()
			break
		}
	}
	var de *deliveryError
	if errors.As(err, &de) {
		n := de.delivered
		body.Delivered = &n
	}
	return body
}
