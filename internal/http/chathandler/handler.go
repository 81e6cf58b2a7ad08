package chathandler

import (
	"context"
	"errors"
	"net/http"

	"dmchat/internal/auth"
	"dmchat/internal/services/chat"
	"dmchat/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Messenger delivers a direct message live and persists it.
type Messenger interface {
	SendDirect(ctx context.Context, sender, receiver, text string) (*ws.Delivery, error)
}

// Presence counts live members of a room.
type Presence interface {
	Count(room string) int
}

type Handler struct {
	svc      chat.IChatService
	msg      Messenger
	presence Presence
}

func New(svc chat.IChatService, msg Messenger, presence Presence) *Handler {
	return &Handler{svc: svc, msg: msg, presence: presence}
}

// Register expects r to sit behind auth.Required.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/rooms", h.open)
	r.GET("/rooms/:key", h.info)
	r.GET("/rooms/:key/messages", h.history)
	r.POST("/messages", h.send)
}

// @Summary		Open a conversation
// @Description	Returns the room shared by the caller and peer_id, creating it on first use. The key is the same whichever side asks.
// @Tags			Rooms
// @Security		BearerAuth
// @Param			body	body		OpenRoomBody	true	"Peer"
// @Success		200		{object}	chat.RoomDTO
// @Failure		400		{object}	ErrorResponse
// @Failure		401		{object}	ErrorResponse
// @Router			/rooms [post]
func (h *Handler) open(ginCtx *gin.Context) {
	var body OpenRoomBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	room, err := h.svc.ResolveRoom(ginCtx.Request.Context(), auth.Identity(ginCtx), body.PeerID)
	if err != nil {
		fail(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, room)
}

// @Summary		Get room details
// @Description	Returns a room the caller takes part in and how many members are connected.
// @Tags			Rooms
// @Security		BearerAuth
// @Param			key	path		string	true	"Room key"
// @Success		200	{object}	RoomView
// @Failure		403	{object}	ErrorResponse
// @Failure		404	{object}	ErrorResponse
// @Router			/rooms/{key} [get]
func (h *Handler) info(ginCtx *gin.Context) {
	room, ok := h.memberRoom(ginCtx)
	if !ok {
		return
	}
	ginCtx.JSON(http.StatusOK, RoomView{RoomDTO: *room, Online: h.presence.Count(room.Key)})
}

// @Summary		List messages
// @Description	Persisted messages of a room, newest first.
// @Tags			Rooms
// @Security		BearerAuth
// @Param			key		path		string	true	"Room key"
// @Param			limit	query		int		false	"Max results (0‑200)"	minimum(0)	maximum(200)	default(50)
// @Param			offset	query		int		false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200		{array}		chat.MessageDTO
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Router			/rooms/{key}/messages [get]
func (h *Handler) history(ginCtx *gin.Context) {
	var q HistoryQuery
	if err := ginCtx.ShouldBindQuery(&q); err != nil {
		ginCtx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	room, ok := h.memberRoom(ginCtx)
	if !ok {
		return
	}
	out, err := h.svc.History(ginCtx.Request.Context(), room.Key, q.Limit, q.Offset)
	if err != nil {
		fail(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, out)
}

// @Summary		Send a direct message
// @Description	Pushes the message to the receiver's live connections, then stores it. A storage failure does not undo the live delivery.
// @Tags			Messages
// @Security		BearerAuth
// @Param			body	body		SendMessageBody	true	"Message"
// @Success		202		{object}	ws.Delivery
// @Failure		400		{object}	ErrorResponse
// @Failure		502		{object}	UndeliveredResponse
// @Router			/messages [post]
func (h *Handler) send(ginCtx *gin.Context) {
	var body SendMessageBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	d, err := h.msg.SendDirect(ginCtx.Request.Context(), auth.Identity(ginCtx), body.ReceiverID, body.Text)
	if err != nil {
		if d != nil {
			ginCtx.JSON(http.StatusBadGateway, &UndeliveredResponse{
				Error:     chat.ErrPersist.Error(),
				Room:      d.Room,
				Delivered: d.Delivered,
			})
			return
		}
		fail(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusAccepted, d)
}

// ─────────────────────────────── helpers ─────────────────────────────────────

func (h *Handler) memberRoom(ginCtx *gin.Context) (*chat.RoomDTO, bool) {
	room, err := h.svc.GetRoom(ginCtx.Request.Context(), ginCtx.Param("key"))
	if err != nil {
		fail(ginCtx, err)
		return nil, false
	}
	if !room.Has(auth.Identity(ginCtx)) {
		ginCtx.JSON(http.StatusForbidden, &ErrorResponse{Error: "forbidden"})
		return nil, false
	}
	return room, true
}

func fail(ginCtx *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidIdentity),
		errors.Is(err, chat.ErrSelfRoom),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidText):
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
	case errors.Is(err, chat.ErrRoomNotFound):
		ginCtx.JSON(http.StatusNotFound, &ErrorResponse{Error: err.Error()})
	case errors.Is(err, chat.ErrPersist):
		ginCtx.JSON(http.StatusBadGateway, &ErrorResponse{Error: chat.ErrPersist.Error()})
	default:
		zap.L().Error("http.chat", zap.String("path", ginCtx.FullPath()), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: "internal_error"})
	}
}
