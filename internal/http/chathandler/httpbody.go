package chathandler

import "dmchat/internal/services/chat"

type OpenRoomBody struct {
	PeerID string `json:"peer_id" binding:"required" example:"9"`
} // @name OpenRoomRequest

type SendMessageBody struct {
	ReceiverID string `json:"receiver_id" binding:"required"        example:"9"`
	Text       string `json:"text"        binding:"required,max=4096" example:"hello"`
} // @name SendMessageRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type UndeliveredResponse struct {
	Error     string `json:"error"`
	Room      string `json:"room"`
	Delivered int    `json:"delivered"`
} // @name UndeliveredResponse

type RoomView struct {
	chat.RoomDTO
	Online int `json:"online" example:"1"`
} // @name RoomView

type HistoryQuery struct {
	Limit  int `form:"limit,default=50" binding:"gte=0,lte=200"`
	Offset int `form:"offset,default=0" binding:"gte=0"`
} // @name HistoryQuery
