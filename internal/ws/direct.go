package ws

import (
	"context"

	"dmchat/internal/services/chat"

	"go.uber.org/zap"
)

// Delivery reports one direct message: the live fanout and, when it
// succeeded, the stored copy.
type Delivery struct {
	Room      string           `json:"room"`
	Delivered int              `json:"delivered"`
	Message   *chat.MessageDTO `json:"message,omitempty"`
} // @name Delivery

// SendDirect pushes text to receiver's live connections, then persists it.
// Live delivery does not wait on storage: a persistence failure is returned
// together with the delivery that already happened.
func (s *WsServer) SendDirect(ctx context.Context, sender, receiver, text string) (*Delivery, error) {
	return s.sendDirect(ctx, sender, receiver, text, nil)
}

// sendDirect fans out to every other member of the room when from is set,
// otherwise to receiver's connections only.
func (s *WsServer) sendDirect(ctx context.Context, sender, receiver, text string, from *Conn) (*Delivery, error) {
	if err := chat.ValidateText(text); err != nil {
		return nil, err
	}
	room, err := s.chatSvc.ResolveRoom(ctx, sender, receiver)
	if err != nil {
		return nil, err
	}

	f, err := encodeEnvelope(EventChatMessage, ChatMessage{
		Room:     room.Key,
		Sender:   sender,
		Receiver: receiver,
		Text:     text,
		SentAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	d := &Delivery{Room: room.Key}
	if from != nil {
		d.Delivered = s.reg.Broadcast(room.Key, f, from)
	} else {
		d.Delivered = s.reg.BroadcastTo(room.Key, receiver, f)
	}

	msg, err := s.chatSvc.SendMessage(ctx, sender, receiver, text)
	if err != nil {
		zap.L().Warn("ws.persist_failed",
			zap.String("room", room.Key),
			zap.Int("delivered", d.Delivered),
			zap.Error(err),
		)
		return d, err
	}
	d.Message = msg
	return d, nil
}
