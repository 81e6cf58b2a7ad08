package ws

import (
	"encoding/json"
	"time"
)

// Envelope wraps every frame on the identity-aware endpoint.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "chat/message"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

const (
	EventChatMessage = "chat/message"
	EventChatHistory = "chat/history"
	EventError       = "error"

	ackSuffix = "-ack"
)

// ──────────────────────────── Request / Response DTOs ─────────────────────────

// SendMessageRequest is the body for "chat/message".
type SendMessageRequest struct {
	Text string `json:"text"`
}

// HistoryRequest is the body for "chat/history".
type HistoryRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ChatMessage is what the peer receives live.
type ChatMessage struct {
	Room     string    `json:"room"`
	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error     string `json:"error"`
	Delivered *int   `json:"delivered,omitempty"`
}

func encodeEnvelope(event string, body any) (Frame, error) {
	env := map[string]any{"event": event}
	if body != nil {
		env["body"] = body
	}
	b, err := json.Marshal(env)
	if err != nil {
		return Frame{}, err
	}
	return TextFrame(b), nil
}
