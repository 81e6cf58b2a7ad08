package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"dmchat/internal/roomkey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RoomDTO struct {
	Key        string    `json:"key"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at" example:"2025-07-27T16:05:05Z"`
}

// Has reports whether identity is one of the two participants.
func (r *RoomDTO) Has(identity string) bool {
	return identity != "" && (r.SenderID == identity || r.ReceiverID == identity)
}

type MessageDTO struct {
	StreamID   string    `json:"id"`
	Room       string    `json:"room"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at" example:"2025-07-27T16:05:05Z"`
}

const (
	redisRoomKeyPrefix = "room:"
	roomCacheTTL       = 24 * time.Hour

	// MessagesStream is drained into Postgres by syncmsg.
	MessagesStream = "messages_stream"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrSelfRoom        = errors.New("cannot open a room with yourself")
	ErrRoomNotFound    = errors.New("room not found")
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrInvalidText     = errors.New("message text must be valid UTF-8 without NUL")
	ErrPersist         = errors.New("message not persisted")
)

type IChatService interface {
	ResolveRoom(ctx context.Context, a, b string) (*RoomDTO, error)
	GetRoom(ctx context.Context, key string) (*RoomDTO, error)
	SendMessage(ctx context.Context, sender, receiver, text string) (*MessageDTO, error)
	History(ctx context.Context, roomKey string, limit, offset int) ([]MessageDTO, error)
}

type chatService struct {
	rdc *redis.Client
	db  *sql.DB
	now func() time.Time
}

var _ IChatService = (*chatService)(nil)

func NewChatService(rdc *redis.Client, db *sql.DB) IChatService {
	return &chatService{rdc: rdc, db: db, now: time.Now}
}

// ResolveRoom returns the room of the unordered pair (a, b), creating its row
// on first use. Repeated calls return the same key.
func (svc *chatService) ResolveRoom(ctx context.Context, a, b string) (*RoomDTO, error) {
	if a == "" || b == "" {
		return nil, ErrInvalidIdentity
	}
	if a == b {
		return nil, ErrSelfRoom
	}
	key := roomkey.Derive(a, b)
	if dto, ok := svc.cachedRoom(ctx, key); ok {
		return dto, nil
	}

	// concurrent resolvers of the same pair race on the unique key, not on a
	// read-then-insert
	const insertQ = `
	  INSERT INTO rooms (key, sender_id, receiver_id)
	       VALUES ($1, $2, $3)
	  ON CONFLICT (key) DO NOTHING`
	if _, err := svc.db.ExecContext(ctx, insertQ, key, a, b); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	dto, err := svc.loadRoom(ctx, key)
	if err != nil {
		return nil, err
	}
	svc.cacheRoom(ctx, dto)
	return dto, nil
}

func (svc *chatService) GetRoom(ctx context.Context, key string) (*RoomDTO, error) {
	if dto, ok := svc.cachedRoom(ctx, key); ok {
		return dto, nil
	}
	dto, err := svc.loadRoom(ctx, key)
	if err != nil {
		return nil, err
	}
	svc.cacheRoom(ctx, dto)
	return dto, nil
}

// SendMessage appends the message to the Redis stream; syncmsg persists it.
func (svc *chatService) SendMessage(ctx context.Context, sender, receiver, text string) (*MessageDTO, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}
	room, err := svc.ResolveRoom(ctx, sender, receiver)
	if err != nil {
		return nil, err
	}

	at := svc.now().UTC()
	id, err := svc.rdc.XAdd(ctx, &redis.XAddArgs{
		Stream: MessagesStream,
		Values: []interface{}{
			"room", room.Key,
			"sender", sender,
			"receiver", receiver,
			"text", text,
			"at", at.UnixMilli(),
		},
	}).Result()
	if err != nil {
		zap.L().Error("chat.xadd", zap.String("room", room.Key), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	return &MessageDTO{
		StreamID:   id,
		Room:       room.Key,
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       text,
		SentAt:     time.UnixMilli(at.UnixMilli()).UTC(),
	}, nil
}

func (svc *chatService) History(ctx context.Context, roomKey string, limit, offset int) ([]MessageDTO, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	const q = `SELECT stream_id, room_key, sender_id, receiver_id, message, sent_at
                 FROM messages
                WHERE room_key = $1
             ORDER BY sent_at DESC, id DESC
                LIMIT $2 OFFSET $3`
	rows, err := svc.db.QueryContext(ctx, q, roomKey, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]MessageDTO, 0, limit)
	for rows.Next() {
		var m MessageDTO
		if err := rows.Scan(&m.StreamID, &m.Room, &m.SenderID,
			&m.ReceiverID, &m.Text, &m.SentAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// ValidateText rejects text Postgres cannot store in a TEXT column.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
		return ErrInvalidText
	}
	return nil
}

// helpers

func (svc *chatService) loadRoom(ctx context.Context, key string) (*RoomDTO, error) {
	const q = `SELECT key, sender_id, receiver_id, created_at FROM rooms WHERE key = $1`
	dto := &RoomDTO{}
	err := svc.db.QueryRowContext(ctx, q, key).
		Scan(&dto.Key, &dto.SenderID, &dto.ReceiverID, &dto.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return dto, nil
}

// cache layout: room:<key> -> {sid, rid, ca}
func (svc *chatService) cachedRoom(ctx context.Context, key string) (*RoomDTO, bool) {
	snap, err := svc.rdc.HGetAll(ctx, redisRoomKeyPrefix+key).Result()
	if err != nil {
		zap.L().Debug("chat.cache_read", zap.String("room", key), zap.Error(err))
		return nil, false
	}
	if snap["sid"] == "" || snap["rid"] == "" {
		return nil, false
	}
	return &RoomDTO{
		Key:        key,
		SenderID:   snap["sid"],
		ReceiverID: snap["rid"],
		CreatedAt:  ts(snap["ca"]),
	}, true
}

func (svc *chatService) cacheRoom(ctx context.Context, dto *RoomDTO) {
	key := redisRoomKeyPrefix + dto.Key
	err := svc.rdc.HSet(ctx, key,
		"sid", dto.SenderID,
		"rid", dto.ReceiverID,
		"ca", dto.CreatedAt.Unix(),
	).Err()
	if err == nil {
		err = svc.rdc.Expire(ctx, key, roomCacheTTL).Err()
	}
	if err != nil {
		zap.L().Debug("chat.cache_write", zap.String("room", dto.Key), zap.Error(err))
	}
}

func ts(s string) time.Time {
	i, _ := strconv.ParseInt(s, 10, 64)
	return time.Unix(i, 0).UTC()
}
