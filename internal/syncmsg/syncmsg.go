package syncmsg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dmchat/internal/services/chat"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	batchSize = 100
	block     = 2 * time.Second
	backoff   = time.Second
)

var errBadEntry = errors.New("malformed stream entry")

// Run tails the message stream and persists every entry into Postgres.
// Entries are trimmed from the stream once committed; replay after a crash is
// absorbed by the unique stream_id.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB) {
	go func() {
		lastID := "0-0"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			next, err := step(ctx, rdc, db, lastID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				zap.L().Warn("syncmsg.step", zap.String("last_id", lastID), zap.Error(err))
				time.Sleep(backoff)
				continue
			}
			lastID = next
		}
	}()
}

// step reads one batch after lastID and returns the new cursor.
func step(ctx context.Context, rdc *redis.Client, db *sql.DB, lastID string) (string, error) {
	res, err := rdc.XRead(ctx, &redis.XReadArgs{
		Streams: []string{chat.MessagesStream, lastID},
		Count:   batchSize,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return lastID, nil
		}
		return lastID, fmt.Errorf("xread: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return lastID, nil
	}

	entries := res[0].Messages
	if err := persist(ctx, db, entries); err != nil {
		return lastID, fmt.Errorf("persist: %w", err)
	}
	next := entries[len(entries)-1].ID

	// keep the last committed entry so the cursor survives a trim race
	if err := rdc.XTrimMinID(ctx, chat.MessagesStream, next).Err(); err != nil {
		zap.L().Debug("syncmsg.trim", zap.Error(err))
	}
	return next, nil
}

func persist(ctx context.Context, db *sql.DB, msgs []redis.XMessage) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const ins = `INSERT INTO messages (stream_id, room_key, sender_id, receiver_id, message, sent_at)
	             VALUES ($1, $2, $3, $4, $5, $6)
	             ON CONFLICT (stream_id) DO NOTHING`
	for _, m := range msgs {
		row, err := decode(m)
		if err != nil {
			// a poisoned entry must not block the stream
			zap.L().Warn("syncmsg.skip", zap.String("id", m.ID), zap.Error(err))
			continue
		}

		// a rejected row aborts only its savepoint, not the batch
		if _, err := tx.ExecContext(ctx, "SAVEPOINT msg_row"); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, ins,
			m.ID, row.Room, row.SenderID, row.ReceiverID, row.Text, row.SentAt)
		if err == nil {
			continue
		}
		if !rejectedRow(err) {
			return err
		}
		zap.L().Warn("syncmsg.skip", zap.String("id", m.ID), zap.Error(err))
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT msg_row"); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// rejectedRow reports errors caused by the row itself: data exceptions
// (class 22) and integrity violations (class 23).
func rejectedRow(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}

func decode(m redis.XMessage) (chat.MessageDTO, error) {
	str := func(k string) string {
		s, _ := m.Values[k].(string)
		return s
	}
	row := chat.MessageDTO{
		StreamID:   m.ID,
		Room:       str("room"),
		SenderID:   str("sender"),
		ReceiverID: str("receiver"),
		Text:       str("text"),
	}
	if row.Room == "" || row.SenderID == "" || row.ReceiverID == "" {
		return row, errBadEntry
	}
	ms, err := strconv.ParseInt(str("at"), 10, 64)
	if err != nil {
		return row, fmt.Errorf("%w: at: %w", errBadEntry, err)
	}
	row.SentAt = time.UnixMilli(ms).UTC()
	return row, nil
}
