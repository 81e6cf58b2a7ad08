package chat

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"

	"dmchat/internal/roomkey"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC)

func newTestService(t *testing.T) (*chatService, sqlmock.Sqlmock, redismock.ClientMock) {
	t.Helper()
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rdc, redisMock := redismock.NewClientMock()
	t.Cleanup(func() { rdc.Close() })

	return &chatService{rdc: rdc, db: db, now: func() time.Time { return fixedNow }}, sqlMock, redisMock
}

func expectRoomMiss(redisMock redismock.ClientMock, sqlMock sqlmock.Sqlmock, key, a, b string) {
	redisMock.ExpectHGetAll(redisRoomKeyPrefix + key).SetVal(map[string]string{})
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO rooms")).
		WithArgs(key, a, b).
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectQuery(regexp.QuoteMeta("SELECT key, sender_id, receiver_id, created_at FROM rooms")).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"key", "sender_id", "receiver_id", "created_at"}).
			AddRow(key, a, b, fixedNow))
	redisMock.ExpectHSet(redisRoomKeyPrefix+key, "sid", a, "rid", b, "ca", fixedNow.Unix()).SetVal(3)
	redisMock.ExpectExpire(redisRoomKeyPrefix+key, roomCacheTTL).SetVal(true)
}

func roomHit(a, b string) map[string]string {
	return map[string]string{"sid": a, "rid": b, "ca": strconv.FormatInt(fixedNow.Unix(), 10)}
}

func TestResolveRoomCreatesAndCaches(t *testing.T) {
	svc, sqlMock, redisMock := newTestService(t)
	key := roomkey.Derive("5", "9")
	expectRoomMiss(redisMock, sqlMock, key, "5", "9")

	room, err := svc.ResolveRoom(context.Background(), "5", "9")
	require.NoError(t, err)
	assert.Equal(t, key, room.Key)
	assert.Equal(t, "5", room.SenderID)
	assert.Equal(t, "9", room.ReceiverID)
	assert.True(t, room.Has("9"))
	assert.False(t, room.Has("7"))

	require.NoError(t, sqlMock.ExpectationsWereMet())
	require.NoError(t, redisMock.ExpectationsWereMet())
}

func TestResolveRoomIsOrderIndependent(t *testing.T) {
	svc, sqlMock, redisMock := newTestService(t)
	key := roomkey.Derive("5", "9")
	redisMock.ExpectHGetAll(redisRoomKeyPrefix + key).SetVal(roomHit("5", "9"))

	// (9, 5) hits the row created for (5, 9)
	room, err := svc.ResolveRoom(context.Background(), "9", "5")
	require.NoError(t, err)
	assert.Equal(t, key, room.Key)
	assert.Equal(t, "5", room.SenderID)

	require.NoError(t, sqlMock.ExpectationsWereMet())
	require.NoError(t, redisMock.ExpectationsWereMet())
}

func TestResolveRoomRejectsBadPairs(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ResolveRoom(context.Background(), "", "9")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = svc.ResolveRoom(context.Background(), "5", "5")
	assert.ErrorIs(t, err, ErrSelfRoom)
}

func TestGetRoomNotFound(t *testing.T) {
	svc, sqlMock, redisMock := newTestService(t)
	redisMock.ExpectHGetAll(redisRoomKeyPrefix + "nope").RedisNil()
	sqlMock.ExpectQuery(regexp.QuoteMeta("SELECT key, sender_id, receiver_id, created_at FROM rooms")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.GetRoom(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestSendMessageAppendsToStream(t *testing.T) {
	svc, _, redisMock := newTestService(t)
	key := roomkey.Derive("5", "9")
	redisMock.ExpectHGetAll(redisRoomKeyPrefix + key).SetVal(roomHit("5", "9"))
	redisMock.ExpectXAdd(&redis.XAddArgs{
		Stream: MessagesStream,
		Values: []interface{}{
			"room", key,
			"sender", "9",
			"receiver", "5",
			"text", "hello",
			"at", fixedNow.UnixMilli(),
		},
	}).SetVal("1700000000000-0")

	msg, err := svc.SendMessage(context.Background(), "9", "5", "hello")
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", msg.StreamID)
	assert.Equal(t, key, msg.Room)
	assert.Equal(t, fixedNow, msg.SentAt)
	require.NoError(t, redisMock.ExpectationsWereMet())
}

func TestSendMessageSurfacesStreamFailure(t *testing.T) {
	svc, _, redisMock := newTestService(t)
	key := roomkey.Derive("5", "9")
	redisMock.ExpectHGetAll(redisRoomKeyPrefix + key).SetVal(roomHit("5", "9"))
	redisMock.ExpectXAdd(&redis.XAddArgs{
		Stream: MessagesStream,
		Values: []interface{}{
			"room", key,
			"sender", "5",
			"receiver", "9",
			"text", "hello",
			"at", fixedNow.UnixMilli(),
		},
	}).SetErr(errors.New("OOM"))

	_, err := svc.SendMessage(context.Background(), "5", "9", "hello")
	assert.ErrorIs(t, err, ErrPersist)
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.SendMessage(context.Background(), "5", "9", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendMessageRejectsUnstorableText(t *testing.T) {
	svc, sqlMock, redisMock := newTestService(t)

	for _, text := range []string{"a\x00b", "bad \xff byte"} {
		_, err := svc.SendMessage(context.Background(), "5", "9", text)
		assert.ErrorIs(t, err, ErrInvalidText, "%q", text)
	}
	assert.NoError(t, ValidateText("héllo 👋"))
	require.NoError(t, redisMock.ExpectationsWereMet())
	require.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestHistoryDefaultsAndClamps(t *testing.T) {
	svc, sqlMock, _ := newTestService(t)
	cols := []string{"stream_id", "room_key", "sender_id", "receiver_id", "message", "sent_at"}

	sqlMock.ExpectQuery(regexp.QuoteMeta("FROM messages")).
		WithArgs("k", defaultHistoryLimit, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("2-0", "k", "9", "5", "hi back", fixedNow).
			AddRow("1-0", "k", "5", "9", "hi", fixedNow.Add(-time.Minute)))

	list, err := svc.History(context.Background(), "k", 0, -3)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "hi back", list[0].Text)
	assert.Equal(t, "5", list[1].SenderID)

	sqlMock.ExpectQuery(regexp.QuoteMeta("FROM messages")).
		WithArgs("k", maxHistoryLimit, 10).
		WillReturnRows(sqlmock.NewRows(cols))
	list, err = svc.History(context.Background(), "k", 1000, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, sqlMock.ExpectationsWereMet())
}
