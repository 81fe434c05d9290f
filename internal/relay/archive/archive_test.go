package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "chat", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAppendAndHistoryAreScoped(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	appt, _ := domain.NewAppointmentSession("42")
	room, _ := domain.NewRoomSession("42")

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, db.Append(ctx, relay.ChatEntry{Session: appt, SenderID: "u1", Sender: "Ann", Text: "hi", At: at}))
	require.NoError(t, db.Append(ctx, relay.ChatEntry{Session: room, SenderID: "u2", Sender: "Bob", Text: "room msg", At: at}))
	require.NoError(t, db.Append(ctx, relay.ChatEntry{Session: appt, SenderID: "u3", Sender: "Cid", Text: "hello", At: at.Add(time.Second)}))

	got, err := db.History(ctx, appt, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Text)
	assert.Equal(t, "hello", got[1].Text)
	assert.Equal(t, domain.UserID("u3"), got[1].SenderID)
	assert.True(t, got[0].At.Equal(at))
	assert.Equal(t, appt, got[0].Session)

	got, err = db.History(ctx, room, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Bob", got[0].Sender)
}

func TestHistoryKeepsNewestWithinLimit(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	s, _ := domain.NewRoomSession("r")
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, db.Append(ctx, relay.ChatEntry{Session: s, SenderID: "u", Sender: "U", Text: text, At: time.Now()}))
	}

	got, err := db.History(ctx, s, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Text)
	assert.Equal(t, "three", got[1].Text)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	db, err := Open(path)
	require.NoError(t, err)
	s, _ := domain.NewAppointmentSession("a")
	require.NoError(t, db.Append(context.Background(), relay.ChatEntry{Session: s, SenderID: "u", Sender: "U", Text: "kept", At: time.Now()}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.History(context.Background(), s, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Text)
}
