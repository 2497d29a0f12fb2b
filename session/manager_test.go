package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/broker"
	"github.com/Halldon-Inc/moltblox-realtime/store"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *time.Time) {
	t.Helper()
	s := store.NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	m := NewManager(s, broker.NewNoopBroker(), 24*time.Hour, "server-1", zap.NewNop())
	return m, s, &now
}

func testRecord() *Record {
	return &Record{
		ID:      "sess-1",
		GameID:  "chess",
		Players: []string{"alice", "bob"},
		State:   json.RawMessage(`{"board":"initial"}`),
	}
}

func TestManager_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	require.NoError(t, m.Create(ctx, testRecord()))

	rec, err := m.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "chess", rec.GameID)
	assert.Equal(t, []string{"alice", "bob"}, rec.Players)
	assert.False(t, rec.Ended)

	ok, err := m.Has(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.Get(ctx, "sess-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	m, _, now := newTestManager(t)

	require.NoError(t, m.Create(ctx, testRecord()))
	require.NoError(t, m.SetPlayerSession(ctx, "alice", "sess-1"))

	// Idle past the 24h TTL: session and index are both gone.
	*now = now.Add(25 * time.Hour)

	_, err := m.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	sessionID, err := m.GetPlayerSession(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, sessionID)
}

func TestManager_SaveMutations(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	rec := testRecord()
	require.NoError(t, m.Create(ctx, rec))

	rec.Turn = 3
	rec.Ended = true
	rec.AppendAction("alice", json.RawMessage(`{"type":"move"}`), time.Now())
	rec.AppendEvent("ended", nil, time.Now())
	require.NoError(t, m.Save(ctx, rec))

	got, err := m.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Turn)
	assert.True(t, got.Ended)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "alice", got.Actions[0].PlayerID)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "ended", got.Events[0].Type)
}

func TestManager_PlayerSessionIndex(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	require.NoError(t, m.SetPlayerSession(ctx, "alice", "sess-1"))

	sessionID, err := m.GetPlayerSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)

	require.NoError(t, m.DeletePlayerSession(ctx, "alice"))

	sessionID, err = m.GetPlayerSession(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, sessionID)
}

func TestRecord_HasPlayer(t *testing.T) {
	rec := testRecord()
	assert.True(t, rec.HasPlayer("alice"))
	assert.False(t, rec.HasPlayer("mallory"))
}

func TestManager_CleanupAll(t *testing.T) {
	ctx := context.Background()
	m, s, _ := newTestManager(t)

	require.NoError(t, m.Create(ctx, testRecord()))
	require.NoError(t, m.SetPlayerSession(ctx, "alice", "sess-1"))
	require.NoError(t, s.RPush(ctx, "mm:queue:chess", `{"client_id":"c1"}`))
	require.NoError(t, s.HSet(ctx, "mm:index", "alice", "chess"))
	require.NoError(t, s.Set(ctx, "unrelated:key", "keep", 0))

	removed, err := m.CleanupAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	_, err = m.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Keys outside the session/queue surface are untouched.
	val, err := s.Get(ctx, "unrelated:key")
	require.NoError(t, err)
	assert.Equal(t, "keep", val)
}
