package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/broker"
	"github.com/Halldon-Inc/moltblox-realtime/metrics"
	"github.com/Halldon-Inc/moltblox-realtime/store"
)

const (
	sessionKeyPrefix = "game:session:"
	playerKeyPrefix  = "player:session:"

	// Broker channels for cross-instance notifications.
	ChannelMatchFound     = "moltblox:match-found"
	ChannelSessionUpdates = "moltblox:session-updates"
)

// Prefixes wiped by CleanupAll. Includes the matchmaking keys: stale
// queue entries from a crashed instance would block players from
// re-queueing until the queue TTL clears them.
var cleanupPatterns = []string{
	sessionKeyPrefix + "*",
	playerKeyPrefix + "*",
	"mm:*",
}

// Manager owns session records and the player→session index, and
// publishes best-effort notifications so other instances can push
// changes to their locally attached connections.
type Manager struct {
	store    store.Store
	broker   broker.MessageBroker
	ttl      time.Duration
	serverID string
	logger   *zap.Logger
}

func NewManager(s store.Store, b broker.MessageBroker, ttl time.Duration, serverID string, logger *zap.Logger) *Manager {
	return &Manager{
		store:    s,
		broker:   b,
		ttl:      ttl,
		serverID: serverID,
		logger:   logger,
	}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func playerKey(playerID string) string {
	return playerKeyPrefix + playerID
}

// Create stores a new session record with the full TTL.
func (m *Manager) Create(ctx context.Context, rec *Record) error {
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	return m.write(ctx, rec)
}

// Get retrieves a session. Returns ErrNotFound if absent or expired.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Record, error) {
	data, err := m.store.Get(ctx, sessionKey(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// Save persists a mutated record, refreshing its TTL and every
// participant's reconnection index.
func (m *Manager) Save(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now()
	if err := m.write(ctx, rec); err != nil {
		return err
	}
	for _, playerID := range rec.Players {
		if err := m.store.Expire(ctx, playerKey(playerID), m.ttl); err != nil {
			m.logger.Warn("failed to refresh player index TTL",
				zap.String("player_id", playerID), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) write(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.ID, err)
	}
	if err := m.store.Set(ctx, sessionKey(rec.ID), string(data), m.ttl); err != nil {
		return fmt.Errorf("write session %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a session record.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionKey(sessionID))
}

// Has probes for the session without deserializing it.
func (m *Manager) Has(ctx context.Context, sessionID string) (bool, error) {
	return m.store.Exists(ctx, sessionKey(sessionID))
}

// SetPlayerSession binds a player to a session for reconnection lookup.
func (m *Manager) SetPlayerSession(ctx context.Context, playerID, sessionID string) error {
	return m.store.Set(ctx, playerKey(playerID), sessionID, m.ttl)
}

// GetPlayerSession answers "does this player have a live session".
func (m *Manager) GetPlayerSession(ctx context.Context, playerID string) (string, error) {
	sessionID, err := m.store.Get(ctx, playerKey(playerID))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return sessionID, err
}

// DeletePlayerSession drops the reconnection binding, on session end or
// explicit leave.
func (m *Manager) DeletePlayerSession(ctx context.Context, playerIDs ...string) error {
	keys := make([]string, len(playerIDs))
	for i, id := range playerIDs {
		keys[i] = playerKey(id)
	}
	return m.store.Delete(ctx, keys...)
}

// PublishMatchFound tells other instances a queue produced a session so
// they can attach their local clients. Best effort.
func (m *Manager) PublishMatchFound(ctx context.Context, sessionID, gameID string, playerIDs []string) {
	m.publish(ctx, ChannelMatchFound, broker.Message{
		Kind:      broker.KindMatchFound,
		ServerID:  m.serverID,
		SessionID: sessionID,
		GameID:    gameID,
		PlayerIDs: playerIDs,
	})
}

// PublishSessionUpdate fans a session broadcast out to other instances.
// Best effort.
func (m *Manager) PublishSessionUpdate(ctx context.Context, sessionID string, payload json.RawMessage) {
	m.publish(ctx, ChannelSessionUpdates, broker.Message{
		Kind:      broker.KindSessionUpdate,
		ServerID:  m.serverID,
		SessionID: sessionID,
		Payload:   payload,
	})
}

func (m *Manager) publish(ctx context.Context, channel string, msg broker.Message) {
	if err := m.broker.Publish(ctx, channel, msg); err != nil {
		m.logger.Warn("broker publish failed",
			zap.String("channel", channel),
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
		return
	}
	metrics.BrokerMessagesPublished.WithLabelValues(m.broker.Type()).Inc()
}

// CleanupAll wipes session, player-index and matchmaking keys. Run once
// at process start to purge stale state from a crashed prior instance.
// Uses the store's cursor scan, never a single unbounded operation.
func (m *Manager) CleanupAll(ctx context.Context) (int, error) {
	removed := 0
	for _, pattern := range cleanupPatterns {
		keys, err := m.store.ScanKeys(ctx, pattern)
		if err != nil {
			return removed, fmt.Errorf("scan %q: %w", pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := m.store.Delete(ctx, keys...); err != nil {
			return removed, fmt.Errorf("delete %q keys: %w", pattern, err)
		}
		removed += len(keys)
	}
	return removed, nil
}
