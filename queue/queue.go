// Package queue implements the per-game matchmaking waiting lists on
// top of the shared store, with a player→game index for O(1) membership
// checks. Multiple gateway instances drain the same queues concurrently;
// the store's atomic PopFrontN is the only synchronization needed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Halldon-Inc/moltblox-realtime/store"
)

const (
	queueKeyPrefix = "mm:queue:"
	indexKey       = "mm:index"
)

// ErrAlreadyQueued is returned by Enqueue when the player is already
// waiting in some game's queue.
var ErrAlreadyQueued = errors.New("queue: player already queued")

// Entry is one waiting player.
type Entry struct {
	ClientID string    `json:"client_id"`
	PlayerID string    `json:"player_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type Queue struct {
	store store.Store
	ttl   time.Duration
}

func New(s store.Store, ttl time.Duration) *Queue {
	return &Queue{store: s, ttl: ttl}
}

func queueKey(gameID string) string {
	return queueKeyPrefix + gameID
}

// Enqueue appends the entry to the tail of the game's queue and indexes
// the player. A player may wait in at most one queue at a time.
func (q *Queue) Enqueue(ctx context.Context, gameID string, e Entry) error {
	if _, err := q.store.HGet(ctx, indexKey, e.PlayerID); err == nil {
		return ErrAlreadyQueued
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("queue index lookup: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}

	key := queueKey(gameID)
	if err := q.store.RPush(ctx, key, string(data)); err != nil {
		return fmt.Errorf("push queue entry: %w", err)
	}
	if err := q.store.Expire(ctx, key, q.ttl); err != nil {
		return fmt.Errorf("refresh queue ttl: %w", err)
	}
	if err := q.store.HSet(ctx, indexKey, e.PlayerID, gameID); err != nil {
		return fmt.Errorf("index queued player: %w", err)
	}
	return nil
}

// FindGame returns the game the player is queued for, or "" if none.
func (q *Queue) FindGame(ctx context.Context, playerID string) (string, error) {
	gameID, err := q.store.HGet(ctx, indexKey, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return gameID, err
}

// DequeueFront atomically removes the first count entries of the game's
// queue. If fewer than count players are waiting it returns nil and the
// queue is untouched, so two instances racing on the same queue can
// never double-match a player. Index entries for the drained players are
// cleared afterwards; the popped batch is exclusively owned by this
// caller, so that cleanup cannot race another drain.
func (q *Queue) DequeueFront(ctx context.Context, gameID string, count int) ([]Entry, error) {
	raw, err := q.store.PopFrontN(ctx, queueKey(gameID), count)
	if err != nil {
		return nil, fmt.Errorf("drain queue %s: %w", gameID, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(raw))
	players := make([]string, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode queue entry: %w", err)
		}
		entries = append(entries, e)
		players = append(players, e.PlayerID)
	}

	if err := q.store.HDel(ctx, indexKey, players...); err != nil {
		return nil, fmt.Errorf("clear queue index: %w", err)
	}
	return entries, nil
}

// RemoveClient scans the per-game queues for an entry belonging to the
// client and removes it. Used when a queued client disconnects.
func (q *Queue) RemoveClient(ctx context.Context, clientID string) error {
	keys, err := q.store.ScanKeys(ctx, queueKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan queues: %w", err)
	}

	for _, key := range keys {
		raw, err := q.store.LRange(ctx, key, 0, -1)
		if err != nil {
			return fmt.Errorf("read queue %s: %w", key, err)
		}
		for _, r := range raw {
			var e Entry
			if err := json.Unmarshal([]byte(r), &e); err != nil {
				continue
			}
			if e.ClientID != clientID {
				continue
			}
			if err := q.store.LRem(ctx, key, 1, r); err != nil {
				return fmt.Errorf("remove queue entry: %w", err)
			}
			if err := q.store.HDel(ctx, indexKey, e.PlayerID); err != nil {
				return fmt.Errorf("clear queue index: %w", err)
			}
			n, err := q.store.LLen(ctx, key)
			if err == nil && n == 0 {
				q.store.Delete(ctx, key)
			}
			return nil
		}
	}
	return nil
}

// Len reports how many players are waiting for the game.
func (q *Queue) Len(ctx context.Context, gameID string) (int64, error) {
	return q.store.LLen(ctx, queueKey(gameID))
}
