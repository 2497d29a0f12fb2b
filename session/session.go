// Package session holds the durable, TTL-bound record of each active
// game session in the shared store, plus the player→session index used
// for reconnection.
package session

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a session is absent or expired.
var ErrNotFound = errors.New("session: not found")

// Action is one accepted game action, kept as an append-only history.
type Action struct {
	PlayerID string          `json:"player_id"`
	Action   json.RawMessage `json:"action"`
	Turn     int             `json:"turn"`
	At       time.Time       `json:"at"`
}

// Event is one entry of the session's append-only event log.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Record is the replicated session state. State is the opaque blob the
// game engine returned; the coordinator never inspects it.
type Record struct {
	ID        string          `json:"id"`
	GameID    string          `json:"game_id"`
	Template  string          `json:"template,omitempty"`
	Players   []string        `json:"players"`
	State     json.RawMessage `json:"state,omitempty"`
	Turn      int             `json:"turn"`
	Actions   []Action        `json:"actions,omitempty"`
	Events    []Event         `json:"events,omitempty"`
	Ended     bool            `json:"ended"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HasPlayer reports whether the player is a participant.
func (r *Record) HasPlayer(playerID string) bool {
	for _, p := range r.Players {
		if p == playerID {
			return true
		}
	}
	return false
}

// AppendAction records an accepted action at the current turn.
func (r *Record) AppendAction(playerID string, action json.RawMessage, at time.Time) {
	r.Actions = append(r.Actions, Action{
		PlayerID: playerID,
		Action:   action,
		Turn:     r.Turn,
		At:       at,
	})
}

// AppendEvent records a session-level event.
func (r *Record) AppendEvent(eventType string, payload json.RawMessage, at time.Time) {
	r.Events = append(r.Events, Event{
		Type:    eventType,
		Payload: payload,
		At:      at,
	})
}
