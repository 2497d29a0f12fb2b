// Package broker fans session notifications out to the other gateway
// instances. Notifications are best-effort cache-invalidation signals;
// the shared store stays the source of truth, so a missed message only
// delays a push, it never corrupts state.
package broker

import (
	"context"
	"encoding/json"
)

// Notification kinds carried on the broker channels.
const (
	KindMatchFound    = "match_found"
	KindSessionUpdate = "session_update"
)

// Message is the cross-instance notification envelope. ServerID names
// the originating instance so listeners can skip their own publishes.
type Message struct {
	Kind      string          `json:"kind"`
	ServerID  string          `json:"server_id"`
	SessionID string          `json:"session_id"`
	GameID    string          `json:"game_id,omitempty"`
	PlayerIDs []string        `json:"player_ids,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MessageBroker is implemented by the Redis pub/sub broker, the Kafka
// broker and the single-instance noop broker.
type MessageBroker interface {
	Publish(ctx context.Context, channel string, message Message) error
	// Subscribe delivers messages from all the given channels until ctx
	// is cancelled; the returned channel is closed when delivery stops.
	// One subscription must cover every channel a consumer needs: the
	// Kafka broker runs a single consumer session, and a second session
	// on the same group would trigger rebalance churn.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	Type() string
	Close() error
}
