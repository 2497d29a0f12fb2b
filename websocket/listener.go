package websocket

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/broker"
	"github.com/Halldon-Inc/moltblox-realtime/session"
)

// ListenForNotifications consumes the cross-instance channels and
// pushes changes produced elsewhere to locally attached connections.
// Notifications are best effort: the store is the source of truth, so
// a missed message only delays a push. Both channels ride one
// subscription; the Kafka broker supports only a single consumer
// session per instance.
func (g *Gateway) ListenForNotifications(ctx context.Context, b broker.MessageBroker) error {
	messages, err := b.Subscribe(ctx, session.ChannelMatchFound, session.ChannelSessionUpdates)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			switch msg.Kind {
			case broker.KindMatchFound:
				g.onMatchFound(msg)
			case broker.KindSessionUpdate:
				g.onSessionUpdate(msg)
			default:
				g.logger.Warn("dropping notification of unknown kind",
					zap.String("kind", msg.Kind),
					zap.String("session_id", msg.SessionID))
			}
		}
	}
}

// onMatchFound attaches local clients whose queue entries were drained
// by another instance.
func (g *Gateway) onMatchFound(msg broker.Message) {
	if msg.ServerID == g.serverID {
		// Produced here; local clients were attached synchronously.
		return
	}

	payload := matchFoundPayload{
		SessionID: msg.SessionID,
		GameID:    msg.GameID,
		Players:   msg.PlayerIDs,
	}
	for _, playerID := range msg.PlayerIDs {
		cl, ok := g.manager.FindByPlayer(playerID)
		if !ok || cl.SessionID() != "" {
			continue
		}
		cl.SetSessionID(msg.SessionID)
		cl.Send(TypeMatchFound, payload)
	}
}

// onSessionUpdate rebroadcasts a session envelope produced elsewhere to
// local participants and spectators. A game_ended envelope also releases
// the local bindings, exactly as finalizeSession does on the instance
// that ended the game.
func (g *Gateway) onSessionUpdate(msg broker.Message) {
	if msg.ServerID == g.serverID {
		return
	}

	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		g.logger.Warn("dropping undecodable session update",
			zap.String("session_id", msg.SessionID), zap.Error(err))
		return
	}
	g.manager.BroadcastToSession(msg.SessionID, "", env.Type, env.Payload)

	if env.Type == TypeGameEnded {
		g.releaseLocalSession(msg.SessionID)
	}
}
