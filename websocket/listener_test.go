package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Halldon-Inc/moltblox-realtime/broker"
	"github.com/Halldon-Inc/moltblox-realtime/session"
)

// scriptedBroker hands the listener a pre-wired message channel and
// records what it subscribed to.
type scriptedBroker struct {
	messages   chan broker.Message
	subscribed chan []string
}

func newScriptedBroker() *scriptedBroker {
	return &scriptedBroker{
		messages:   make(chan broker.Message, 10),
		subscribed: make(chan []string, 1),
	}
}

func (b *scriptedBroker) Publish(context.Context, string, broker.Message) error { return nil }

func (b *scriptedBroker) Subscribe(_ context.Context, channels ...string) (<-chan broker.Message, error) {
	b.subscribed <- channels
	return b.messages, nil
}

func (b *scriptedBroker) Type() string { return "scripted" }

func (b *scriptedBroker) Close() error { return nil }

func startListener(t *testing.T, fx *gatewayFixture) *scriptedBroker {
	t.Helper()
	sb := newScriptedBroker()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go fx.gateway.ListenForNotifications(ctx, sb)

	// One subscription must carry both channels; a second consumer
	// session would churn the Kafka broker's group.
	select {
	case channels := <-sb.subscribed:
		assert.ElementsMatch(t,
			[]string{session.ChannelMatchFound, session.ChannelSessionUpdates}, channels)
	case <-time.After(3 * time.Second):
		t.Fatal("listener never subscribed")
	}
	return sb
}

func TestListener_AttachesRemotelyMatchedPlayer(t *testing.T) {
	fx := newGatewayFixture(t)

	conn := fx.dial(t)
	authenticate(t, conn, "alice")

	sb := startListener(t, fx)
	sb.messages <- broker.Message{
		Kind:      broker.KindMatchFound,
		ServerID:  "other-server",
		SessionID: "sess-remote",
		GameID:    "duel",
		PlayerIDs: []string{"alice", "bob"},
	}

	env := readEnvelope(t, conn)
	require.Equal(t, TypeMatchFound, env.Type)
	var p matchFoundPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "sess-remote", p.SessionID)

	// The client is now attached and receives session broadcasts.
	update := toJSON(Envelope{Type: TypeSessionUpdate, Payload: json.RawMessage(`{"turn":1}`)})
	sb.messages <- broker.Message{
		Kind:      broker.KindSessionUpdate,
		ServerID:  "other-server",
		SessionID: "sess-remote",
		Payload:   update,
	}
	env = readEnvelope(t, conn)
	assert.Equal(t, TypeSessionUpdate, env.Type)
}

func TestListener_SkipsOwnNotifications(t *testing.T) {
	fx := newGatewayFixture(t)

	conn := fx.dial(t)
	authenticate(t, conn, "alice")

	sb := startListener(t, fx)
	sb.messages <- broker.Message{
		Kind:      broker.KindMatchFound,
		ServerID:  "server-test", // this instance's own publish
		SessionID: "sess-own",
		GameID:    "duel",
		PlayerIDs: []string{"alice"},
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var env Envelope
	assert.Error(t, conn.ReadJSON(&env), "own-instance notification must not be re-delivered")
}

func TestListener_GameEndedReleasesLocalBindings(t *testing.T) {
	fx := newGatewayFixture(t)

	conn := fx.dial(t)
	authenticate(t, conn, "alice")

	sb := startListener(t, fx)
	sb.messages <- broker.Message{
		Kind:      broker.KindMatchFound,
		ServerID:  "other-server",
		SessionID: "sess-remote",
		GameID:    "duel",
		PlayerIDs: []string{"alice", "bob"},
	}
	require.Equal(t, TypeMatchFound, readEnvelope(t, conn).Type)

	ended := toJSON(Envelope{
		Type:    TypeGameEnded,
		Payload: toJSON(gameEndedPayload{SessionID: "sess-remote", WinnerID: "bob"}),
	})
	sb.messages <- broker.Message{
		Kind:      broker.KindSessionUpdate,
		ServerID:  "other-server",
		SessionID: "sess-remote",
		Payload:   ended,
	}
	require.Equal(t, TypeGameEnded, readEnvelope(t, conn).Type)

	require.Eventually(t, func() bool {
		return len(fx.manager.ForSession("sess-remote")) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The session is finished everywhere: chatting into it is rejected
	// on this instance too.
	sendMessage(t, conn, TypeChat, map[string]string{"message": "gg"})
	expectError(t, conn, CodeNotInSession)
}
