package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/Halldon-Inc/moltblox-realtime/config"
	"github.com/Halldon-Inc/moltblox-realtime/metrics"
)

const (
	writeRetryDelay = 200 * time.Millisecond
	writeRetryMax   = 3
)

// Client is the gateway-local, ephemeral state of one live connection.
// Created on connect, mutated by message handlers, destroyed on
// disconnect, timeout or error.
type Client struct {
	ID string
	IP string

	conn *websocket.Conn
	cfg  *config.WebSocketConfig

	mu         sync.Mutex
	playerID   string
	sessionID  string
	spectating string

	lastHeartbeat atomic.Int64
	closed        atomic.Bool
}

func NewClient(id string, conn *websocket.Conn, ip string, cfg *config.WebSocketConfig) *Client {
	c := &Client{
		ID:   id,
		IP:   ip,
		conn: conn,
		cfg:  cfg,
	}
	c.lastHeartbeat.Store(time.Now().Unix())
	return c
}

func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) SetPlayerID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = id
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func (c *Client) Spectating() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spectating
}

func (c *Client) SetSpectating(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spectating = id
}

// TouchHeartbeat records liveness; called on pong and on any inbound
// message.
func (c *Client) TouchHeartbeat() {
	c.lastHeartbeat.Store(time.Now().Unix())
}

// LastHeartbeat returns the time of the last observed liveness signal.
func (c *Client) LastHeartbeat() time.Time {
	return time.Unix(c.lastHeartbeat.Load(), 0)
}

// Send writes a typed message to the client.
func (c *Client) Send(msgType string, payload interface{}) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return c.write(Envelope{Type: msgType, Payload: body})
}

// SendError delivers a typed error envelope. The connection stays open;
// hard failures are closed separately by the caller.
func (c *Client) SendError(code, reason string) {
	// Best effort: a client we cannot reach is cleaned up by its read loop.
	_ = c.Send(TypeError, ErrorPayload{Code: code, Reason: reason})
}

// write serializes access to the connection and retries transient write
// failures a few times before giving up.
func (c *Client) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	operation := func() error {
		c.conn.SetWriteDeadline(time.Now().Add(time.Duration(c.cfg.WriteTimeout) * time.Second))
		return c.conn.WriteJSON(v)
	}

	strategy := backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryDelay), writeRetryMax)
	if err := backoff.Retry(operation, backoff.WithContext(strategy, context.Background())); err != nil {
		return err
	}
	metrics.MessagesSent.Inc()
	return nil
}

// SendPing sends a liveness probe as a websocket control frame.
func (c *Client) SendPing() error {
	return c.conn.WriteControl(
		websocket.PingMessage,
		nil,
		time.Now().Add(time.Duration(c.cfg.WriteTimeout)*time.Second),
	)
}

// Close sends a close frame and tears the connection down. Idempotent;
// every exit path may call it.
func (c *Client) Close(code int, text string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	deadline := time.Now().Add(time.Duration(c.cfg.WriteTimeout) * time.Second)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	return c.conn.Close()
}

// Closed reports whether Close has run.
func (c *Client) Closed() bool {
	return c.closed.Load()
}
