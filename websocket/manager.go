package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/metrics"
)

// Manager is the owned registry of this instance's live connections.
// Every entry's lifecycle is explicit: inserted on connect, removed on
// every exit path. It also runs the heartbeat scan.
type Manager struct {
	clients  sync.Map // client id → *Client
	logger   *zap.Logger
	done     chan struct{}
	stopOnce sync.Once
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Add registers a live connection.
func (m *Manager) Add(c *Client) {
	m.clients.Store(c.ID, c)
	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
}

// Remove deregisters a connection. Returns false if the client was
// already gone, so doubled cleanup paths stay idempotent.
func (m *Manager) Remove(clientID string) bool {
	if _, loaded := m.clients.LoadAndDelete(clientID); !loaded {
		return false
	}
	metrics.ActiveConnections.Dec()
	return true
}

// Get retrieves a live connection by client id.
func (m *Manager) Get(clientID string) (*Client, bool) {
	if v, ok := m.clients.Load(clientID); ok {
		return v.(*Client), true
	}
	return nil, false
}

// FindByPlayer returns the connection bound to the player id, if any.
func (m *Manager) FindByPlayer(playerID string) (*Client, bool) {
	var found *Client
	m.clients.Range(func(_, v interface{}) bool {
		c := v.(*Client)
		if c.PlayerID() == playerID {
			found = c
			return false
		}
		return true
	})
	return found, found != nil
}

// ForSession returns every local connection attached to the session as
// a participant or spectator.
func (m *Manager) ForSession(sessionID string) []*Client {
	var out []*Client
	m.clients.Range(func(_, v interface{}) bool {
		c := v.(*Client)
		if c.SessionID() == sessionID || c.Spectating() == sessionID {
			out = append(out, c)
		}
		return true
	})
	return out
}

// BroadcastToSession pushes a message to every local connection on the
// session, excluding the client id in skip (pass "" to send to all).
func (m *Manager) BroadcastToSession(sessionID, skip, msgType string, payload interface{}) {
	for _, c := range m.ForSession(sessionID) {
		if c.ID == skip {
			continue
		}
		if err := c.Send(msgType, payload); err != nil {
			m.logger.Warn("broadcast write failed",
				zap.String("client_id", c.ID),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
}

// StartHeartbeat scans all live connections every interval: silent
// connections past the timeout are force-closed (their read loops then
// run the normal cleanup path); the rest receive a liveness probe.
func (m *Manager) StartHeartbeat(interval, timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.scan(timeout)
			}
		}
	}()
}

func (m *Manager) scan(timeout time.Duration) {
	now := time.Now()
	m.clients.Range(func(_, v interface{}) bool {
		c := v.(*Client)
		if now.Sub(c.LastHeartbeat()) > timeout {
			m.logger.Info("closing silent connection",
				zap.String("client_id", c.ID),
				zap.Time("last_heartbeat", c.LastHeartbeat()))
			metrics.HeartbeatTimeouts.Inc()
			c.Close(websocket.ClosePolicyViolation, "heartbeat timeout")
			return true
		}
		if err := c.SendPing(); err != nil {
			m.logger.Warn("ping failed", zap.String("client_id", c.ID), zap.Error(err))
			c.Close(websocket.CloseInternalServerErr, "ping failure")
		}
		return true
	})
}

// CloseAll closes every connection, for graceful shutdown.
func (m *Manager) CloseAll(reason string) {
	m.clients.Range(func(_, v interface{}) bool {
		c := v.(*Client)
		c.Close(websocket.CloseGoingAway, reason)
		return true
	})
}

// Stop halts the heartbeat scan.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}
