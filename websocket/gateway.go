package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/config"
	"github.com/Halldon-Inc/moltblox-realtime/game"
	"github.com/Halldon-Inc/moltblox-realtime/limiter"
	"github.com/Halldon-Inc/moltblox-realtime/metrics"
	"github.com/Halldon-Inc/moltblox-realtime/queue"
	"github.com/Halldon-Inc/moltblox-realtime/session"
)

// Gateway owns the lifecycle of every persistent connection on this
// instance and orchestrates the queue, session and limiter components
// through the message router.
type Gateway struct {
	cfg      *config.AppConfig
	serverID string

	manager  *Manager
	router   *Router
	upgrader websocket.Upgrader

	queue     *queue.Queue
	sessions  *session.Manager
	games     *game.Registry
	engines   *game.EngineCache
	validator *Validator

	limits *limiter.RateLimiter
	guard  *limiter.AuthGuard
	cap    *limiter.ConnCap

	logger *zap.Logger
}

type Deps struct {
	Manager   *Manager
	Queue     *queue.Queue
	Sessions  *session.Manager
	Games     *game.Registry
	Validator *Validator
	Limits    *limiter.RateLimiter
	Guard     *limiter.AuthGuard
	Cap       *limiter.ConnCap
}

func NewGateway(cfg *config.AppConfig, serverID string, deps Deps, logger *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		serverID:  serverID,
		manager:   deps.Manager,
		queue:     deps.Queue,
		sessions:  deps.Sessions,
		games:     deps.Games,
		engines:   game.NewEngineCache(),
		validator: deps.Validator,
		limits:    deps.Limits,
		guard:     deps.Guard,
		cap:       deps.Cap,
		logger:    logger,
	}

	g.upgrader = websocket.Upgrader{
		HandshakeTimeout: time.Duration(cfg.WebSocket.HandshakeTimeout) * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), cfg.WebSocket.AllowedOrigins)
		},
	}

	g.router = NewRouter()
	g.router.Handle(TypeAuthenticate, []string{"token"}, false, g.handleAuthenticate)
	g.router.Handle(TypeJoinQueue, []string{"gameId"}, true, g.handleJoinQueue)
	g.router.Handle(TypeLeaveQueue, nil, true, g.handleLeaveQueue)
	g.router.Handle(TypeGameAction, []string{"action"}, true, g.handleGameAction)
	g.router.Handle(TypeEndGame, []string{"sessionId"}, true, g.handleEndGame)
	g.router.Handle(TypeSpectate, []string{"sessionId"}, true, g.handleSpectate)
	g.router.Handle(TypeReconnect, []string{"token", "sessionId"}, false, g.handleReconnect)
	g.router.Handle(TypeChat, []string{"message"}, true, g.handleChat)

	return g
}

// originAllowed enforces the accept policy: connections with no
// declared origin are rejected; otherwise the origin must be on the
// allow-list. A "*" entry permits any declared origin (dev only).
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleWebSocket accepts one persistent connection and runs its read
// loop. Messages on a single connection are processed sequentially;
// there is no ordering guarantee across connections.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)

	if !g.cap.Acquire(ip) {
		metrics.ConnectionsRejected.WithLabelValues("ip_cap").Inc()
		g.logger.Warn("connection rejected: per-IP cap reached", zap.String("ip", ip))
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	// CheckOrigin runs inside Upgrade; a disallowed origin fails here.
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.cap.Release(ip)
		metrics.ConnectionsRejected.WithLabelValues("handshake").Inc()
		g.logger.Info("websocket upgrade failed", zap.String("ip", ip), zap.Error(err))
		return
	}

	conn.SetReadLimit(g.cfg.WebSocket.MessageSizeLimit)

	client := NewClient(uuid.New().String(), conn, ip, &g.cfg.WebSocket)
	conn.SetPongHandler(func(string) error {
		client.TouchHeartbeat()
		return nil
	})

	g.manager.Add(client)
	defer g.cleanupClient(client)

	if err := client.Send(TypeConnected, map[string]string{"client_id": client.ID}); err != nil {
		g.logger.Warn("failed to send welcome", zap.String("client_id", client.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, net.ErrClosed) && !client.Closed() {
				g.logger.Info("read error", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}
		metrics.MessagesReceived.Inc()
		client.TouchHeartbeat()

		switch g.limits.Allow(g.rateKey(client)) {
		case limiter.OK:
			g.router.Dispatch(ctx, client, msg)
		case limiter.Warn:
			metrics.RateLimitWarnings.Inc()
			client.Send(TypeWarning, ErrorPayload{
				Code:   CodeRateLimited,
				Reason: "message rate limit exceeded, slow down",
			})
		case limiter.Throttled:
			// Already warned this window; drop silently.
		case limiter.Disconnect:
			metrics.RateLimitKicks.Inc()
			g.logger.Warn("disconnecting rate limit violator",
				zap.String("client_id", client.ID),
				zap.String("player_id", client.PlayerID()))
			client.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
	}
}

// rateKey prefers the authenticated player id so a reconnect under a
// fresh client id does not reset a player's penalty; pre-auth traffic
// is bounded per connection.
func (g *Gateway) rateKey(c *Client) string {
	if pid := c.PlayerID(); pid != "" {
		return "p:" + pid
	}
	return "c:" + c.ID
}

// cleanupClient runs on every exit path: disconnect, timeout, error,
// rate-limit kick, shutdown. Safe to run more than once per client.
func (g *Gateway) cleanupClient(c *Client) {
	c.Close(websocket.CloseNormalClosure, "disconnected")

	// Remove reports false when another path already cleaned up; the
	// cap release and store mutations below must run exactly once.
	if !g.manager.Remove(c.ID) {
		return
	}
	g.cap.Release(c.IP)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.queue.RemoveClient(ctx, c.ID); err != nil {
		g.logger.Warn("queue cleanup failed", zap.String("client_id", c.ID), zap.Error(err))
	}

	// A transport drop leaves the session record untouched: the player
	// stays a participant and may reconnect until the TTL lapses.
	if sid := c.SessionID(); sid != "" && c.PlayerID() != "" {
		g.manager.BroadcastToSession(sid, c.ID, TypePlayerDisconnected, map[string]string{
			"session_id": sid,
			"player_id":  c.PlayerID(),
		})
	}

	// Pre-auth rate state is keyed by client id and dies with the
	// connection; player-keyed state ages out via the sweep instead.
	g.limits.Forget("c:" + c.ID)

	g.logger.Info("client disconnected",
		zap.String("client_id", c.ID),
		zap.String("player_id", c.PlayerID()))
}
