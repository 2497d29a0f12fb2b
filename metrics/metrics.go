package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// WebSocket metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "The current number of active WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_connections_rejected_total",
		Help: "The total number of connections rejected at accept time.",
	}, []string{"reason"})
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "The total number of messages received from clients.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "The total number of messages sent to clients.",
	})
	HeartbeatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_heartbeat_timeouts_total",
		Help: "The total number of connections closed for missed heartbeats.",
	})

	// Matchmaking metrics
	PlayersQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_players_queued_total",
		Help: "The total number of players that joined a matchmaking queue.",
	}, []string{"game"})
	MatchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_matches_created_total",
		Help: "The total number of game sessions created from the queue.",
	}, []string{"game"})

	// Session metrics
	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_ended_total",
		Help: "The total number of game sessions finalized.",
	})
	Reconnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_reconnections_total",
		Help: "The total number of reconnect attempts.",
	}, []string{"outcome"})

	// Abuse defense metrics
	RateLimitWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_warnings_total",
		Help: "The total number of rate-limit warnings sent to clients.",
	})
	RateLimitKicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_kicks_total",
		Help: "The total number of connections closed for repeated rate-limit violations.",
	})

	// Auth metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_success_total",
		Help: "The total number of successful authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "The total number of failed authentications.",
	}, []string{"reason"})

	// Broker metrics
	BrokerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_published_total",
		Help: "The total number of notifications published to the message broker.",
	}, []string{"broker_type"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server", zap.String("addr", addr), zap.String("path", path))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()
}
