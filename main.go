package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/broker"
	"github.com/Halldon-Inc/moltblox-realtime/config"
	"github.com/Halldon-Inc/moltblox-realtime/game"
	"github.com/Halldon-Inc/moltblox-realtime/limiter"
	"github.com/Halldon-Inc/moltblox-realtime/logging"
	"github.com/Halldon-Inc/moltblox-realtime/metrics"
	"github.com/Halldon-Inc/moltblox-realtime/queue"
	"github.com/Halldon-Inc/moltblox-realtime/server"
	"github.com/Halldon-Inc/moltblox-realtime/session"
	"github.com/Halldon-Inc/moltblox-realtime/store"
	"github.com/Halldon-Inc/moltblox-realtime/websocket"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg := config.Get()

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	serverID := uuid.New().String()
	logger.Info("starting gateway instance", zap.String("server_id", serverID))

	// --- Shared state store ---
	var sharedStore store.Store
	var redisStore *store.RedisStore
	switch strings.ToLower(cfg.Store.Type) {
	case "redis":
		client, err := store.NewRedisClient(cfg.Store.Redis)
		if err != nil {
			if cfg.Store.Required {
				logger.Fatal("redis store unavailable and store.required is set", zap.Error(err))
			}
			// The in-memory fallback is only correct for a single
			// instance: queue atomicity and reconnection visibility do
			// not hold across processes without the shared store.
			logger.Error("redis store unavailable, falling back to in-memory store; "+
				"cross-instance guarantees are broken", zap.Error(err))
			sharedStore = store.NewMemoryStore()
		} else {
			redisStore = store.NewRedisStore(client)
			sharedStore = redisStore
		}
	case "memory":
		sharedStore = store.NewMemoryStore()
	default:
		logger.Fatal("invalid store type", zap.String("type", cfg.Store.Type))
	}
	defer sharedStore.Close()

	// --- Notification broker ---
	var messageBroker broker.MessageBroker
	switch strings.ToLower(cfg.Broker.Type) {
	case "redis":
		if redisStore == nil {
			logger.Warn("redis broker needs the redis store; notifications disabled")
			messageBroker = broker.NewNoopBroker()
		} else {
			messageBroker = broker.NewRedisBroker(redisStore.Client(), logger)
		}
	case "kafka":
		messageBroker, err = broker.NewKafkaBroker(cfg.Broker.Kafka.Brokers, cfg.Broker.Kafka.GroupID, serverID, logger)
		if err != nil {
			logger.Fatal("failed to create Kafka broker", zap.Error(err))
		}
	case "none":
		messageBroker = broker.NewNoopBroker()
	default:
		logger.Fatal("invalid broker type", zap.String("type", cfg.Broker.Type))
	}
	defer messageBroker.Close()
	logger.Info("notification broker ready", zap.String("type", messageBroker.Type()))

	// --- Domain components ---
	sessions := session.NewManager(sharedStore, messageBroker,
		time.Duration(cfg.Session.TTL)*time.Second, serverID, logger)

	if cfg.Session.CleanupOnStart {
		removed, err := sessions.CleanupAll(ctx)
		if err != nil {
			logger.Error("startup cleanup failed", zap.Error(err))
		} else {
			logger.Info("purged stale shared state", zap.Int("keys", removed))
		}
	}

	matchQueue := queue.New(sharedStore, time.Duration(cfg.Matchmaking.QueueTTL)*time.Second)

	games := game.NewRegistry()
	for gameID, gc := range cfg.Matchmaking.Games {
		// Real engines are registered by the game services embedding
		// this gateway; configured games without one get the echo
		// engine so the full matchmaking path still works.
		if err := games.Register(gameID, game.Descriptor{
			MatchSize: gc.MatchSize,
			Template:  gc.Template,
			New:       game.NewEchoEngine,
		}); err != nil {
			logger.Fatal("game registration failed", zap.String("game_id", gameID), zap.Error(err))
		}
		logger.Info("registered game", zap.String("game_id", gameID), zap.Int("match_size", gc.MatchSize))
	}

	validator := websocket.NewValidator(&cfg.Auth, sharedStore, logger)

	limits := limiter.NewRateLimiter(
		time.Duration(cfg.RateLimit.Window)*time.Second,
		cfg.RateLimit.MaxMessages,
		cfg.RateLimit.MaxWarnings,
	)
	limits.StartSweep(
		time.Duration(cfg.RateLimit.SweepInterval)*time.Second,
		time.Duration(cfg.RateLimit.MaxIdle)*time.Second,
	)
	defer limits.Stop()

	guard := limiter.NewAuthGuard(
		cfg.AuthGuard.LowThreshold,
		cfg.AuthGuard.HighThreshold,
		time.Duration(cfg.AuthGuard.BaseBackoff)*time.Millisecond,
		time.Duration(cfg.AuthGuard.MaxBackoff)*time.Second,
		time.Duration(cfg.AuthGuard.FailureWindow)*time.Second,
	)
	guard.StartSweep(time.Duration(cfg.AuthGuard.SweepInterval) * time.Second)
	defer guard.Stop()

	connCap := limiter.NewConnCap(cfg.WebSocket.MaxConnsPerIP)

	manager := websocket.NewManager(logger)
	manager.StartHeartbeat(
		time.Duration(cfg.WebSocket.HeartbeatInterval)*time.Second,
		time.Duration(cfg.WebSocket.HeartbeatTimeout)*time.Second,
	)
	defer manager.Stop()

	gateway := websocket.NewGateway(cfg, serverID, websocket.Deps{
		Manager:   manager,
		Queue:     matchQueue,
		Sessions:  sessions,
		Games:     games,
		Validator: validator,
		Limits:    limits,
		Guard:     guard,
		Cap:       connCap,
	}, logger)

	go func() {
		if err := gateway.ListenForNotifications(ctx, messageBroker); err != nil && ctx.Err() == nil {
			logger.Error("notification listener stopped", zap.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
	}

	srv := server.New(
		":"+strconv.Itoa(cfg.Server.Port),
		gateway.HandleWebSocket,
		healthHandler(sharedStore, messageBroker),
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
		logger,
	)
	go srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	manager.CloseAll("server shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// healthHandler reports store and broker reachability.
func healthHandler(s store.Store, b broker.MessageBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{
			"status": "ok",
			"store":  "ok",
			"broker": b.Type(),
		}
		code := http.StatusOK
		if err := s.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["store"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
