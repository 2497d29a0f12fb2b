package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
		return errors.New("auth.jwtSecret must be set to a strong secret")
	}

	switch strings.ToLower(c.Store.Type) {
	case "redis":
		if c.Store.Redis.Address == "" {
			return errors.New("redis address must be specified for the redis store")
		}
	case "memory":
		if c.Store.Required {
			return errors.New("store.required cannot be combined with the memory store")
		}
	default:
		return fmt.Errorf("invalid store type: %s. Must be 'redis' or 'memory'", c.Store.Type)
	}

	switch strings.ToLower(c.Broker.Type) {
	case "redis":
		if strings.ToLower(c.Store.Type) != "redis" {
			return errors.New("redis broker requires the redis store")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("kafka groupID must be specified for kafka broker")
		}
	case "none":
		// Single-instance mode; cross-instance notifications disabled.
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'redis', 'kafka' or 'none'", c.Broker.Type)
	}

	if c.WebSocket.MaxConnsPerIP < 1 {
		return errors.New("max connections per IP must be positive")
	}

	if c.WebSocket.MessageSizeLimit < 1 {
		return errors.New("message size limit must be positive")
	}

	if c.WebSocket.HeartbeatInterval >= c.WebSocket.HeartbeatTimeout {
		return errors.New("heartbeat interval should be less than heartbeat timeout")
	}

	if c.RateLimit.Window < 1 || c.RateLimit.MaxMessages < 1 {
		return errors.New("rate limit window and message cap must be positive")
	}

	if c.AuthGuard.LowThreshold >= c.AuthGuard.HighThreshold {
		return errors.New("authGuard.lowThreshold must be below authGuard.highThreshold")
	}

	for gameID, game := range c.Matchmaking.Games {
		if game.MatchSize < 2 {
			return fmt.Errorf("matchmaking.games.%s.matchSize must be at least 2", gameID)
		}
	}

	if c.Session.TTL <= c.Matchmaking.QueueTTL {
		return errors.New("session TTL should be greater than queue TTL")
	}

	return nil
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "MOLTBLOX_PORT")

	// Logging
	viper.BindEnv("logging.level", "MOLTBLOX_LOG_LEVEL")
	viper.BindEnv("logging.format", "MOLTBLOX_LOG_FORMAT")

	// Auth
	viper.BindEnv("auth.jwtSecret", "MOLTBLOX_JWT_SECRET")
	viper.BindEnv("auth.revocationListKey", "MOLTBLOX_AUTH_REVOCATION_KEY")

	// Store
	viper.BindEnv("store.type", "MOLTBLOX_STORE_TYPE")
	viper.BindEnv("store.required", "MOLTBLOX_STORE_REQUIRED")
	viper.BindEnv("store.redis.address", "MOLTBLOX_REDIS_ADDRESS")
	viper.BindEnv("store.redis.password", "MOLTBLOX_REDIS_PASSWORD")

	// Broker
	viper.BindEnv("broker.type", "MOLTBLOX_BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "MOLTBLOX_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.groupID", "MOLTBLOX_KAFKA_GROUPID")

	// WebSocket
	viper.BindEnv("websocket.allowedOrigins", "MOLTBLOX_ALLOWED_ORIGINS")
	viper.BindEnv("websocket.maxConnsPerIP", "MOLTBLOX_MAX_CONNS_PER_IP")
	viper.BindEnv("websocket.heartbeatInterval", "MOLTBLOX_HEARTBEAT_INTERVAL")
	viper.BindEnv("websocket.heartbeatTimeout", "MOLTBLOX_HEARTBEAT_TIMEOUT")

	// Sessions
	viper.BindEnv("session.ttl", "MOLTBLOX_SESSION_TTL")
	viper.BindEnv("session.cleanupOnStart", "MOLTBLOX_SESSION_CLEANUP_ON_START")
}
