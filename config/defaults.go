package config

import "github.com/spf13/viper"

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Store
	viper.SetDefault("store.type", "redis")
	viper.SetDefault("store.required", false)
	viper.SetDefault("store.redis.address", "localhost:6379")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.poolSize", 100)
	viper.SetDefault("store.redis.poolTimeout", 5)

	// Broker
	viper.SetDefault("broker.type", "redis")

	// Auth
	viper.SetDefault("auth.jwtSecret", "default-secret")
	viper.SetDefault("auth.revocationListKey", "jwt:revoked")

	// WebSocket
	viper.SetDefault("websocket.allowedOrigins", []string{})
	viper.SetDefault("websocket.maxConnsPerIP", 10)
	viper.SetDefault("websocket.messageSizeLimit", 16384)
	viper.SetDefault("websocket.handshakeTimeout", 10)
	viper.SetDefault("websocket.heartbeatInterval", 30)
	viper.SetDefault("websocket.heartbeatTimeout", 60)
	viper.SetDefault("websocket.writeTimeout", 10)

	// Rate limiting
	viper.SetDefault("rateLimit.window", 10)
	viper.SetDefault("rateLimit.maxMessages", 30)
	viper.SetDefault("rateLimit.maxWarnings", 3)
	viper.SetDefault("rateLimit.sweepInterval", 60)
	viper.SetDefault("rateLimit.maxIdle", 300)

	// Auth brute-force guard
	viper.SetDefault("authGuard.lowThreshold", 5)
	viper.SetDefault("authGuard.highThreshold", 10)
	viper.SetDefault("authGuard.baseBackoff", 1000)
	viper.SetDefault("authGuard.maxBackoff", 300)
	viper.SetDefault("authGuard.failureWindow", 900)
	viper.SetDefault("authGuard.sweepInterval", 120)

	// Matchmaking
	viper.SetDefault("matchmaking.queueTTL", 600)

	// Sessions
	viper.SetDefault("session.ttl", 86400)
	viper.SetDefault("session.cleanupOnStart", false)
}
