package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{Port: 8080},
		Auth:   AuthConfig{JWTSecret: "a-strong-secret", RevocationListKey: "auth:revoked"},
		Store:  StoreConfig{Type: "redis", Redis: RedisConfig{Address: "localhost:6379"}},
		Broker: BrokerConfig{Type: "redis"},
		WebSocket: WebSocketConfig{
			MaxConnsPerIP:     10,
			MessageSizeLimit:  65536,
			HeartbeatInterval: 30,
			HeartbeatTimeout:  60,
		},
		RateLimit: RateLimitConfig{Window: 10, MaxMessages: 30, MaxWarnings: 3},
		AuthGuard: AuthGuardConfig{LowThreshold: 5, HighThreshold: 10},
		Matchmaking: MatchmakingConfig{
			QueueTTL: 600,
			Games:    map[string]GameConfig{"chess": {MatchSize: 2}},
		},
		Session: SessionConfig{TTL: 86400},
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"bad port", func(c *AppConfig) { c.Server.Port = 0 }},
		{"empty secret", func(c *AppConfig) { c.Auth.JWTSecret = "" }},
		{"placeholder secret", func(c *AppConfig) { c.Auth.JWTSecret = "default-secret" }},
		{"unknown store", func(c *AppConfig) { c.Store.Type = "etcd" }},
		{"redis store without address", func(c *AppConfig) { c.Store.Redis.Address = "" }},
		{"required memory store", func(c *AppConfig) {
			c.Store.Type = "memory"
			c.Store.Required = true
			c.Broker.Type = "none"
		}},
		{"redis broker without redis store", func(c *AppConfig) { c.Store.Type = "memory" }},
		{"kafka broker without brokers", func(c *AppConfig) { c.Broker.Type = "kafka" }},
		{"unknown broker", func(c *AppConfig) { c.Broker.Type = "rabbitmq" }},
		{"zero conn cap", func(c *AppConfig) { c.WebSocket.MaxConnsPerIP = 0 }},
		{"heartbeat interval past timeout", func(c *AppConfig) { c.WebSocket.HeartbeatInterval = 60 }},
		{"zero rate window", func(c *AppConfig) { c.RateLimit.Window = 0 }},
		{"guard thresholds inverted", func(c *AppConfig) { c.AuthGuard.LowThreshold = 10 }},
		{"undersized match", func(c *AppConfig) { c.Matchmaking.Games["chess"] = GameConfig{MatchSize: 1} }},
		{"session ttl below queue ttl", func(c *AppConfig) { c.Session.TTL = 60 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
