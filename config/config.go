package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
	Store       StoreConfig
	Broker      BrokerConfig
	Auth        AuthConfig
	WebSocket   WebSocketConfig
	RateLimit   RateLimitConfig
	AuthGuard   AuthGuardConfig
	Matchmaking MatchmakingConfig
	Session     SessionConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int // Seconds
	WriteTimeout int // Seconds
}

type LoggingConfig struct {
	Level  string // debug | info | warn | error
	Format string // json | console
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type StoreConfig struct {
	Type     string // redis | memory
	Required bool   // refuse to fall back to the in-memory store
	Redis    RedisConfig
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int // Seconds
}

type BrokerConfig struct {
	Type  string // redis | kafka | none
	Kafka KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type AuthConfig struct {
	JWTSecret         string
	RevocationListKey string
}

type WebSocketConfig struct {
	AllowedOrigins    []string
	MaxConnsPerIP     int
	MessageSizeLimit  int64 // Bytes
	HandshakeTimeout  int   // Seconds
	HeartbeatInterval int   // Seconds
	HeartbeatTimeout  int   // Seconds
	WriteTimeout      int   // Seconds
}

type RateLimitConfig struct {
	Window        int // Seconds
	MaxMessages   int
	MaxWarnings   int
	SweepInterval int // Seconds
	MaxIdle       int // Seconds
}

type AuthGuardConfig struct {
	LowThreshold  int
	HighThreshold int
	BaseBackoff   int // Milliseconds
	MaxBackoff    int // Seconds
	FailureWindow int // Seconds
	SweepInterval int // Seconds
}

type MatchmakingConfig struct {
	QueueTTL int // Seconds
	Games    map[string]GameConfig
}

type GameConfig struct {
	MatchSize int
	Template  string
}

type SessionConfig struct {
	TTL            int // Seconds
	CleanupOnStart bool
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("MOLTBLOX")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			initErr = fmt.Errorf("config file error: %w", err)
			return
		}

		if err := viper.Unmarshal(&instance); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := instance.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
