package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultJWTSigningKey is only accepted when DemoMode is on.
const DefaultJWTSigningKey = "dev-secret-key-change-in-production"

// Server captures process level configuration for cmd/server.
type Server struct {
	Addr          string
	DemoMode      bool
	LogLevel      string
	JWTSigningKey string
	TokenTTL      time.Duration
	SessionTTL    time.Duration

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// DatabaseConfig selects PostgreSQL. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	TxTimeout    time.Duration
}

// RedisConfig selects Redis for sessions, token revocation and session
// events. An empty URL keeps them in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the outbox relay. It needs DATABASE_URL as well.
type KafkaConfig struct {
	Brokers        []string
	TransfersTopic string
	PollInterval   time.Duration
	BatchSize      int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          envString("PAYBOOK_ADDR", ":8080"),
		DemoMode:      os.Getenv("DEMO_MODE") == "true",
		LogLevel:      envString("LOG_LEVEL", "info"),
		JWTSigningKey: envString("JWT_SIGNING_KEY", DefaultJWTSigningKey),
		TokenTTL:      envDuration("TOKEN_TTL", 15*time.Minute),
		SessionTTL:    envDuration("SESSION_TTL", 7*24*time.Hour),
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			TxTimeout:    envDuration("DATABASE_TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        envList("KAFKA_BROKERS"),
			TransfersTopic: envString("KAFKA_TOPIC_TRANSFERS", "paybook.transfers"),
			PollInterval:   envDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:      envInt("OUTBOX_BATCH_SIZE", 100),
		},
	}
}

// Client captures configuration for cmd/bankctl.
type Client struct {
	APIURL      string
	SessionFile string
	Timeout     time.Duration
}

// ClientFromEnv builds the CLI configuration.
func ClientFromEnv() Client {
	sessionFile := os.Getenv("PAYBOOK_SESSION_FILE")
	if sessionFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			sessionFile = home + "/.paybook/session.json"
		} else {
			sessionFile = ".paybook-session.json"
		}
	}
	return Client{
		APIURL:      strings.TrimRight(envString("PAYBOOK_API_URL", "http://localhost:8080"), "/"),
		SessionFile: sessionFile,
		Timeout:     envDuration("PAYBOOK_TIMEOUT", 10*time.Second),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
