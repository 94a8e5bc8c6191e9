package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures top-level service configuration.
type Server struct {
	Addr       string
	AdminToken string
	// JWTSigningKey signs and validates member bearer tokens.
	JWTSigningKey string
	// PublicGroupID overrides the default public group identity, mostly for tests.
	PublicGroupID string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// PostgresConfig holds connection settings for the primary store.
type PostgresConfig struct {
	// URL is a lib/pq DSN; empty means in-memory stores.
	URL string
}

// RedisConfig holds connection settings for the notification guard.
type RedisConfig struct {
	// URL is a go-redis URL; empty means Redis is not configured.
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds broker settings for the audit publisher.
type KafkaConfig struct {
	// Brokers is a comma-separated seed list; empty disables the Kafka sink.
	Brokers    string
	AuditTopic string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("RALLY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	auditTopic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if auditTopic == "" {
		auditTopic = "rally.audit"
	}

	return Server{
		Addr:          addr,
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		JWTSigningKey: jwtSigningKey,
		PublicGroupID: os.Getenv("PUBLIC_GROUP_ID"),
		Postgres: PostgresConfig{
			URL: os.Getenv("POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:    os.Getenv("KAFKA_BROKERS"),
			AuditTopic: auditTopic,
		},
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
