package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	platformstrings "bondledger/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr             string
	Owner            string
	VaultAccount     string
	JWTSigningKey    string
	JWTIssuer        string
	JWTAudience      string
	RedemptionPolicy string
	TxTimeout        time.Duration
	LogLevel         string

	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Outbox    OutboxConfig
	RateLimit RateLimitConfig
}

// DatabaseConfig selects postgres persistence. An empty URL keeps state in memory.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig enables the distributed ledger locker. An empty URL keeps
// locking in-process.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
}

// KafkaConfig enables the notification relay to Kafka. No brokers means
// notifications are relayed to the log.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
}

// OutboxConfig tunes the relay worker.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// RateLimitConfig sets per-caller request budgets. Windows are shared
// through Redis when it is configured.
type RateLimitConfig struct {
	Disabled      bool
	ReadRequests  int
	WriteRequests int
	Window        time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first; real environment
// variables win over it.
func FromEnv() (Server, error) {
	_ = godotenv.Load()

	cfg := Server{
		Addr:             getEnv("BOND_ADDR", ":8080"),
		Owner:            os.Getenv("BOND_OWNER"),
		VaultAccount:     getEnv("VAULT_ACCOUNT", "escrow-vault"),
		JWTSigningKey:    os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:        getEnv("JWT_ISSUER", "bondledger"),
		JWTAudience:      getEnv("JWT_AUDIENCE", "bondledger-api"),
		RedemptionPolicy: getEnv("REDEMPTION_POLICY", "purchases_only"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:    getEnv("KAFKA_TOPIC", "bond-events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "bondledger"),
		},
	}
	if cfg.JWTSigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	var err error
	if cfg.TxTimeout, err = getDuration("TX_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Outbox.PollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Outbox.BatchSize, err = getInt("OUTBOX_BATCH_SIZE", 100); err != nil {
		return Server{}, err
	}
	if cfg.Database.MaxOpenConns, err = getInt("DATABASE_MAX_OPEN_CONNS", 20); err != nil {
		return Server{}, err
	}
	if cfg.Database.MaxIdleConns, err = getInt("DATABASE_MAX_IDLE_CONNS", 5); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.ReadRequests, err = getInt("RATE_LIMIT_READ", 600); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.WriteRequests, err = getInt("RATE_LIMIT_WRITE", 60); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Window, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Disabled, err = getBool("RATE_LIMIT_DISABLED", false); err != nil {
		return Server{}, err
	}
	if cfg.Redis.PoolSize, err = getInt("REDIS_POOL_SIZE", 10); err != nil {
		return Server{}, err
	}
	if cfg.Redis.MinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Server{}, err
	}
	if cfg.Redis.DialTimeout, err = getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.ReadTimeout, err = getDuration("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.WriteTimeout, err = getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.LockTTL, err = getDuration("REDIS_LOCK_TTL", 30*time.Second); err != nil {
		return Server{}, err
	}
	partitions, err := getInt("KAFKA_PARTITIONS", 3)
	if err != nil {
		return Server{}, err
	}
	replication, err := getInt("KAFKA_REPLICATION_FACTOR", 1)
	if err != nil {
		return Server{}, err
	}
	cfg.Kafka.Partitions = int32(partitions)
	cfg.Kafka.ReplicationFactor = int16(replication)

	if cfg.Owner == "" {
		return Server{}, fmt.Errorf("BOND_OWNER is required")
	}
	if cfg.TxTimeout <= 0 {
		return Server{}, fmt.Errorf("TX_TIMEOUT must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	return platformstrings.DedupeAndTrim(strings.Split(v, ","))
}
