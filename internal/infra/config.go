package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"agenticcore"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"agenticcore"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"agenticcore"`
	PGMaxConns  int    `env:"PG_MAX_CONNS" envDefault:"20"`

	// Redis summary cache
	RedisURL        string        `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisEnabled    bool          `env:"REDIS_ENABLED" envDefault:"false"`
	SummaryCacheTTL time.Duration `env:"SUMMARY_CACHE_TTL" envDefault:"5m"`

	// Kafka
	KafkaBrokers     string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled     bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix string `env:"KAFKA_TOPIC_PREFIX" envDefault:"agenticcore.policy."`

	// Event store
	SnapshotInterval  int           `env:"SNAPSHOT_INTERVAL" envDefault:"10"`
	CommandMaxRetries int           `env:"COMMAND_MAX_RETRIES" envDefault:"3"`
	AppendMaxAttempts int           `env:"APPEND_MAX_ATTEMPTS" envDefault:"3"`
	AppendBackoff     time.Duration `env:"APPEND_BACKOFF" envDefault:"50ms"`

	// Outbox relay
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MetricsAddr        string        `env:"METRICS_ADDR" envDefault:":9102"`

	// Reconciliation
	ReconcileConcurrency int `env:"RECONCILE_CONCURRENCY" envDefault:"4"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.PGMaxConns < 1:
		return fmt.Errorf("PG_MAX_CONNS must be >= 1, got %d", c.PGMaxConns)
	case c.SnapshotInterval < 0:
		return fmt.Errorf("SNAPSHOT_INTERVAL must be >= 0 (0 disables snapshots), got %d", c.SnapshotInterval)
	case c.CommandMaxRetries < 0:
		return fmt.Errorf("COMMAND_MAX_RETRIES must be >= 0, got %d", c.CommandMaxRetries)
	case c.AppendMaxAttempts < 1:
		return fmt.Errorf("APPEND_MAX_ATTEMPTS must be >= 1, got %d", c.AppendMaxAttempts)
	case c.AppendBackoff < 0:
		return fmt.Errorf("APPEND_BACKOFF must not be negative, got %s", c.AppendBackoff)
	case c.OutboxPollInterval <= 0:
		return fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive, got %s", c.OutboxPollInterval)
	case c.OutboxBatchSize < 1:
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be >= 1, got %d", c.OutboxBatchSize)
	case c.ReconcileConcurrency < 1:
		return fmt.Errorf("RECONCILE_CONCURRENCY must be >= 1, got %d", c.ReconcileConcurrency)
	case c.KafkaEnabled && strings.TrimSpace(c.KafkaBrokers) == "":
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	case c.RedisEnabled && c.RedisURL == "":
		return fmt.Errorf("REDIS_URL is required when REDIS_ENABLED=true")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
