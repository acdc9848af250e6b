// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	RedisURL      string   `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	MongoURL      string   `env:"MONGO_URL" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string   `env:"MONGO_DATABASE" envDefault:"arkvote"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:19092"`

	// Consumers selects which stream handlers cmd/consumer runs.
	Consumers []string `env:"CONSUMERS" envSeparator:"," envDefault:"save_score,ballot_skip,new_compare_request,dlq"`

	// Vote weighting. Ballots from an IP that exceeds MaxIPLimit submissions
	// within the counter window are scored with LowMultiplier instead of
	// BaseMultiplier. MaxIPLimit < 0 disables the cap.
	BaseMultiplier         int32 `env:"BASE_MULTIPLIER" envDefault:"100"`
	LowMultiplier          int32 `env:"LOW_MULTIPLIER" envDefault:"20"`
	MaxIPLimit             int64 `env:"MAX_IP_LIMIT" envDefault:"300"`
	IPCounterExpireSeconds int64 `env:"IP_COUNTER_EXPIRE_SECONDS" envDefault:"86400"`

	// BallotTTL bounds how long an issued ballot challenge stays redeemable.
	BallotTTL time.Duration `env:"BALLOT_TTL" envDefault:"24h"`

	SnowflakeWorkerID     int64 `env:"SNOWFLAKE_WORKER_ID" envDefault:"0"`
	SnowflakeDatacenterID int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"0"`
	SnowflakeEpochMS      int64 `env:"SNOWFLAKE_EPOCH_MS" envDefault:"1609459200000"`

	AggregatorQueueSize int `env:"AGGREGATOR_QUEUE_SIZE" envDefault:"100000"`

	// AuditEnabled gates the topic create and audit endpoints.
	AuditEnabled bool `env:"AUDIT_ENABLED" envDefault:"false"`

	PresetTopicsFile   string `env:"PRESET_TOPICS_FILE" envDefault:""`
	CharacterTableFile string `env:"CHARACTER_TABLE_FILE" envDefault:"character_table.json"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"600"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
