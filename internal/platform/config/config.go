// Package config loads service configuration from the environment.
//
// A local .env file is honored when present (development convenience); real
// deployments set variables directly. All knobs carry defaults good enough to
// boot the service in mock-provider mode with no Redis and no Kafka.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	strutil "guestgate/pkg/platform/strings"
)

// Config is the root configuration for the guestgate server.
type Config struct {
	Env      string `env:"GUESTGATE_ENV" envDefault:"development"`
	Addr     string `env:"GUESTGATE_ADDR" envDefault:":8080"`
	LogLevel string `env:"GUESTGATE_LOG_LEVEL" envDefault:"info"`

	// JWTSigningKey verifies bearer tokens minted by the upstream identity
	// service. Empty makes the server sign with a boot-scoped random key and
	// log a ready development token (development only).
	JWTSigningKey string `env:"GUESTGATE_JWT_SIGNING_KEY"`

	Redis        RedisConfig
	Kafka        KafkaConfig
	Postgres     PostgresConfig
	Providers    ProvidersConfig
	Verification VerificationConfig
}

// RedisConfig controls the snapshot store connection. An empty URL means
// Redis is not configured and sessions run memory-only.
type RedisConfig struct {
	URL          string        `env:"GUESTGATE_REDIS_URL"`
	PoolSize     int           `env:"GUESTGATE_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"GUESTGATE_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"GUESTGATE_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"GUESTGATE_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"GUESTGATE_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig controls the audit event stream. No brokers means the Kafka
// sink is disabled and audit events stay on the in-process sinks.
type KafkaConfig struct {
	Brokers          []string `env:"GUESTGATE_KAFKA_BROKERS" envSeparator:","`
	AuditTopicPrefix string   `env:"GUESTGATE_KAFKA_AUDIT_TOPIC_PREFIX" envDefault:"guestgate.audit"`
	ConsumerGroup    string   `env:"GUESTGATE_KAFKA_CONSUMER_GROUP" envDefault:"guestgate-audit-materializer"`
}

// AuditTopicFor returns the topic one audit category is published to, e.g.
// guestgate.audit.compliance.v1. Per-category topics let retention and ACLs
// differ between compliance and ops streams.
func (k KafkaConfig) AuditTopicFor(category string) string {
	return fmt.Sprintf("%s.%s.v1", k.AuditTopicPrefix, category)
}

// AuditTopics returns every audit topic the consumer subscribes to.
func (k KafkaConfig) AuditTopics() []string {
	return []string{
		k.AuditTopicFor("compliance"),
		k.AuditTopicFor("security"),
		k.AuditTopicFor("operations"),
	}
}

// PostgresConfig controls the audit outbox database. An empty URL disables
// the outbox; audit events stay on the in-memory store.
type PostgresConfig struct {
	AuditDatabaseURL   string        `env:"GUESTGATE_AUDIT_DATABASE_URL"`
	OutboxPollInterval time.Duration `env:"GUESTGATE_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"GUESTGATE_OUTBOX_BATCH_SIZE" envDefault:"100"`
}

// ProviderConfig is one outbound verification provider endpoint.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ProvidersConfig selects and configures the verification providers.
// Mode "mock" wires deterministic in-process providers; "http" requires the
// per-provider base URLs.
type ProvidersConfig struct {
	Mode string `env:"GUESTGATE_PROVIDERS_MODE" envDefault:"mock"`

	IdentityBaseURL string        `env:"GUESTGATE_IDENTITY_PROVIDER_URL"`
	IdentityAPIKey  string        `env:"GUESTGATE_IDENTITY_PROVIDER_API_KEY"`
	IdentityTimeout time.Duration `env:"GUESTGATE_IDENTITY_PROVIDER_TIMEOUT" envDefault:"15s"`

	PhoneBaseURL string        `env:"GUESTGATE_PHONE_PROVIDER_URL"`
	PhoneAPIKey  string        `env:"GUESTGATE_PHONE_PROVIDER_API_KEY"`
	PhoneTimeout time.Duration `env:"GUESTGATE_PHONE_PROVIDER_TIMEOUT" envDefault:"10s"`

	BackgroundBaseURL string        `env:"GUESTGATE_BACKGROUND_PROVIDER_URL"`
	BackgroundAPIKey  string        `env:"GUESTGATE_BACKGROUND_PROVIDER_API_KEY"`
	BackgroundTimeout time.Duration `env:"GUESTGATE_BACKGROUND_PROVIDER_TIMEOUT" envDefault:"20s"`
}

// Identity returns the identity provider endpoint config.
func (p ProvidersConfig) Identity() ProviderConfig {
	return ProviderConfig{BaseURL: p.IdentityBaseURL, APIKey: p.IdentityAPIKey, Timeout: p.IdentityTimeout}
}

// Phone returns the phone provider endpoint config.
func (p ProvidersConfig) Phone() ProviderConfig {
	return ProviderConfig{BaseURL: p.PhoneBaseURL, APIKey: p.PhoneAPIKey, Timeout: p.PhoneTimeout}
}

// Background returns the background check provider endpoint config.
func (p ProvidersConfig) Background() ProviderConfig {
	return ProviderConfig{BaseURL: p.BackgroundBaseURL, APIKey: p.BackgroundAPIKey, Timeout: p.BackgroundTimeout}
}

// VerificationConfig holds engine-level tunables.
type VerificationConfig struct {
	OTPTTL                 time.Duration `env:"GUESTGATE_OTP_TTL" envDefault:"120s"`
	SnapshotTTL            time.Duration `env:"GUESTGATE_SNAPSHOT_TTL" envDefault:"24h"`
	SnapshotDebounce       time.Duration `env:"GUESTGATE_SNAPSHOT_DEBOUNCE" envDefault:"500ms"`
	BackgroundPollInterval time.Duration `env:"GUESTGATE_BACKGROUND_POLL_INTERVAL" envDefault:"2s"`
	BackgroundPollBudget   int           `env:"GUESTGATE_BACKGROUND_POLL_BUDGET" envDefault:"30"`

	// Offer thresholds for the background check policy.
	ScoreThreshold      int `env:"GUESTGATE_BACKGROUND_SCORE_THRESHOLD" envDefault:"70"`
	GuestCountThreshold int `env:"GUESTGATE_BACKGROUND_GUEST_THRESHOLD" envDefault:"8"`
}

// Load builds the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Kafka.Brokers = strutil.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot boot.
func (c *Config) Validate() error {
	switch c.Providers.Mode {
	case "mock":
	case "http":
		var missing []string
		if c.Providers.IdentityBaseURL == "" {
			missing = append(missing, "GUESTGATE_IDENTITY_PROVIDER_URL")
		}
		if c.Providers.PhoneBaseURL == "" {
			missing = append(missing, "GUESTGATE_PHONE_PROVIDER_URL")
		}
		if c.Providers.BackgroundBaseURL == "" {
			missing = append(missing, "GUESTGATE_BACKGROUND_PROVIDER_URL")
		}
		if len(missing) > 0 {
			return fmt.Errorf("providers mode http requires: %s", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("unknown providers mode %q", c.Providers.Mode)
	}

	if c.Postgres.AuditDatabaseURL != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("audit outbox requires GUESTGATE_KAFKA_BROKERS: outbox entries are only drained into Kafka")
	}

	if c.Verification.OTPTTL <= 0 {
		return fmt.Errorf("OTP TTL must be positive")
	}
	if c.Verification.SnapshotTTL <= 0 {
		return fmt.Errorf("snapshot TTL must be positive")
	}
	if c.IsProduction() {
		if c.JWTSigningKey == "" {
			return fmt.Errorf("GUESTGATE_JWT_SIGNING_KEY is required in production")
		}
		if c.Providers.Mode == "mock" {
			return fmt.Errorf("mock providers cannot serve production traffic; set GUESTGATE_PROVIDERS_MODE=http")
		}
	}
	return nil
}

// IsProduction reports whether the service runs with production hardening.
func (c *Config) IsProduction() bool { return c.Env == "production" }
