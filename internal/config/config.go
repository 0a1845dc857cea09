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

	// Store configuration.
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"broker:"`

	// Broker configuration.
	// ClaimScanDepth bounds the pending-queue scan inside the claim script
	// to avoid head-of-line blocking on ineligible jobs.
	ClaimScanDepth    int           `env:"CLAIM_SCAN_DEPTH" envDefault:"256"`
	DefaultMaxRetries int           `env:"DEFAULT_MAX_RETRIES" envDefault:"3"`
	DefaultJobTimeout time.Duration `env:"DEFAULT_JOB_TIMEOUT" envDefault:"10m"`

	// Recovery supervisor configuration.
	RecoveryTick          time.Duration `env:"RECOVERY_TICK" envDefault:"30s"`
	WorkerStaleAfter      time.Duration `env:"WORKER_STALE_AFTER" envDefault:"90s"`
	ProgressSilenceAfter  time.Duration `env:"PROGRESS_SILENCE_AFTER" envDefault:"5m"`
	WorkerGCAfter         time.Duration `env:"WORKER_GC_AFTER" envDefault:"1h"`

	// Event fabric configuration.
	EventsMainMaxLen      int64         `env:"EVENTS_MAIN_MAXLEN" envDefault:"10000"`
	EventsErrorsMaxLen    int64         `env:"EVENTS_ERRORS_MAXLEN" envDefault:"50000"`
	EventsMainRetention   time.Duration `env:"EVENTS_MAIN_RETENTION" envDefault:"24h"`
	EventsErrorsRetention time.Duration `env:"EVENTS_ERRORS_RETENTION" envDefault:"168h"`

	// Dispatcher configuration.
	// UnknownTypePolicy controls how unknown message types are surfaced:
	// "warn" logs and replies with an error message, "error" additionally
	// counts the message as failed.
	UnknownTypePolicy string `env:"UNKNOWN_TYPE_POLICY" envDefault:"warn"`

	// Monitor configuration.
	MonitorHeartbeatTimeout time.Duration `env:"MONITOR_HEARTBEAT_TIMEOUT" envDefault:"60s"`

	// Event archiver configuration. Archiving is disabled unless brokers
	// are configured.
	KafkaBrokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	ArchiveTopic      string   `env:"ARCHIVE_TOPIC" envDefault:"broker-events"`

	// Ops HTTP server.
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-job-broker"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.UnknownTypePolicy != "warn" && cfg.UnknownTypePolicy != "error" {
		return Config{}, fmt.Errorf("op=config.Load: invalid UNKNOWN_TYPE_POLICY %q", cfg.UnknownTypePolicy)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// ArchiveEnabled reports whether the Kafka event archiver should run.
func (c Config) ArchiveEnabled() bool { return len(c.KafkaBrokers) > 0 }
