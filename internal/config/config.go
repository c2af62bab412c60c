// Package config defines the global configuration for the estatecrm service.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to
// exit immediately on startup (fail fast).
package config

import (
	"time"
)

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"estatecrm"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Email    EmailConfig
	Cleanup  CleanupConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// QueueConfig tunes the durable job queue and its worker pool.
type QueueConfig struct {
	Workers      int           `envconfig:"QUEUE_WORKERS" default:"4" validate:"min=1,max=64"`
	PollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	// FollowUpScanInterval is the repeat interval of the checkFollowUps job.
	FollowUpScanInterval time.Duration `envconfig:"FOLLOWUP_SCAN_INTERVAL" default:"60s"`
}

// EmailConfig holds outbound email settings.
type EmailConfig struct {
	// ProviderURL is the HTTP endpoint of the mail provider. Empty selects
	// the logging stub (development mode).
	ProviderURL string `envconfig:"EMAIL_PROVIDER_URL"`
	APIKey      string `envconfig:"EMAIL_API_KEY"`
	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" default:"notifications@estatecrm.local"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"EstateCRM"`
	// SendTimeout bounds a single delivery attempt. A timeout is treated as
	// a completed (non-retried) job to avoid retry loops on a dead transport.
	SendTimeout time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"30s"`
	// ScheduleTimeout bounds the best-effort email job enqueue during
	// notification creation.
	ScheduleTimeout time.Duration `envconfig:"EMAIL_SCHEDULE_TIMEOUT" default:"5s"`
}

// CleanupConfig tunes the notification cleanup job.
type CleanupConfig struct {
	// Retention is how long read/archived notifications are kept before the
	// daily "all" cleanup purges them.
	Retention time.Duration `envconfig:"NOTIFICATION_RETENTION" default:"2160h"` // 90 days
	// ArchiveDir is where purged notifications are exported as gzip NDJSON
	// before deletion. Empty disables the export.
	ArchiveDir string `envconfig:"CLEANUP_ARCHIVE_DIR"`
}

// AWSConfig holds settings for the CloudWatch metrics adapter.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"EstateCRM"`
	// MetricsEnabled gates CloudWatch emission; disabled locally.
	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"false"`
}
