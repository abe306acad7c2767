/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, providing defaults for queues, schedules and batch sizes.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultServerPort              = "8080"
	defaultLockKeyPrefix           = "spenn:lock"
	defaultEventExchange           = "helse.rapid"
	defaultPaymentNeedQueue        = "spenn.utbetalingsbehov"
	defaultOutcomeRoutingKey       = "behov.losning"
	defaultSettlementQueue         = "spenn.oppdrag.send"
	defaultSettlementReplyQueue    = "spenn.oppdrag.kvittering"
	defaultReconciliationQueue     = "spenn.avstemming"
	defaultSimulationJobSchedule   = "@every 1m"
	defaultSubmissionJobSchedule   = "@every 1m"
	defaultReconciliationSchedule  = "0 7 * * *"
	defaultReconciliationCutoff    = time.Hour
	defaultReconciliationLockTTL   = 2 * time.Minute
	defaultJobBatchLimit           = 100
	defaultReconciliationChunkSize = 70
	defaultFagomraade              = "SPREF"
	defaultCORSAllowedOrigins      = "https://*,http://*"
	defaultLogLevel                = "info"
)

// Config holds all the configuration variables for the service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string        `mapstructure:"SERVER_PORT"`
	DatabaseURL               string        `mapstructure:"DATABASE_URL"`
	RabbitMQURL               string        `mapstructure:"RABBITMQ_URL"`
	RedisURL                  string        `mapstructure:"REDIS_URL"`
	LockKeyPrefix             string        `mapstructure:"LOCK_KEY_PREFIX"`
	EventExchange             string        `mapstructure:"EVENT_EXCHANGE"`
	PaymentNeedQueue          string        `mapstructure:"PAYMENT_NEED_QUEUE"`
	OutcomeRoutingKey         string        `mapstructure:"OUTCOME_ROUTING_KEY"`
	SettlementQueue           string        `mapstructure:"SETTLEMENT_QUEUE"`
	SettlementReplyQueue      string        `mapstructure:"SETTLEMENT_REPLY_QUEUE"`
	ReconciliationQueue       string        `mapstructure:"RECONCILIATION_QUEUE"`
	SimulationServiceURL      string        `mapstructure:"SIMULATION_SERVICE_URL"`
	IdentityServiceURL        string        `mapstructure:"IDENTITY_SERVICE_URL"`
	IdentityServiceAPIKey     string        `mapstructure:"IDENTITY_SERVICE_API_KEY"`
	InternalAPIKey            string        `mapstructure:"INTERNAL_API_KEY"`
	SimulationJobSchedule     string        `mapstructure:"SIMULATION_JOB_SCHEDULE"`
	SubmissionJobSchedule     string        `mapstructure:"SUBMISSION_JOB_SCHEDULE"`
	ReconciliationJobSchedule string        `mapstructure:"RECONCILIATION_JOB_SCHEDULE"`
	ReconciliationCutoff      time.Duration `mapstructure:"RECONCILIATION_CUTOFF"`
	ReconciliationLockTTL     time.Duration `mapstructure:"RECONCILIATION_LOCK_TTL"`
	JobBatchLimit             int           `mapstructure:"JOB_BATCH_LIMIT"`
	ReconciliationChunkSize   int           `mapstructure:"RECONCILIATION_CHUNK_SIZE"`
	Fagomraade                string        `mapstructure:"FAGOMRAADE"`
	CORSAllowedOrigins        string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                  string        `mapstructure:"LOG_LEVEL"`
}

var keys = []string{
	"SERVER_PORT", "DATABASE_URL", "RABBITMQ_URL", "REDIS_URL", "LOCK_KEY_PREFIX",
	"EVENT_EXCHANGE", "PAYMENT_NEED_QUEUE", "OUTCOME_ROUTING_KEY", "SETTLEMENT_QUEUE",
	"SETTLEMENT_REPLY_QUEUE", "RECONCILIATION_QUEUE", "SIMULATION_SERVICE_URL",
	"IDENTITY_SERVICE_URL", "IDENTITY_SERVICE_API_KEY", "INTERNAL_API_KEY",
	"SIMULATION_JOB_SCHEDULE", "SUBMISSION_JOB_SCHEDULE", "RECONCILIATION_JOB_SCHEDULE",
	"RECONCILIATION_CUTOFF", "RECONCILIATION_LOCK_TTL", "JOB_BATCH_LIMIT",
	"RECONCILIATION_CHUNK_SIZE", "FAGOMRAADE", "CORS_ALLOWED_ORIGINS", "LOG_LEVEL",
}

// LoadConfig reads configuration from environment variables and an optional .env file
// in path. Invalid numeric values fall back to their defaults with a warning.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("LOCK_KEY_PREFIX", defaultLockKeyPrefix)
	viper.SetDefault("EVENT_EXCHANGE", defaultEventExchange)
	viper.SetDefault("PAYMENT_NEED_QUEUE", defaultPaymentNeedQueue)
	viper.SetDefault("OUTCOME_ROUTING_KEY", defaultOutcomeRoutingKey)
	viper.SetDefault("SETTLEMENT_QUEUE", defaultSettlementQueue)
	viper.SetDefault("SETTLEMENT_REPLY_QUEUE", defaultSettlementReplyQueue)
	viper.SetDefault("RECONCILIATION_QUEUE", defaultReconciliationQueue)
	viper.SetDefault("SIMULATION_JOB_SCHEDULE", defaultSimulationJobSchedule)
	viper.SetDefault("SUBMISSION_JOB_SCHEDULE", defaultSubmissionJobSchedule)
	viper.SetDefault("RECONCILIATION_JOB_SCHEDULE", defaultReconciliationSchedule)
	viper.SetDefault("RECONCILIATION_CUTOFF", defaultReconciliationCutoff.String())
	viper.SetDefault("RECONCILIATION_LOCK_TTL", defaultReconciliationLockTTL.String())
	viper.SetDefault("JOB_BATCH_LIMIT", defaultJobBatchLimit)
	viper.SetDefault("RECONCILIATION_CHUNK_SIZE", defaultReconciliationChunkSize)
	viper.SetDefault("FAGOMRAADE", defaultFagomraade)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", defaultCORSAllowedOrigins)
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.IdentityServiceAPIKey = strings.TrimSpace(config.IdentityServiceAPIKey)
	if config.IdentityServiceAPIKey == "" {
		config.IdentityServiceAPIKey = config.InternalAPIKey
	}

	config.LockKeyPrefix = orDefault(config.LockKeyPrefix, defaultLockKeyPrefix)
	config.Fagomraade = orDefault(config.Fagomraade, defaultFagomraade)

	if config.JobBatchLimit <= 0 {
		slog.Warn("invalid JOB_BATCH_LIMIT; using default", "component", "config", "value", config.JobBatchLimit)
		config.JobBatchLimit = defaultJobBatchLimit
	}
	if config.ReconciliationChunkSize <= 0 {
		slog.Warn("invalid RECONCILIATION_CHUNK_SIZE; using default", "component", "config", "value", config.ReconciliationChunkSize)
		config.ReconciliationChunkSize = defaultReconciliationChunkSize
	}
	if config.ReconciliationCutoff < 0 {
		slog.Warn("negative RECONCILIATION_CUTOFF; using default", "component", "config", "value", config.ReconciliationCutoff)
		config.ReconciliationCutoff = defaultReconciliationCutoff
	}
	if config.ReconciliationLockTTL <= 0 {
		slog.Warn("invalid RECONCILIATION_LOCK_TTL; using default", "component", "config", "value", config.ReconciliationLockTTL)
		config.ReconciliationLockTTL = defaultReconciliationLockTTL
	}

	if config.DatabaseURL == "" {
		err = errors.New("DATABASE_URL is required")
		return
	}
	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o := strings.TrimSpace(origin); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return strings.Split(defaultCORSAllowedOrigins, ",")
	}
	return origins
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
