// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/stockledger/internal/scheduler"
	"github.com/aristath/stockledger/internal/utils"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// AuthTokens maps bearer tokens to user ids. When empty, the user is taken
	// from the X-User-ID header set by a trusted proxy.
	AuthTokens map[string]string

	RequireApprovedInstruments bool
	CatalogSeedPath            string // JSON catalog loaded at startup when set

	LockTimeout time.Duration // Max wait for a user's trade lock

	AuditSchedule         string
	WALCheckpointSchedule string
	BackupSchedule        string

	Backup *BackupConfig
	Kafka  *KafkaConfig
}

// BackupConfig holds off-site backup configuration. Backups are disabled when
// Bucket is empty.
type BackupConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Enabled reports whether a bucket is configured.
func (c *BackupConfig) Enabled() bool {
	return c != nil && c.Bucket != ""
}

// KafkaConfig holds the optional event sink configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Buffer  int
}

// Enabled reports whether brokers are configured.
func (c *KafkaConfig) Enabled() bool {
	return c != nil && len(c.Brokers) > 0
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("LEDGER_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                    dataDir,
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		Port:                       getEnvAsInt("GO_PORT", 8001),
		DevMode:                    getEnvAsBool("DEV_MODE", false),
		AuthTokens:                 utils.ParsePairs(getEnv("AUTH_TOKENS", "")),
		RequireApprovedInstruments: getEnvAsBool("REQUIRE_APPROVED_INSTRUMENTS", true),
		CatalogSeedPath:            getEnv("CATALOG_SEED_PATH", ""),
		LockTimeout:                getEnvAsDuration("LOCK_TIMEOUT", 10*time.Second),
		AuditSchedule:              getEnv("AUDIT_SCHEDULE", "*/15 * * * *"),
		WALCheckpointSchedule:      getEnv("WAL_CHECKPOINT_SCHEDULE", "@hourly"),
		BackupSchedule:             getEnv("BACKUP_SCHEDULE", "0 2 * * *"),
		Backup: &BackupConfig{
			Bucket:          getEnv("BACKUP_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
			Region:          getEnv("BACKUP_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		Kafka: &KafkaConfig{
			Brokers: utils.ParseCSV(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "stockledger.events"),
			Buffer:  getEnvAsInt("KAFKA_BUFFER", 1024),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and schedule specs
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}

	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}

	schedules := map[string]string{
		"AUDIT_SCHEDULE":          c.AuditSchedule,
		"WAL_CHECKPOINT_SCHEDULE": c.WALCheckpointSchedule,
	}
	if c.Backup.Enabled() {
		schedules["BACKUP_SCHEDULE"] = c.BackupSchedule
		if c.Backup.RetentionDays < 0 {
			return fmt.Errorf("BACKUP_RETENTION_DAYS must not be negative")
		}
	}
	for name, spec := range schedules {
		if err := scheduler.ValidateSchedule(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Kafka.Enabled() {
		if c.Kafka.Topic == "" {
			return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
		}
		if c.Kafka.Buffer <= 0 {
			return fmt.Errorf("KAFKA_BUFFER must be positive")
		}
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
