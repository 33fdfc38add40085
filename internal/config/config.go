// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // base directory for the database and staging files
	DBPath   string // resolved SQLite file path
	LogLevel string
	Port     int
	DevMode  bool

	// BridgeURL is the local market-data gateway; the gateway owns the
	// broker session, this process only speaks its JSON API.
	BridgeURL string

	// Sync tuning.
	SyncWorkers   int           // bounded pool size for per-symbol fetches
	BarTimeout    time.Duration // per-call deadline for quote fetches
	BrokerTimeout time.Duration // per-call deadline for broker fetches
	RetryAttempts int           // transient-error retry budget
	KlineDays     int           // default backfill window in days

	// Daily schedule (cron expressions, robfig/cron standard format).
	SyncSchedule   string
	BackupSchedule string
	AlertSchedule  string

	// Cache.
	CacheTTL time.Duration

	// S3-compatible backup target. Disabled when the bucket is empty.
	Backup BackupConfig

	// Option contract multipliers, loaded from YAML.
	MultipliersPath string
}

// BackupConfig holds S3-compatible backup settings.
type BackupConfig struct {
	Bucket          string
	Endpoint        string // custom endpoint for S3-compatible stores; empty for AWS
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Enabled reports whether backups are configured.
func (b BackupConfig) Enabled() bool { return b.Bucket != "" }

// Load reads configuration from a .env file (if present) and the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("SPYGLASS_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		DBPath:   filepath.Join(absDataDir, "spyglass.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("SPYGLASS_PORT", 8010),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		BridgeURL: getEnv("BRIDGE_URL", "http://127.0.0.1:8020"),

		SyncWorkers:   getEnvAsInt("SYNC_WORKERS", 4),
		BarTimeout:    getEnvAsDuration("BAR_TIMEOUT", 10*time.Second),
		BrokerTimeout: getEnvAsDuration("BROKER_TIMEOUT", 15*time.Second),
		RetryAttempts: getEnvAsInt("RETRY_ATTEMPTS", 3),
		KlineDays:     getEnvAsInt("KLINE_DAYS", 365),

		SyncSchedule:   getEnv("SYNC_SCHEDULE", "0 18 * * *"),
		BackupSchedule: getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
		AlertSchedule:  getEnv("ALERT_SCHEDULE", "*/30 * * * *"),

		CacheTTL: getEnvAsDuration("CACHE_TTL", 15*time.Minute),

		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
			Region:          getEnv("BACKUP_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},

		MultipliersPath: getEnv("MULTIPLIERS_PATH", filepath.Join(absDataDir, "multipliers.yaml")),
	}

	if cfg.SyncWorkers < 1 {
		return nil, fmt.Errorf("SYNC_WORKERS must be positive, got %d", cfg.SyncWorkers)
	}
	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("RETRY_ATTEMPTS must be positive, got %d", cfg.RetryAttempts)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
