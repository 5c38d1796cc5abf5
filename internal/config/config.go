// Package config loads service configuration from the environment, reading a
// .env file first when running locally.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	GCP       GCPConfig
	BigQuery  BigQueryConfig
	Push      PushConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Tokens    TokensConfig
	I18n      I18nConfig
	Log       LogConfig
}

// AppConfig contains application-wide settings.
type AppConfig struct {
	Name        string
	Environment string
	// StoreBackend is "firestore" or "memory".
	StoreBackend string
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// GCPConfig contains Google Cloud project settings shared by Firestore, FCM,
// BigQuery and Cloud Storage clients.
type GCPConfig struct {
	ProjectID       string
	CredentialsFile string
}

// BigQueryConfig controls the job run ledger.
type BigQueryConfig struct {
	Enabled   bool
	DatasetID string
}

// PushConfig controls the push gateway.
type PushConfig struct {
	// Provider is "fcm" or "log".
	Provider string
	Timeout  time.Duration
}

// RedisConfig controls the job lease backend. An empty Addr selects the
// in-process lease.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SchedulerConfig controls the time trigger and job queue.
type SchedulerConfig struct {
	Enabled    bool
	Timezone   string
	StatusAt   string
	RecurAt    string
	Workers    int
	QueueSize  int
	MaxRetries int
	LeaseTTL   time.Duration
}

// TokensConfig controls device token housekeeping.
type TokensConfig struct {
	MaxPerUser int
}

// I18nConfig controls the translation catalog.
type I18nConfig struct {
	DefaultLanguage string
	// BundleURI optionally points at a JSON catalog override, either a local
	// path or a gs:// URI.
	BundleURI string
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads the configuration. When APP_ENV is "local" (the default) the
// file at envPath is loaded into the environment first.
func Load(envPath string) *Config {
	if GetEnv("APP_ENV", "local") == "local" {
		if err := godotenv.Load(envPath); err != nil {
			log.Println("no env file loaded:", err)
		}
	}
	return loadFromEnv()
}

func loadFromEnv() *Config {
	cfg := &Config{}

	cfg.App.Name = GetEnv("APP_NAME", "budget-tracker")
	cfg.App.Environment = GetEnv("APP_ENV", "local")
	cfg.App.StoreBackend = GetEnv("STORE_BACKEND", "firestore")

	cfg.Server.Port = GetEnv("PORT", "8080")
	cfg.Server.ReadTimeout = GetEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	cfg.Server.WriteTimeout = GetEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute)
	cfg.Server.ShutdownTimeout = GetEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)

	cfg.GCP.ProjectID = GetEnv("GCP_PROJECT_ID", "")
	cfg.GCP.CredentialsFile = GetEnv("GOOGLE_APPLICATION_CREDENTIALS", "")

	cfg.BigQuery.Enabled = GetEnvAsBool("BIGQUERY_ENABLED", false)
	cfg.BigQuery.DatasetID = GetEnv("BIGQUERY_DATASET", "budget")

	cfg.Push.Provider = GetEnv("PUSH_PROVIDER", "fcm")
	cfg.Push.Timeout = GetEnvAsDuration("PUSH_TIMEOUT", 30*time.Second)

	cfg.Redis.Addr = GetEnv("REDIS_ADDR", "")
	cfg.Redis.Password = GetEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = GetEnvAsInt("REDIS_DB", 0)

	cfg.Scheduler.Enabled = GetEnvAsBool("SCHEDULER_ENABLED", true)
	cfg.Scheduler.Timezone = GetEnv("SCHEDULER_TIMEZONE", "UTC")
	cfg.Scheduler.StatusAt = GetEnv("SCHEDULER_STATUS_AT", "06:00")
	cfg.Scheduler.RecurAt = GetEnv("SCHEDULER_RECURRING_AT", "00:30")
	cfg.Scheduler.Workers = GetEnvAsInt("SCHEDULER_WORKERS", 2)
	cfg.Scheduler.QueueSize = GetEnvAsInt("SCHEDULER_QUEUE_SIZE", 16)
	cfg.Scheduler.MaxRetries = GetEnvAsInt("JOB_MAX_RETRIES", 1)
	cfg.Scheduler.LeaseTTL = GetEnvAsDuration("JOB_LEASE_TTL", 15*time.Minute)

	cfg.Tokens.MaxPerUser = GetEnvAsInt("MAX_DEVICE_TOKENS", 10)

	cfg.I18n.DefaultLanguage = GetEnv("DEFAULT_LANGUAGE", "en")
	cfg.I18n.BundleURI = GetEnv("I18N_BUNDLE_URI", "")

	cfg.Log.Level = GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = GetEnv("LOG_FORMAT", "console")

	return cfg
}

// Location resolves the scheduler timezone, falling back to UTC.
func (c SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Warning: unknown timezone %q, using UTC", c.Timezone)
		return time.UTC
	}
	return loc
}

// GetEnv returns the value of key or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvAsInt parses key as an int.
func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

// GetEnvAsBool parses key as a bool.
func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

// GetEnvAsDuration parses key with time.ParseDuration.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}
