package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Strava API configuration
	StravaClientID     string
	StravaClientSecret string
	StravaAPIBaseURL   string
	StravaTokenURL     string

	// Internal API configuration
	InternalAPIKey string

	// Lazy sync cooldown store; empty keeps markers in memory
	RedisURL string

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Scheduler configuration
	SyncInterval        time.Duration
	StatusSweepInterval time.Duration
	WeeklySweepInterval time.Duration

	// Sync configuration
	SyncConcurrency   int
	SyncRatePerSecond float64
	LazySyncCooldown  time.Duration
}

// Load reads configuration from environment variables, after loading the file
// named by ENV_FILE (default .env) if it exists. Variables already set in the
// environment win over the file. It fails fast if required variables are missing.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{
		// Optional values with defaults
		Host:             getEnv("HOST", "localhost"),
		Port:             getEnvInt("PORT", 4101),
		DatabasePath:     getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		StravaAPIBaseURL: getEnv("STRAVA_API_BASE_URL", ""),
		StravaTokenURL:   getEnv("STRAVA_TOKEN_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		MetricsHost:    getEnv("METRICS_HOST", "localhost"),
		MetricsPort:    getEnvInt("METRICS_PORT", 9090),

		SyncInterval:        getEnvDuration("SYNC_INTERVAL", 10*time.Minute),
		StatusSweepInterval: getEnvDuration("STATUS_SWEEP_INTERVAL", time.Hour),
		WeeklySweepInterval: getEnvDuration("WEEKLY_SWEEP_INTERVAL", time.Hour),

		SyncConcurrency:   getEnvInt("SYNC_CONCURRENCY", 4),
		SyncRatePerSecond: getEnvFloat("SYNC_RATE_PER_SECOND", 0.5),
		LazySyncCooldown:  getEnvDuration("LAZY_SYNC_COOLDOWN", 5*time.Minute),
	}

	// Required values
	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.StravaClientID == "":
		return errors.New("STRAVA_CLIENT_ID is required")
	case c.StravaClientSecret == "":
		return errors.New("STRAVA_CLIENT_SECRET is required")
	case c.InternalAPIKey == "":
		return errors.New("INTERNAL_API_KEY is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.MetricsEnabled && (c.MetricsPort < 1 || c.MetricsPort > 65535) {
		return fmt.Errorf("METRICS_PORT must be between 1 and 65535, got %d", c.MetricsPort)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if c.SyncInterval <= 0 || c.StatusSweepInterval <= 0 || c.WeeklySweepInterval <= 0 {
		return errors.New("sweep intervals must be positive")
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.SyncConcurrency)
	}
	if c.SyncRatePerSecond < 0 {
		return fmt.Errorf("SYNC_RATE_PER_SECOND must not be negative, got %g", c.SyncRatePerSecond)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings such as "90s" or "10m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
