package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Database  DatabaseConfig
	Analytics AnalyticsConfig
	Prewarm   PrewarmConfig
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Path string
}

// AnalyticsConfig holds calculation-wide settings.
type AnalyticsConfig struct {
	BaseCurrency string
	RiskFreeRate float64
}

// PrewarmConfig holds settings for the factor-exposure pre-warm job.
type PrewarmConfig struct {
	Schedule    string        // cron expression, runs after pack publication
	Workers     int           // bounded fan-out size
	TaskTimeout time.Duration // per-portfolio regression timeout
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	riskFree, err := getEnvFloat("RISK_FREE_RATE", 0.02)
	if err != nil {
		return nil, err
	}

	workers, err := getEnvInt("PREWARM_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	taskTimeout, err := getEnvDuration("PREWARM_TASK_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/portfolio_analytics.db"),
		},
		Analytics: AnalyticsConfig{
			BaseCurrency: getEnv("BASE_CURRENCY", "USD"),
			RiskFreeRate: riskFree,
		},
		Prewarm: PrewarmConfig{
			Schedule:    getEnv("PREWARM_SCHEDULE", "30 18 * * MON-FRI"),
			Workers:     workers,
			TaskTimeout: taskTimeout,
		},
	}

	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
