package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the challenge core.
type Config struct {
	// Event stream
	Port string

	// Database
	DBPath string

	// Rule catalog; empty means built-in defaults only.
	TiersPath string

	// Sweeper schedule, cron spec.
	SweepSpec string

	// Equity-tick coalescing: full recomputes per account per second.
	// 0 disables coalescing.
	TickRate float64

	// Platform collaborators
	DryRun bool

	// Logging
	LogLevel  string // zerolog level name
	LogPretty bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/challenges.db")
	}

	return &Config{
		Port:      getEnv("PORT", "8080"),
		DBPath:    dbPath,
		TiersPath: getEnv("TIERS_PATH", ""),
		SweepSpec: getEnv("SWEEP_SPEC", "* * * * *"),
		TickRate:  getEnvFloat("TICK_RATE", 2),
		DryRun:    getEnv("DRY_RUN", "true") == "true",
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty: getEnv("LOG_PRETTY", "false") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
