package config

import (
	"math"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRefreshMinutes = 5
	minRefreshMinutes     = 1
)

// Config holds all configuration for the application.
type Config struct {
	AppEnv                string
	SheetsAPIURL          string
	RefreshInterval       time.Duration
	FetchTimeout          time.Duration
	CoalesceRefresh       bool
	CacheBackend          string
	CacheKeyPrefix        string
	DBPath                string
	DBDriver              string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	HTTPPort              int
	GRPCPort              int
	GRPCReflectionEnabled bool
	WatchFixture          string
	Location              *time.Location
}

// LoadFromEnv loads configuration from environment variables.
// SHEETS_API_URL is deliberately left empty when unset; the refresh loop reports it.
func LoadFromEnv() *Config {
	minutes := getEnvFloat("REFRESH_MINUTES", defaultRefreshMinutes)
	if minutes < minRefreshMinutes {
		minutes = minRefreshMinutes
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		loc = time.Local
	}

	return &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		SheetsAPIURL:          os.Getenv("SHEETS_API_URL"),
		RefreshInterval:       time.Duration(minutes * float64(time.Minute)),
		FetchTimeout:          time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 15)) * time.Second,
		CoalesceRefresh:       getEnvBool("COALESCE_REFRESH", false),
		CacheBackend:          getEnv("CACHE_BACKEND", "sqlite"),
		CacheKeyPrefix:        getEnv("CACHE_KEY_PREFIX", "kpi-dashboard:"),
		DBPath:                getEnv("DB_PATH", "./data/kpi.db"),
		DBDriver:              getEnv("DB_DRIVER", "sqlite3"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		HTTPPort:              getEnvInt("HTTP_PORT", 8080),
		GRPCPort:              getEnvInt("GRPC_PORT", 50051),
		GRPCReflectionEnabled: getEnvBool("GRPC_REFLECTION_ENABLED", false),
		WatchFixture:          os.Getenv("WATCH_FIXTURE"),
		Location:              loc,
	}
}

// NewLogger creates a new Zap logger based on the config.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	if cfg.AppEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat accepts fractional values; non-finite values fall back.
func getEnvFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return b
}
