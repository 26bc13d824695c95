package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the insights engine.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	ClickHouse  ClickHouseConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
	Attribution AttributionConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional columnar event archive.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
	Port    string
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// AttributionConfig holds the default attribution windows per campaign
// family. A campaign with an explicit end date ignores these.
type AttributionConfig struct {
	AdWindow      time.Duration
	EmailWindow   time.Duration
	OrganicWindow time.Duration
	BackfillLimit int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("INSIGHTS_HTTP_ADDR", ":8080"),
			Env:             getEnv("INSIGHTS_ENV", "development"),
			ShutdownTimeout: getDurationEnv("INSIGHTS_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("INSIGHTS_DB_HOST", "localhost"),
			Port:     getIntEnv("INSIGHTS_DB_PORT", 5432),
			User:     getEnv("INSIGHTS_DB_USER", "insights"),
			Password: getEnv("INSIGHTS_DB_PASSWORD", "insights_secret"),
			DBName:   getEnv("INSIGHTS_DB_NAME", "insights"),
			SSLMode:  getEnv("INSIGHTS_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("INSIGHTS_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("INSIGHTS_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("INSIGHTS_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("INSIGHTS_REDIS_PASSWORD", ""),
			DB:       getIntEnv("INSIGHTS_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("INSIGHTS_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("INSIGHTS_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("INSIGHTS_CLICKHOUSE_DB", "insights"),
			User:     getEnv("INSIGHTS_CLICKHOUSE_USER", "default"),
			Password: getEnv("INSIGHTS_CLICKHOUSE_PASSWORD", ""),
		},
		Log: LogConfig{
			Level:  getEnv("INSIGHTS_LOG_LEVEL", "info"),
			Format: getEnv("INSIGHTS_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("INSIGHTS_METRICS_ENABLED", true),
			Path:    getEnv("INSIGHTS_METRICS_PATH", "/metrics"),
			Port:    getEnv("INSIGHTS_METRICS_PORT", "9090"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("INSIGHTS_GEO_ENABLED", false),
			DatabasePath: getEnv("INSIGHTS_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Attribution: AttributionConfig{
			AdWindow:      getDurationEnv("INSIGHTS_ATTRIBUTION_AD_WINDOW", 7*24*time.Hour),
			EmailWindow:   getDurationEnv("INSIGHTS_ATTRIBUTION_EMAIL_WINDOW", 3*24*time.Hour),
			OrganicWindow: getDurationEnv("INSIGHTS_ATTRIBUTION_ORGANIC_WINDOW", 7*24*time.Hour),
			BackfillLimit: getIntEnv("INSIGHTS_ATTRIBUTION_BACKFILL_LIMIT", 500),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Geo.Enabled && c.Geo.DatabasePath == "" {
		return fmt.Errorf("INSIGHTS_GEO_DB_PATH is required when geo is enabled")
	}
	if c.Attribution.BackfillLimit <= 0 {
		return fmt.Errorf("INSIGHTS_ATTRIBUTION_BACKFILL_LIMIT must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
