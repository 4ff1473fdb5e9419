package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port           string
	Env            string
	DatabaseDriver string
	DatabaseURL    string
	LogLevel       string
	StaticDir      string

	AllowedOrigins  []string // empty means any origin
	MaxMessageSize  int64
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, loading a .env file
// first when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "3000"),
		Env:            getEnv("ENV", "development"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StaticDir:      getEnv("STATIC_DIR", "public"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	size, err := strconv.ParseInt(getEnv("MAX_MESSAGE_SIZE", "65536"), 10, 64)
	if err != nil || size <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGE_SIZE must be a positive integer")
	}
	cfg.MaxMessageSize = size

	secs, err := strconv.Atoi(getEnv("SHUTDOWN_TIMEOUT", "10"))
	if err != nil || secs <= 0 {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT must be a positive number of seconds")
	}
	cfg.ShutdownTimeout = time.Duration(secs) * time.Second

	switch cfg.DatabaseDriver {
	case "sqlite3":
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "chat.db"
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Addr is the listen address on all interfaces.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses a comma separated list. A lone "*" yields nil.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return nil
		}
		out = append(out, entry)
	}
	return out
}
