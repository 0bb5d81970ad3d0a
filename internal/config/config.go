// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var validate = validator.New()

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `validate:"required"`
	MetricsAddr string

	// Logging
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	// Store
	StoreBackend   string `validate:"oneof=postgres memory"`
	DatabaseURL    string `validate:"required_if=StoreBackend postgres"`
	MigrationsDir  string
	DBMaxOpenConns int `validate:"gte=1"`
	DBMaxIdleConns int `validate:"gte=0,ltefield=DBMaxOpenConns"`

	// TLS (optional; if both set, server uses HTTPS)
	TLSCertFile string `validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `validate:"required_with=TLSCertFile"`

	// Auth
	JWTSecret string `validate:"required,min=8"`

	// Tenancy
	DefaultTenant   string
	TenantCacheTTL  time.Duration `validate:"gte=0"`
	WarmSchemaCache bool

	// Limits
	CrossSchemaLimit      int `validate:"gte=0"`
	DefaultRequestsPerMin int `validate:"gte=0"`
}

// Load reads configuration from environment variables with defaults.
// Variables in envFiles (default ".env") fill in what the environment
// does not set; a missing file is ignored.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		ListenAddr:            envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:           envOr("METRICS_ADDR", ":9090"),
		LogLevel:              envOr("LOG_LEVEL", "info"),
		LogFormat:             envOr("LOG_FORMAT", "json"),
		StoreBackend:          envOr("STORE_BACKEND", BackendPostgres),
		DatabaseURL:           envOr("DATABASE_URL", ""),
		MigrationsDir:         envOr("MIGRATIONS_DIR", ""),
		DBMaxOpenConns:        envInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:        envInt("DB_MAX_IDLE_CONNS", 5),
		TLSCertFile:           envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:            envOr("TLS_KEY_FILE", ""),
		JWTSecret:             envOr("JWT_SECRET", ""),
		DefaultTenant:         envOr("DEFAULT_TENANT", ""),
		TenantCacheTTL:        envDuration("TENANT_CACHE_TTL", time.Minute),
		WarmSchemaCache:       envBool("WARM_SCHEMA_CACHE", false),
		CrossSchemaLimit:      envInt("CROSS_SCHEMA_LIMIT", 100),
		DefaultRequestsPerMin: envInt("DEFAULT_REQUESTS_PER_MINUTE", 0), // 0 = unlimited
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("config %s: validation failed on '%s' tag (value: %v)", e.Field(), e.Tag(), e.Value())
	}
	return err
}

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
