// Package config provides configuration loading and validation for the audit
// API server. It uses koanf to merge environment variables with optional
// file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the audit API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// JWT Authentication (actor extraction)
	JWTSecret string `koanf:"jwt_secret"`

	// Redis (optional; enables the per-identity sequencer lock)
	RedisAddr   string        `koanf:"redis_addr"`
	LockTTL     time.Duration `koanf:"lock_ttl"`
	SerializeBy bool          `koanf:"serialize_versions"`

	// Tracing
	TracingEnabled  bool    `koanf:"tracing_enabled"`
	TracingExporter string  `koanf:"tracing_exporter"`
	TracingEndpoint string  `koanf:"tracing_endpoint"`
	TracingSampling float64 `koanf:"tracing_sampling"`
	TracingInsecure bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrMissingRedisAddr   = errors.New("REDIS_ADDR is required when SERIALIZE_VERSIONS is enabled")
)

// Default values for non-secret configuration.
const (
	DefaultPort            = 8080
	DefaultEnv             = "development"
	DefaultLockTTL         = 10 * time.Second
	DefaultTracingSampling = 0.1
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values. Returns the
// loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	lockTTL := DefaultLockTTL
	if k.Exists("lock_ttl") {
		lockTTL = k.Duration("lock_ttl")
	}
	if val := os.Getenv("LOCK_TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("LOCK_TTL must be a valid duration: %w", err))
		} else {
			lockTTL = d
		}
	}

	sampling := DefaultTracingSampling
	if k.Exists("tracing_sampling") {
		sampling = k.Float64("tracing_sampling")
	}
	if val := os.Getenv("TRACING_SAMPLING"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("TRACING_SAMPLING must be a valid float: %w", err))
		} else {
			sampling = f
		}
	}

	cfg := &Config{
		Port:            port,
		Env:             getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		DatabaseURL:     getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:       getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		RedisAddr:       getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		LockTTL:         lockTTL,
		SerializeBy:     getEnvBool("SERIALIZE_VERSIONS", k.Bool("serialize_versions")),
		TracingEnabled:  getEnvBool("TRACING_ENABLED", k.Bool("tracing_enabled")),
		TracingExporter: getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), "otlp-http"),
		TracingEndpoint: getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSampling: sampling,
		TracingInsecure: getEnvBool("TRACING_INSECURE", k.Bool("tracing_insecure")),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.SerializeBy && c.RedisAddr == "" {
		errs = append(errs, ErrMissingRedisAddr)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":               fmt.Sprintf("%d", c.Port),
		"env":                c.Env,
		"database_url":       maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":         maskSecret(c.JWTSecret),
		"redis_addr":         c.RedisAddr,
		"lock_ttl":           c.LockTTL.String(),
		"serialize_versions": fmt.Sprintf("%t", c.SerializeBy),
		"tracing_enabled":    fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":   c.TracingExporter,
		"tracing_endpoint":   c.TracingEndpoint,
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBool returns the environment variable as bool if set, otherwise the koanf value.
func getEnvBool(envKey string, koanfVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return koanfVal
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
