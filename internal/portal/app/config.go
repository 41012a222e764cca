package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/billing/internal/portal/store"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	APIURL        string        `yaml:"api_url"`         // Backend base URL (default: http://localhost:8081/api)
	Profile       string        `yaml:"profile"`         // Session profile name (default: default)
	Store         string        `yaml:"store"`           // sqlite, redis or memory (default: sqlite)
	DatabaseFile  string        `yaml:"database_file"`   // SQLite file (default: ./billing.db)
	RedisAddr     string        `yaml:"redis_addr"`      // Redis address (default: localhost:6379)
	RedisPassword string        `yaml:"redis_password"`  // Optional
	RedisDB       int           `yaml:"redis_db"`        // Redis database number (default: 0)
	RedisTTL      time.Duration `yaml:"redis_ttl"`       // Idle profile expiry in Redis (default: 30 days)
	SealTokens    bool          `yaml:"seal_tokens"`     // Encrypt tokens at rest (default: false)
	MasterKeyPath string        `yaml:"master_key_path"` // Optional: key file for sealing; falls back to BILLING_MASTER_KEY
	LogoutTimeout time.Duration `yaml:"logout_timeout"`  // Bound on the backend logout call (default: 3s)
	HTTPTimeout   time.Duration `yaml:"http_timeout"`    // Per-request timeout (default: 15s)
	RateLimit     float64       `yaml:"rate_limit"`      // Authenticated requests per second, 0 disables (default: 0)
	RateBurst     int           `yaml:"rate_burst"`      // Limiter burst (default: 5)
	Env           string        `yaml:"env"`             // Environment (dev, staging, prod) (default: dev)
	LogLevel      string        `yaml:"log_level"`       // Log level (debug, info, warn, error) (default: warn)
	LogFormat     string        `yaml:"log_format"`      // Log format (json, text) (default: text)
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:        "http://localhost:8081/api",
		Profile:       store.DefaultProfile,
		Store:         StoreSQLite,
		DatabaseFile:  "billing.db",
		RedisAddr:     "localhost:6379",
		LogoutTimeout: 3 * time.Second,
		HTTPTimeout:   15 * time.Second,
		RateBurst:     5,
		Env:           "dev",
		LogLevel:      "warn",
		LogFormat:     "text",
	}
}

// LoadConfig layers the defaults, the YAML file at path (or BILLING_CONFIG)
// and the environment, in that order. A missing file is only an error when
// it was asked for explicitly.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("BILLING_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "billing.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case explicit || !os.IsNotExist(err):
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.APIURL = getEnvOrDefault("BILLING_API_URL", cfg.APIURL)
	cfg.Profile = getEnvOrDefault("BILLING_PROFILE", cfg.Profile)
	cfg.Store = getEnvOrDefault("BILLING_STORE", cfg.Store)
	cfg.DatabaseFile = getEnvOrDefault("BILLING_DATABASE_FILE", cfg.DatabaseFile)
	cfg.RedisAddr = getEnvOrDefault("BILLING_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnvOrDefault("BILLING_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvIntOrDefault("BILLING_REDIS_DB", cfg.RedisDB)
	cfg.RedisTTL = getEnvDurationOrDefault("BILLING_REDIS_TTL", cfg.RedisTTL)
	cfg.SealTokens = getEnvBoolOrDefault("BILLING_SEAL_TOKENS", cfg.SealTokens)
	cfg.MasterKeyPath = getEnvOrDefault("BILLING_MASTER_KEY_PATH", cfg.MasterKeyPath)
	cfg.LogoutTimeout = getEnvDurationOrDefault("BILLING_LOGOUT_TIMEOUT", cfg.LogoutTimeout)
	cfg.HTTPTimeout = getEnvDurationOrDefault("BILLING_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.RateLimit = getEnvFloatOrDefault("BILLING_RATE_LIMIT", cfg.RateLimit)
	cfg.RateBurst = getEnvIntOrDefault("BILLING_RATE_BURST", cfg.RateBurst)
	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	return cfg, cfg.Validate()
}

// Validate checks the combined configuration.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want sqlite, redis or memory)", c.Store)
	}
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	if err := store.ValidateProfile(c.Profile); err != nil {
		return fmt.Errorf("profile %q: %w", c.Profile, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "3s", "1h")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}
