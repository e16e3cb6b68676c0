package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/xelth-com/parcelseal/internal/keystore"
	"github.com/xelth-com/parcelseal/internal/tokencodec"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	// StoreDriver is "postgres" or "memory"
	StoreDriver string
	Database    DatabaseConfig
	Tokens      TokenConfig
	Audit       AuditConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool

	// EmbeddedDataPath is where the embedded server keeps its files
	EmbeddedDataPath string
}

// TokenConfig holds token issuance and key settings
type TokenConfig struct {
	TTL            time.Duration
	ReaperInterval time.Duration // 0 disables the reaper
	SchemeVersion  int
	Keys           string // ENC_KEYS, "id:hex,id:hex"
	ActiveKey      string // ENC_ACTIVE_KEY, defaults to the last listed key
}

// AuditConfig holds scan audit settings
type AuditConfig struct {
	RetryInterval time.Duration
	MaxPending    int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	keys := os.Getenv("ENC_KEYS")
	if keys == "" {
		return nil, fmt.Errorf("ENC_KEYS is required (generate one with cmd/genkey)")
	}

	ttl, err := getDuration("TOKEN_TTL", 72*time.Hour)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive")
	}
	reaper, err := getDuration("REAPER_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	retry, err := getDuration("AUDIT_RETRY_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	if retry <= 0 {
		return nil, fmt.Errorf("AUDIT_RETRY_INTERVAL must be positive")
	}
	scheme, err := getInt("ENC_SCHEME_VERSION", tokencodec.DefaultScheme)
	if err != nil {
		return nil, err
	}
	if !tokencodec.SupportedScheme(scheme) {
		return nil, fmt.Errorf("ENC_SCHEME_VERSION %d is not supported", scheme)
	}
	maxPending, err := getInt("AUDIT_MAX_PENDING", 10000)
	if err != nil {
		return nil, err
	}

	driver := getEnv("STORE_DRIVER", "postgres")
	if driver != "postgres" && driver != "memory" {
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", driver)
	}

	return &Config{
		NodeEnv:     getEnv("NODE_ENV", "development"),
		Port:        getEnv("PORT", "3001"),
		JWTSecret:   jwtSecret,
		StoreDriver: driver,
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "parcelseal"),
			Alter:    getEnv("DB_ALTER", "false") == "true",

			EmbeddedDataPath: getEnv("PG_EMBEDDED_DATA", "./db_data"),
		},
		Tokens: TokenConfig{
			TTL:            ttl,
			ReaperInterval: reaper,
			SchemeVersion:  scheme,
			Keys:           keys,
			ActiveKey:      os.Getenv("ENC_ACTIVE_KEY"),
		},
		Audit: AuditConfig{
			RetryInterval: retry,
			MaxPending:    maxPending,
		},
	}, nil
}

// Keyring parses the configured master keys
func (c *Config) Keyring() (*keystore.Keyring, error) {
	ring, err := keystore.Parse(c.Tokens.Keys, c.Tokens.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("ENC_KEYS: %w", err)
	}
	return ring, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
