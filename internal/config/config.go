// Package config provides application configuration management using environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Gateway   GatewayConfig
	API       APIConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Server    ServerConfig
	Reconnect ReconnectConfig
	Logging   LoggingConfig
}

// GatewayConfig holds real-time connection configuration
type GatewayConfig struct {
	URL            string
	Encoding       string
	Debug          int // 0 silent, 1 retain trace, 2 retain and log
	TraceLimit     int // 0 keeps every trace entry
	HeartbeatGrace time.Duration
	DialTimeout    time.Duration
	Profile        string
}

// APIConfig holds REST collaborator configuration
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AuthConfig holds login credentials and token encryption
type AuthConfig struct {
	Email         string
	Password      string
	Token         string
	EncryptionKey []byte
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Enabled        bool
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	MigrationsPath string
}

// ServerConfig holds the ops server configuration
type ServerConfig struct {
	HTTPPort string
	GRPCPort string
	Host     string
	Env      string
}

// ReconnectConfig holds the supervisor backoff policy
type ReconnectConfig struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration // 0 retries forever
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
// It optionally loads from a .env file if it exists
func Load() (*Config, error) {
	// Try to load .env file (optional, ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}

	debug, err := getEnvInt("GATEWAY_DEBUG", 0)
	if err != nil {
		return nil, err
	}
	traceLimit, err := getEnvInt("GATEWAY_TRACE_LIMIT", 1000)
	if err != nil {
		return nil, err
	}
	grace, err := getEnvDuration("GATEWAY_HEARTBEAT_GRACE", 15*time.Second)
	if err != nil {
		return nil, err
	}
	dialTimeout, err := getEnvDuration("GATEWAY_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.Gateway = GatewayConfig{
		URL:            getEnv("GATEWAY_URL", "ws://localhost:8080/gateway"),
		Encoding:       getEnv("GATEWAY_ENCODING", "json"),
		Debug:          debug,
		TraceLimit:     traceLimit,
		HeartbeatGrace: grace,
		DialTimeout:    dialTimeout,
		Profile:        getEnv("GATEWAY_PROFILE", "default"),
	}

	apiTimeout, err := getEnvDuration("API_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.API = APIConfig{
		BaseURL: getEnv("API_BASE_URL", "http://localhost:8080/api"),
		Timeout: apiTimeout,
	}

	encryptionKey, err := hex.DecodeString(getEnv("TOKEN_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: must be a hex-encoded string: %w", err)
	}

	cfg.Auth = AuthConfig{
		Email:         getEnv("AUTH_EMAIL", ""),
		Password:      getEnv("AUTH_PASSWORD", ""),
		Token:         getEnv("AUTH_TOKEN", ""),
		EncryptionKey: encryptionKey,
	}

	// Load Database Config
	maxOpenConns, _ := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	maxIdleConns, _ := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))

	cfg.Database = DatabaseConfig{
		Enabled:        getEnvBool("DB_ENABLED", false),
		Host:           getEnv("DB_HOST", "localhost"),
		Port:           getEnv("DB_PORT", "5432"),
		User:           getEnv("DB_USER", "discordlite"),
		Password:       getEnv("DB_PASSWORD", ""),
		Name:           getEnv("DB_NAME", "discordlite_client"),
		SSLMode:        getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:   maxOpenConns,
		MaxIdleConns:   maxIdleConns,
		MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "internal/database/migrations"),
	}

	cfg.Server = ServerConfig{
		HTTPPort: getEnv("HTTP_PORT", "9090"),
		GRPCPort: getEnv("GRPC_PORT", "50051"),
		Host:     getEnv("SERVER_HOST", "localhost"),
		Env:      getEnv("ENVIRONMENT", "development"),
	}

	initial, err := getEnvDuration("RECONNECT_INITIAL_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	maxInterval, err := getEnvDuration("RECONNECT_MAX_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	maxElapsed, err := getEnvDuration("RECONNECT_MAX_ELAPSED", 0)
	if err != nil {
		return nil, err
	}

	cfg.Reconnect = ReconnectConfig{
		Enabled:         getEnvBool("RECONNECT_ENABLED", true),
		InitialInterval: initial,
		MaxInterval:     maxInterval,
		MaxElapsed:      maxElapsed,
	}

	// Load Logging Config
	cfg.Logging = LoggingConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate Gateway Config
	if c.Gateway.URL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("GATEWAY_URL must be a ws:// or wss:// URL")
	}
	if c.Gateway.Encoding != "json" {
		return fmt.Errorf("GATEWAY_ENCODING must be json")
	}
	if c.Gateway.Debug < 0 || c.Gateway.Debug > 2 {
		return fmt.Errorf("GATEWAY_DEBUG must be 0, 1 or 2")
	}
	if c.Gateway.TraceLimit < 0 {
		return fmt.Errorf("GATEWAY_TRACE_LIMIT must not be negative")
	}
	if c.Gateway.HeartbeatGrace <= 0 {
		return fmt.Errorf("GATEWAY_HEARTBEAT_GRACE must be positive")
	}
	if c.Gateway.DialTimeout <= 0 {
		return fmt.Errorf("GATEWAY_DIAL_TIMEOUT must be positive")
	}

	// Validate API Config
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}

	// Validate Auth Config
	if len(c.Auth.EncryptionKey) != 0 && len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 32 bytes (64 hex characters) for AES-256")
	}

	// Validate Database Config
	if c.Database.Enabled {
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
		if len(c.Auth.EncryptionKey) == 0 {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY is required when DB_ENABLED is set")
		}
	}

	// Validate Reconnect Config
	if c.Reconnect.InitialInterval <= 0 {
		return fmt.Errorf("RECONNECT_INITIAL_INTERVAL must be positive")
	}
	if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		return fmt.Errorf("RECONNECT_MAX_INTERVAL must not be less than RECONNECT_INITIAL_INTERVAL")
	}

	// Validate Logging Config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}

	return nil
}

// Endpoint returns the gateway URL with the encoding selector applied
func (c *GatewayConfig) Endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse gateway URL: %w", err)
	}

	encoding := c.Encoding
	if encoding == "" {
		encoding = "json"
	}

	q := u.Query()
	q.Set("encoding", encoding)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// getEnv retrieves an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go duration strings ("15s") or bare milliseconds
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be a duration: %w", key, err)
	}
	return d, nil
}
