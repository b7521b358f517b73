// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all client configuration
type Config struct {
	// API
	APIBaseURL string `validate:"required,url"`
	AuthToken  string `validate:"required"`

	// Transport
	WSURL                string `validate:"required"`
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// Viewer
	ViewerID int64 `validate:"required,gt=0"`

	// Conversation engine
	MessagePageSize int           `validate:"gt=0"`
	TypingIdle      time.Duration `validate:"gt=0"`
	TypingTTL       time.Duration `validate:"gt=0"`
	HTTPTimeout     time.Duration `validate:"gt=0"`

	// Debug listener (/healthz, /metrics)
	DebugListenAddr string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		AuthToken:  getEnv("AUTH_TOKEN", ""),

		WSURL:                getEnv("WS_URL", "ws://localhost:8080/ws"),
		ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", "1s"),
		ReconnectMaxDelay:    getEnvDuration("RECONNECT_MAX_DELAY", "30s"),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 10),

		ViewerID: getEnvInt64("VIEWER_ID", 0),

		MessagePageSize: getEnvInt("MESSAGE_PAGE_SIZE", 50),
		TypingIdle:      getEnvDuration("TYPING_IDLE", "1000ms"),
		TypingTTL:       getEnvDuration("TYPING_TTL", "5s"),
		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", "15s"),

		DebugListenAddr: getEnv("DEBUG_LISTEN_ADDR", "127.0.0.1:6060"),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultValue)
	return d
}
