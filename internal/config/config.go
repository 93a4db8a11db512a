// Package config provides configuration for the gateway service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Duplicate connection policies for a single conversation id.
const (
	DuplicateSupersede = "supersede" // close the previous socket, accept the new one
	DuplicateReject    = "reject"    // refuse the second socket
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	Port         int
	PublicWSBase string // overrides the ws_url host derived from the request

	// RAG backend settings
	KBServiceURL    string
	KBServiceAPIKey string
	RAGTimeout      time.Duration

	// Database
	DatabaseURL string

	// CORS / rate limiting
	AllowedOrigins  []string
	RateLimitMax    int
	RateLimitWindow time.Duration

	// WebSocket settings
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	MaxMessageSize  int64
	DuplicatePolicy string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:            getEnvInt("PORT", 3001),
		PublicWSBase:    getEnv("PUBLIC_WS_BASE", ""),
		KBServiceURL:    getEnv("KB_SERVICE_URL", "http://localhost:8000"),
		KBServiceAPIKey: getEnv("KB_SERVICE_API_KEY", ""),
		RAGTimeout:      time.Duration(getEnvInt("RAG_TIMEOUT_MS", 30000)) * time.Millisecond,
		DatabaseURL:     getEnv("DATABASE_URL", "file:gateway.db?cache=shared&mode=rwc"),
		AllowedOrigins:  splitOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: time.Duration(getEnvInt("RATE_LIMIT_WINDOW", 60000)) * time.Millisecond,
		PingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:     time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		DuplicatePolicy: getEnv("WS_DUPLICATE_POLICY", DuplicateSupersede),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
