package websocket

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds WebSocket hub and upgrader tuning.
type Config struct {
	MaxConnections  int
	PingInterval    time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string
}

// LoadConfig reads WEBSOCKET_* environment variables for hub tuning and takes
// the allowed-origin list from API_CORS_ORIGINS, split on commas as the HTTP
// CORS middleware splits it, so the two surfaces stay in sync.
func LoadConfig() *Config {
	return &Config{
		MaxConnections:  getEnvAsInt("WEBSOCKET_MAX_CONNECTIONS", 1000),
		PingInterval:    getEnvAsDuration("WEBSOCKET_PING_INTERVAL", 30*time.Second),
		ReadBufferSize:  getEnvAsInt("WEBSOCKET_READ_BUFFER_SIZE", 1024),
		WriteBufferSize: getEnvAsInt("WEBSOCKET_WRITE_BUFFER_SIZE", 1024),
		AllowedOrigins:  getEnvAsStringSlice("API_CORS_ORIGINS", []string{"*"}),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsStringSlice(key string, defaultVal []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultVal
}
