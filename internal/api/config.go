package api

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the API server.
type Config struct {
	Port            int
	CORSOrigins     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	SignificantReorgThresholdDefault int
}

// NewConfig reads API_PORT (default 8080), API_CORS_ORIGINS (default *), and
// SIGNIFICANT_REORG_THRESHOLD (default 2, used when creating a blockchain
// without an explicit threshold).
func NewConfig() *Config {
	port := 8080
	if portStr := os.Getenv("API_PORT"); portStr != "" {
		if parsed, err := strconv.Atoi(portStr); err == nil && parsed > 0 && parsed <= 65535 {
			port = parsed
		}
	}

	corsOrigins := os.Getenv("API_CORS_ORIGINS")
	if corsOrigins == "" {
		corsOrigins = "*"
	}

	threshold := 2
	if t := os.Getenv("SIGNIFICANT_REORG_THRESHOLD"); t != "" {
		if parsed, err := strconv.Atoi(t); err == nil && parsed > 0 {
			threshold = parsed
		}
	}

	return &Config{
		Port:                              port,
		CORSOrigins:                       corsOrigins,
		ReadTimeout:                       30 * time.Second,
		WriteTimeout:                      30 * time.Second,
		IdleTimeout:                       120 * time.Second,
		ShutdownTimeout:                   30 * time.Second,
		SignificantReorgThresholdDefault: threshold,
	}
}

// Address returns the listen address for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}
