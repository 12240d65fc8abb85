package rpc

import (
	"fmt"
	"time"
)

// Config holds one node's connection parameters. A Blockchain owns exactly one
// Config, built from its stored node descriptor rather than process environment,
// since a process may drive many blockchains against many nodes.
type Config struct {
	URL               string
	User              string
	Password          string
	ConnectionTimeout time.Duration
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

// NewConfig builds a Config with the timeouts mandated for node calls
// (connect=5s, read=60s) and sane retry defaults.
func NewConfig(url, user, password string) (*Config, error) {
	if url == "" {
		return nil, fmt.Errorf("node url must not be empty")
	}
	return &Config{
		URL:               url,
		User:              user,
		Password:          password,
		ConnectionTimeout: 5 * time.Second,
		RequestTimeout:    60 * time.Second,
		MaxRetries:        5,
		RetryBaseDelay:    1 * time.Second,
	}, nil
}
