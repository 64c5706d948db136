// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// SecretKey is the AES-256 key for credential encryption at rest.
	SecretKey []byte
	DBPath    string

	CleanupInterval  time.Duration
	MaxRetryAttempts uint64
	RetryBackoffBase time.Duration

	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
	PollTimeout         time.Duration

	SessionExpiryDays int

	CIBaseURL string
	CIAccount string
	RepoOwner string
}

// HasProvisioningTargets returns true when both the ci-platform base URL and
// the repository owner are set. Used by the composition root to decide
// whether a synchronous provisioning run can be serviced.
func (c *Config) HasProvisioningTargets() bool {
	return c.CIBaseURL != "" && c.RepoOwner != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. DEMOFORGE_SECRET_KEY is required and must be 64 hex characters (a
// 32-byte AES-256 key); the process refuses to start without it so credentials
// are never stored unencrypted. DEMOFORGE_CI_BASE_URL and DEMOFORGE_REPO_OWNER
// are only required when provisioning is requested. Optional variables with
// defaults: DEMOFORGE_DB_PATH (demoforge.db), DEMOFORGE_CLEANUP_INTERVAL (1h),
// DEMOFORGE_MAX_RETRY_ATTEMPTS (5), DEMOFORGE_RETRY_BACKOFF_BASE (2s),
// DEMOFORGE_POLL_INITIAL_INTERVAL (2s), DEMOFORGE_POLL_MAX_INTERVAL (30s),
// DEMOFORGE_POLL_TIMEOUT (5m), DEMOFORGE_SESSION_EXPIRY_DAYS (2),
// DEMOFORGE_CI_ACCOUNT ("").
func Load() (*Config, error) {
	keyHex := os.Getenv("DEMOFORGE_SECRET_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("DEMOFORGE_SECRET_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("DEMOFORGE_SECRET_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("DEMOFORGE_SECRET_KEY must decode to 32 bytes, got %d", len(key))
	}

	dbPath := "demoforge.db"
	if v, ok := os.LookupEnv("DEMOFORGE_DB_PATH"); ok {
		dbPath = v
	}

	cleanupInterval, err := durationEnv("DEMOFORGE_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	maxRetryAttempts := uint64(5)
	if v, ok := os.LookupEnv("DEMOFORGE_MAX_RETRY_ATTEMPTS"); ok {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil || parsed == 0 {
			return nil, fmt.Errorf("DEMOFORGE_MAX_RETRY_ATTEMPTS has invalid value %q: must be a positive integer", v)
		}
		maxRetryAttempts = parsed
	}

	retryBackoffBase, err := durationEnv("DEMOFORGE_RETRY_BACKOFF_BASE", 2*time.Second)
	if err != nil {
		return nil, err
	}
	pollInitialInterval, err := durationEnv("DEMOFORGE_POLL_INITIAL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	pollMaxInterval, err := durationEnv("DEMOFORGE_POLL_MAX_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := durationEnv("DEMOFORGE_POLL_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	sessionExpiryDays := 2
	if v, ok := os.LookupEnv("DEMOFORGE_SESSION_EXPIRY_DAYS"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("DEMOFORGE_SESSION_EXPIRY_DAYS has invalid value %q: must be a positive integer", v)
		}
		sessionExpiryDays = parsed
	}

	return &Config{
		SecretKey:           key,
		DBPath:              dbPath,
		CleanupInterval:     cleanupInterval,
		MaxRetryAttempts:    maxRetryAttempts,
		RetryBackoffBase:    retryBackoffBase,
		PollInitialInterval: pollInitialInterval,
		PollMaxInterval:     pollMaxInterval,
		PollTimeout:         pollTimeout,
		SessionExpiryDays:   sessionExpiryDays,
		CIBaseURL:           os.Getenv("DEMOFORGE_CI_BASE_URL"),
		CIAccount:           os.Getenv("DEMOFORGE_CI_ACCOUNT"),
		RepoOwner:           os.Getenv("DEMOFORGE_REPO_OWNER"),
	}, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", name, v, err)
	}
	return parsed, nil
}
