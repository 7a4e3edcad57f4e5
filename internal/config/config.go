package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Auto-backup modes
const (
	// ModeInProcess runs the scheduler inside the server.
	ModeInProcess = "inprocess"
	// ModeWorker publishes changes over AMQP to expensia-worker.
	ModeWorker = "worker"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string

	// Google OAuth client; either the downloaded client file or id/secret
	GoogleOAuthClientID     string
	GoogleOAuthClientSecret string
	GoogleOAuthClientFile   string
	OAuthRedirectPort       int
	OpenBrowser             bool

	// Auto-backup
	AutoBackupMode string
	BackupDebounce time.Duration
	BackupInterval time.Duration
	BackupKeep     int
	RemoteTimeout  time.Duration

	// AMQP, used in worker mode
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// HTTP hardening
	RateLimitPerMinute int
	TrustedProxies     []string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8081"),
		DataBackend: getEnv("DATA_BACKEND", "sqlite"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/expensia.db"),

		GoogleOAuthClientID:     getEnv("GOOGLE_OAUTH_CLIENT_ID", ""),
		GoogleOAuthClientSecret: getEnv("GOOGLE_OAUTH_CLIENT_SECRET", ""),
		GoogleOAuthClientFile:   getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		OAuthRedirectPort:       getEnvInt("OAUTH_REDIRECT_PORT", 8085),
		OpenBrowser:             getEnvBool("OPEN_BROWSER", true),

		AutoBackupMode: getEnv("AUTO_BACKUP_MODE", ModeInProcess),
		BackupDebounce: getEnvDuration("BACKUP_DEBOUNCE", 5*time.Second),
		BackupInterval: getEnvDuration("BACKUP_INTERVAL", time.Hour),
		BackupKeep:     getEnvInt("BACKUP_KEEP", 10),
		RemoteTimeout:  getEnvDuration("REMOTE_TIMEOUT", 30*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "expensia"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "data_changed"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// CloudConfigured reports whether enough OAuth client settings exist to
// reach the remote store.
func (c *Config) CloudConfigured() bool {
	return c.GoogleOAuthClientFile != "" || c.GoogleOAuthClientID != ""
}

// OAuthListenAddr is the loopback address of the consent callback.
func (c *Config) OAuthListenAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.OAuthRedirectPort)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate OAuth client
	if c.GoogleOAuthClientFile != "" {
		if _, err := os.Stat(c.GoogleOAuthClientFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google OAuth client file does not exist: %s", c.GoogleOAuthClientFile))
		}
	} else if c.GoogleOAuthClientSecret != "" && c.GoogleOAuthClientID == "" {
		errors = append(errors, "GOOGLE_OAUTH_CLIENT_ID is required when GOOGLE_OAUTH_CLIENT_SECRET is set")
	}
	if c.OAuthRedirectPort < 1 || c.OAuthRedirectPort > 65535 {
		errors = append(errors, fmt.Sprintf("invalid OAuth redirect port %d: must be between 1 and 65535", c.OAuthRedirectPort))
	}

	// Validate auto-backup mode
	validModes := []string{ModeInProcess, ModeWorker}
	if !slices.Contains(validModes, c.AutoBackupMode) {
		errors = append(errors, fmt.Sprintf("invalid auto-backup mode '%s': must be one of %v", c.AutoBackupMode, validModes))
	}
	if c.AutoBackupMode == ModeWorker {
		if c.AMQPURL == "" {
			errors = append(errors, "AMQP URL is required when auto-backup mode is worker")
		}
		if c.DataBackend != "sqlite" {
			errors = append(errors, "worker auto-backup mode requires the sqlite backend so the worker can share the database")
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate backup timings
	if c.BackupDebounce < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid backup debounce %v: must be at least 100ms", c.BackupDebounce))
	}
	if c.BackupInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid backup interval %v: must be at least 1 minute", c.BackupInterval))
	} else if c.BackupInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid backup interval %v: must be at most 7 days", c.BackupInterval))
	}
	if c.BackupKeep < 1 {
		errors = append(errors, fmt.Sprintf("invalid backup keep %d: must be at least 1", c.BackupKeep))
	} else if c.BackupKeep > 100 {
		errors = append(errors, fmt.Sprintf("invalid backup keep %d: must be at most 100", c.BackupKeep))
	}
	if c.RemoteTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid remote timeout %v: must be at least 1 second", c.RemoteTimeout))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be an IP or CIDR", cidr))
		}
	}

	// Validate logging
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
