package site

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-wide bot settings shared by every resolved
// site.
type Config struct {
	// UserAgent identifies the bot to the wikis.
	UserAgent string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries bounds transient-failure retries per logical call.
	MaxRetries int

	// MaxLag is the maxlag parameter attached to read requests.
	MaxLag time.Duration

	// Username and Password enable the bot-password login flow
	// (optional; empty means anonymous).
	Username string
	Password string

	// ThrottleFloor and ThrottleCeiling bound the adaptive per-site
	// dispatch interval.
	ThrottleFloor   time.Duration
	ThrottleCeiling time.Duration
}

// LoadConfig loads configuration from MWBOT_* environment variables,
// falling back to conservative bot defaults.
func LoadConfig() *Config {
	cfg := &Config{
		UserAgent:       "mwbot/1.0 (https://github.com/mwbot-go/mwbot)",
		Timeout:         30 * time.Second,
		MaxRetries:      4,
		MaxLag:          5 * time.Second,
		ThrottleFloor:   10 * time.Millisecond,
		ThrottleCeiling: 120 * time.Second,
	}

	if ua := os.Getenv("MWBOT_USER_AGENT"); ua != "" {
		cfg.UserAgent = ua
	}
	if t := os.Getenv("MWBOT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			cfg.Timeout = d
		}
	}
	if r := os.Getenv("MWBOT_MAX_RETRIES"); r != "" {
		if n, err := strconv.Atoi(r); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if l := os.Getenv("MWBOT_MAXLAG"); l != "" {
		if d, err := time.ParseDuration(l); err == nil {
			cfg.MaxLag = d
		}
	}
	if f := os.Getenv("MWBOT_THROTTLE_FLOOR"); f != "" {
		if d, err := time.ParseDuration(f); err == nil {
			cfg.ThrottleFloor = d
		}
	}
	if c := os.Getenv("MWBOT_THROTTLE_CEILING"); c != "" {
		if d, err := time.ParseDuration(c); err == nil {
			cfg.ThrottleCeiling = d
		}
	}

	cfg.Username = os.Getenv("MWBOT_USERNAME")
	cfg.Password = os.Getenv("MWBOT_PASSWORD")
	return cfg
}

// HasCredentials reports whether bot-password credentials are set.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}
