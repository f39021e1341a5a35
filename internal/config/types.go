package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	API       APIConfig       `json:"api"`
	Cooldown  string          `json:"cooldown,omitempty"` // Go duration string, e.g. "7s"
	Logging   LoggingConfig   `json:"logging"`
	Web       WebConfig       `json:"web,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Digest    DigestConfig    `json:"digest,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and provided via the BOT_TOKEN
	// environment variable instead (never commit tokens to config files).
	Token        string  `json:"token,omitempty"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"` // Go duration string
}

type APIConfig struct {
	BaseURL string `json:"base_url"`
	// CallTimeout bounds one extraction API call; FetchTimeout bounds one
	// media download. Go duration strings; defaults 30s / 60s.
	CallTimeout  string `json:"call_timeout,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// WebConfig controls the status HTTP server (healthz/stats/metrics).
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8000"
}

// StorageConfig controls the known-users store used by /broadcast.
// Driver "none" (or empty) disables persistence.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "none" | "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type BroadcastConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 20 (≥50ms between sends)
}

// DigestConfig controls the optional scheduled stats digest sent to admins.
type DigestConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"` // cron spec, default "0 9 * * *"
}

const (
	DefaultCooldown     = 7 * time.Second
	DefaultPollTimeout  = 10 * time.Second
	DefaultCallTimeout  = 30 * time.Second
	DefaultFetchTimeout = 60 * time.Second
	DefaultWebAddr      = ":8000"
	DefaultDigestSpec   = "0 9 * * *"
)

// ApplyEnv merges environment overrides into cfg. BOT_TOKEN always wins over
// the file so deployments can keep the credential out of the config file.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("BOT_TOKEN")); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("API_BASE_URL")); v != "" {
		c.API.BaseURL = v
	}
}

// Validate checks startup requirements. A missing bot token is fatal.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is missing (set it in the config file or via BOT_TOKEN)")
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	for _, f := range []struct{ name, raw string }{
		{"cooldown", c.Cooldown},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"api.call_timeout", c.API.CallTimeout},
		{"api.fetch_timeout", c.API.FetchTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %q is not a duration: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s: duration must be >= 0", f.name)
		}
	}
	if c.Broadcast.RatePerSec < 0 {
		return fmt.Errorf("broadcast.rate_per_sec must be >= 0")
	}
	return nil
}

// window parses an optional duration field, using def when the value is
// blank, zero or unparsable. Validate reports the unparsable case before any
// accessor runs.
func window(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// CooldownWindow returns the per-user cooldown between accepted commands.
func (c *Config) CooldownWindow() time.Duration {
	return window(c.Cooldown, DefaultCooldown)
}

// PollTimeout returns the Telegram long-poll timeout.
func (c *Config) PollTimeout() time.Duration {
	return window(c.Telegram.PollTimeout, DefaultPollTimeout)
}

// CallTimeout bounds one extraction API call.
func (c *Config) CallTimeout() time.Duration {
	return window(c.API.CallTimeout, DefaultCallTimeout)
}

// FetchTimeout bounds one media download.
func (c *Config) FetchTimeout() time.Duration {
	return window(c.API.FetchTimeout, DefaultFetchTimeout)
}

// BusyTimeout returns the sqlite busy timeout; zero keeps the driver default.
func (c *Config) BusyTimeout() time.Duration {
	return window(c.Storage.BusyTimeout, 0)
}
