package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Broadcast   BroadcastConfig   `json:"broadcast,omitempty"`
	Limits      LimitsConfig      `json:"limits,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	// Token may be omitted here and provided via MEGABUDDIES_TOKEN instead.
	Token string `json:"token,omitempty"`

	// AdminUserIDs is the static operator allow-list; admin-only commands are
	// rejected for anyone else.
	AdminUserIDs []int64 `json:"admin_user_ids"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BroadcastConfig tunes the fan-out engine. All fields have engine-side
// defaults; durations are Go duration strings.
type BroadcastConfig struct {
	Workers       int    `json:"workers,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	PageSize      int    `json:"page_size,omitempty"`
	MessageMaxLen int    `json:"message_max_len,omitempty"`
}

type LimitsConfig struct {
	PageSizeMax int `json:"page_size_max,omitempty"`
	ValueMaxLen int `json:"value_max_len,omitempty"`
}

type MaintenanceConfig struct {
	// RecountSchedule is a cron spec for the counter-recompute job.
	// Empty disables it.
	RecountSchedule string `json:"recount_schedule,omitempty"`
}

// IsAdmin reports membership in the operator allow-list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("config: storage.path is required")
	}
	for _, d := range []struct{ name, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"broadcast.send_timeout", c.Broadcast.SendTimeout},
	} {
		if _, err := ParseDuration(d.raw, 0); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Maintenance.RecountSchedule == "" {
		c.Maintenance.RecountSchedule = "0 4 * * *"
	}
}

// ParseDuration parses a Go duration string, returning def for empty input.
func ParseDuration(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
