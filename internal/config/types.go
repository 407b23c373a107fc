package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`

	// Operators is the allow-list of user ids the bot talks to. Everyone
	// else is ignored outside of group auto-registration traffic.
	Operators []int64 `json:"operators"`

	// UTCOffsetHours fixes the zone used for schedule input and daily
	// triggers. A fixed offset, not an IANA zone: schedules must not move
	// with DST.
	UTCOffsetHours int `json:"utc_offset_hours"`

	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type StorageConfig struct {
	PostsPath   string `json:"posts_path,omitempty"`
	GroupsPath  string `json:"groups_path,omitempty"`
	HistoryPath string `json:"history_path,omitempty"`
}

// BroadcastConfig holds the delivery knobs that may be reloaded at runtime.
type BroadcastConfig struct {
	RatePerSec       int `json:"rate_per_sec,omitempty"`
	MaxReportReasons int `json:"max_report_reasons,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks the fields that cannot be defaulted away.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if len(c.Operators) == 0 {
		return fmt.Errorf("operators must list at least one user id")
	}
	if c.UTCOffsetHours < -12 || c.UTCOffsetHours > 14 {
		return fmt.Errorf("utc_offset_hours out of range: %d", c.UTCOffsetHours)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	return nil
}

// Location returns the fixed zone all schedule parsing and firing uses.
func (c *Config) Location() *time.Location {
	name := fmt.Sprintf("UTC%+d", c.UTCOffsetHours)
	return time.FixedZone(name, c.UTCOffsetHours*3600)
}

// PostsPath and friends fall back to files next to the working directory.
func (c *Config) PostsPath() string   { return orDefault(c.Storage.PostsPath, "posts.json") }
func (c *Config) GroupsPath() string  { return orDefault(c.Storage.GroupsPath, "groups.json") }
func (c *Config) HistoryPath() string { return orDefault(c.Storage.HistoryPath, "history.db") }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
