package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"castbot/pkg/logx"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const validJSON = `{
  "telegram": {"token": "123:abc", "poll_timeout": "10s"},
  "operators": [111, 222],
  "utc_offset_hours": 8,
  "storage": {"posts_path": "p.json", "groups_path": "g.json"},
  "broadcast": {"rate_per_sec": 5},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", validJSON), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Operators) != 2 {
		t.Fatalf("config mangled: %+v", cfg)
	}
	if cfg.Broadcast.RatePerSec != 5 {
		t.Fatalf("broadcast: %+v", cfg.Broadcast)
	}
	if got := cfg.PostsPath(); got != "p.json" {
		t.Fatalf("posts path: %q", got)
	}
	if got := cfg.HistoryPath(); got != "history.db" {
		t.Fatalf("history path default: %q", got)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: "123:abc"
operators: [111]
utc_offset_hours: -5
logging:
  level: debug
  console: true
  file:
    enabled: true
    path: bot.log
`
	m := NewManager(writeFile(t, "config.yaml", body), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UTCOffsetHours != -5 || cfg.Logging.File.Path != "bot.log" {
		t.Fatalf("config mangled: %+v", cfg)
	}
	loc := cfg.Location()
	if loc.String() != "UTC-5" {
		t.Fatalf("location: %v", loc)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	body := strings.Replace(validJSON, `"operators"`, `"opreators"`, 1)
	m := NewManager(writeFile(t, "config.json", body), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("typoed key accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = " " }},
		{"no operators", func(c *Config) { c.Operators = nil }},
		{"offset too big", func(c *Config) { c.UTCOffsetHours = 15 }},
		{"bad poll timeout", func(c *Config) { c.Telegram.PollTimeout = "soon" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{
				Telegram:       TelegramConfig{Token: "123:abc"},
				Operators:      []int64{1},
				UTCOffsetHours: 0,
			}
			tc.mut(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestReloadPublishesAndSkipsUnchanged(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", validJSON)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Same content: no publish.
	m.reload()
	select {
	case <-ch:
		t.Fatal("unchanged reload published")
	default:
	}

	// Changed content: committed and published.
	changed := strings.Replace(validJSON, `"rate_per_sec": 5`, `"rate_per_sec": 7`, 1)
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()
	select {
	case cfg := <-ch:
		if cfg.Broadcast.RatePerSec != 7 {
			t.Fatalf("published config: %+v", cfg.Broadcast)
		}
	default:
		t.Fatal("changed reload not published")
	}

	// Broken edit: previous config stays committed.
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()
	if m.Get().Broadcast.RatePerSec != 7 {
		t.Fatal("broken edit replaced committed config")
	}
}
