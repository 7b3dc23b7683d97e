package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: sqlite
  path: ./casewatch.db
reminder:
  enabled: true
  interval: 1h
  lead: 24h
  window: 1h
  initial_delay: 5s
  marker_retention: 720h
  timezone: Europe/Tirane
mail:
  host: smtp.example.com
  port: 587
  username: notifier
  password: secret
  rate_per_sec: 2
telegram:
  token: "123:abc"
  chat_id: -100123
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Reminder.Enabled || cfg.Reminder.Interval != "1h" {
		t.Fatalf("reminder section mismatch: %+v", cfg.Reminder)
	}
	if cfg.Mail.Host != "smtp.example.com" || cfg.Mail.Port != 587 {
		t.Fatalf("mail section mismatch: %+v", cfg.Mail)
	}
	if cfg.Telegram == nil || cfg.Telegram.ChatID != -100123 {
		t.Fatalf("telegram section mismatch: %+v", cfg.Telegram)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() should return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
reminder:
  enabled: true
  workers: 4
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json",
		`{"reminder":{"enabled":true},"mail":{"host":"localhost"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Reminder.Enabled || cfg.Mail.Host != "localhost" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("reminder.interval", "90m")
	if err != nil || d != 90*time.Minute {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("reminder.interval", "soon"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if _, err := ParseDurationField("reminder.interval", "-1h"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	// Empty means "use default".
	if d, err := ParseDurationOrDefault("reminder.interval", "", time.Hour); err != nil || d != time.Hour {
		t.Fatalf("got (%v, %v)", d, err)
	}
}
