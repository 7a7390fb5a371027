package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
email:
  subject_prefix: "Relay"
  retry_max: 3
  retry_base: "2s"
  smtp:
    host: "smtp.example.com"
    port: 587
    from: "relay@example.com"
    to:
      - "a@example.com"
      - "b@example.com"
engine:
  debounce: "1m"
  watchdog_ceiling: "70s"
logging:
  level: "debug"
  console: true
  file:
    enabled: false
    path: ""
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Email.SMTP.To) != 2 {
		t.Fatalf("to = %v, want two receivers", cfg.Email.SMTP.To)
	}
	if cfg.Engine.Debounce != "1m" {
		t.Fatalf("debounce = %q", cfg.Engine.Debounce)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML+"\nbogus_section:\n  x: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{
  "telegram": {"token": "t"},
  "email": {"smtp": {"host": "h", "from": "f@x", "to": ["a@x"]}},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Email.SMTP.Host != "h" {
		t.Fatalf("host = %q", cfg.Email.SMTP.Host)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, false},
		{"missing host", func(c *Config) { c.Email.SMTP.Host = "" }, false},
		{"missing receivers", func(c *Config) { c.Email.SMTP.To = nil }, false},
		{"bad duration", func(c *Config) { c.Engine.Debounce = "sixty seconds" }, false},
		{"fallback without endpoint", func(c *Config) { c.Email.Fallback = &FallbackConfig{} }, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Telegram: TelegramConfig{Token: "t"},
				Email: EmailConfig{SMTP: SMTPConfig{
					Host: "smtp.example.com",
					From: "relay@example.com",
					To:   []string{"a@example.com"},
				}},
			}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "env-token")
	t.Setenv("SMTP_PASSWORD", "env-pass")
	t.Setenv("EMAIL_RECEIVERS", "x@example.com, y@example.com,")

	cfg := &Config{}
	cfg.Email.SMTP.To = []string{"file@example.com"}
	ApplyEnv(cfg)

	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Email.SMTP.Password != "env-pass" {
		t.Fatalf("password = %q", cfg.Email.SMTP.Password)
	}
	want := []string{"x@example.com", "y@example.com"}
	if len(cfg.Email.SMTP.To) != len(want) {
		t.Fatalf("to = %v, want %v", cfg.Email.SMTP.To, want)
	}
	for i := range want {
		if cfg.Email.SMTP.To[i] != want[i] {
			t.Fatalf("to = %v, want %v", cfg.Email.SMTP.To, want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty = (%v, %v), want default", d, err)
	}
	d, err = ParseDurationOrDefault("x", "90s", 5*time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("90s = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}
