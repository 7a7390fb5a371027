package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Email    EmailConfig    `json:"email"`
	Engine   EngineConfig   `json:"engine,omitempty"`

	Attachments AttachmentsConfig `json:"attachments,omitempty"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Logging     LoggingConfig     `json:"logging"`
	Health      HealthConfig      `json:"health,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via TELEGRAM_TOKEN.
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// EmailConfig describes the delivery transports. SMTP is the primary path;
// the HTTP API fallback is optional.
type EmailConfig struct {
	SMTP     SMTPConfig      `json:"smtp"`
	Fallback *FallbackConfig `json:"fallback,omitempty"`

	// Retry settings for the primary transport.
	RetryMax int `json:"retry_max,omitempty"`
	// RetryBase and RetryMaxDelay are Go duration strings.
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	// Password may be left empty in the file and supplied via SMTP_PASSWORD.
	Password string   `json:"password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Timeout  string   `json:"timeout,omitempty"` // Go duration string
}

type FallbackConfig struct {
	Endpoint string `json:"endpoint"`
	// APIKey may be left empty in the file and supplied via FALLBACK_API_KEY.
	APIKey  string   `json:"api_key,omitempty"`
	From    string   `json:"from,omitempty"` // defaults to smtp.from
	To      []string `json:"to,omitempty"`   // defaults to smtp.to
	Timeout string   `json:"timeout,omitempty"`
}

// EngineConfig tunes the buffering core.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - debounce: "1m"
//   - watchdog_period: "30s"
//   - watchdog_ceiling: "70s"
//   - dedup_ttl: "2m"
//   - workers: 4
//   - queue_size: 256
type EngineConfig struct {
	Debounce        string `json:"debounce,omitempty"`
	WatchdogPeriod  string `json:"watchdog_period,omitempty"`
	WatchdogCeiling string `json:"watchdog_ceiling,omitempty"`
	DedupTTL        string `json:"dedup_ttl,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
}

type AttachmentsConfig struct {
	Dir string `json:"dir,omitempty"` // default "./downloads"
	// SweepAfter is a Go duration string; attachments older than this are
	// removed by the janitor. "0s" disables sweeping.
	SweepAfter string `json:"sweep_after,omitempty"`
}

// StorageConfig controls the optional inbound/delivery log store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./telepost.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
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

// HealthConfig controls the optional liveness/readiness HTTP server.
// Prefer binding to localhost.
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"
}

// MaintenanceConfig controls the cron janitor.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// DedupPurgeEvery and AttachmentSweepEvery are Go duration strings used as
	// "@every" cron specs. Zero values fall back to sensible defaults.
	DedupPurgeEvery      string `json:"dedup_purge_every,omitempty"`
	AttachmentSweepEvery string `json:"attachment_sweep_every,omitempty"`
}
