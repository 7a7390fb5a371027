package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks a config after the environment overlay has been applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (file or TELEGRAM_TOKEN)"))
	}
	if strings.TrimSpace(cfg.Email.SMTP.Host) == "" {
		errs = append(errs, errors.New("email.smtp.host is required"))
	}
	if strings.TrimSpace(cfg.Email.SMTP.From) == "" {
		errs = append(errs, errors.New("email.smtp.from is required"))
	}
	if len(cfg.Email.SMTP.To) == 0 {
		errs = append(errs, errors.New("email.smtp.to needs at least one receiver (file or EMAIL_RECEIVERS)"))
	}
	if fb := cfg.Email.Fallback; fb != nil && strings.TrimSpace(fb.Endpoint) == "" {
		errs = append(errs, errors.New("email.fallback.endpoint is required when fallback is set"))
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":              cfg.Telegram.PollTimeout,
		"email.smtp.timeout":                 cfg.Email.SMTP.Timeout,
		"email.retry_base":                   cfg.Email.RetryBase,
		"email.retry_max_delay":              cfg.Email.RetryMaxDelay,
		"engine.debounce":                    cfg.Engine.Debounce,
		"engine.watchdog_period":             cfg.Engine.WatchdogPeriod,
		"engine.watchdog_ceiling":            cfg.Engine.WatchdogCeiling,
		"engine.dedup_ttl":                   cfg.Engine.DedupTTL,
		"attachments.sweep_after":            cfg.Attachments.SweepAfter,
		"maintenance.dedup_purge_every":      cfg.Maintenance.DedupPurgeEvery,
		"maintenance.attachment_sweep_every": cfg.Maintenance.AttachmentSweepEvery,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Email.Fallback != nil {
		if _, err := ParseDurationField("email.fallback.timeout", cfg.Email.Fallback.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Email.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("email.retry_max must be >= 0"))
	}
	if cfg.Engine.Workers < 0 {
		errs = append(errs, fmt.Errorf("engine.workers must be >= 0"))
	}

	return errors.Join(errs...)
}
