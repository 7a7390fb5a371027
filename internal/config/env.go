package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotenv loads a .env file into the process environment when one exists.
// Secrets live in the environment, not in the config file.
func LoadDotenv() {
	// Missing .env is the normal production case.
	_ = godotenv.Load()
}

// ApplyEnv overlays environment-provided secrets onto cfg. Values already set
// in the file win only when the environment is empty.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("SMTP_PASSWORD")); v != "" {
		cfg.Email.SMTP.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("FALLBACK_API_KEY")); v != "" && cfg.Email.Fallback != nil {
		cfg.Email.Fallback.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("EMAIL_RECEIVERS")); v != "" {
		var to []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				to = append(to, p)
			}
		}
		if len(to) > 0 {
			cfg.Email.SMTP.To = to
		}
	}
}
