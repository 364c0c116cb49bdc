package commands

import (
	"errors"
	"os"
	"strconv"

	"sproutsclip/lib/configutil"
	"sproutsclip/lib/report"
)

// Config is read from sproutsclip.json5 (plus the usual .local override);
// SPROUTS_* environment variables win over both.
type Config struct {
	Smtp         report.SmtpConfig `json:"smtp"`
	Sender       string            `json:"sender"`
	Recipient    string            `json:"recipient"`
	IdentityFile string            `json:"identity_file"`
	HistoryDb    string            `json:"history_db"`
	BaseUrl      string            `json:"base_url"`
}

func loadConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config]("sproutsclip.json5")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	applyEnv(&cfg.Sender, "SPROUTS_EMAIL_SENDER")
	applyEnv(&cfg.Recipient, "SPROUTS_EMAIL_RECIPIENT")
	applyEnv(&cfg.Smtp.Server, "SPROUTS_SMTP_HOST")
	applyEnv(&cfg.Smtp.Username, "SPROUTS_SMTP_USER")
	applyEnv(&cfg.Smtp.Password, "SPROUTS_SMTP_PASSWORD")
	if port := os.Getenv("SPROUTS_SMTP_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Smtp.Port = n
		}
	}

	if cfg.IdentityFile == "" {
		cfg.IdentityFile = "USER_INFO.txt"
	}
	if cfg.HistoryDb == "" {
		cfg.HistoryDb = "history.db"
	}
	return cfg, nil
}

func applyEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
