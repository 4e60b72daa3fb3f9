package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken    string `envconfig:"BOT_TOKEN" required:"true"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:"./data/dogfeeder.db"`
	DefaultTZ   string `envconfig:"DEFAULT_TZ" default:"Europe/Moscow"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error

	RunMode     string `envconfig:"RUN_MODE" default:"polling"` // polling|webhook
	WebhookURL  string `envconfig:"WEBHOOK_URL"`
	WebhookPath string `envconfig:"WEBHOOK_PATH" default:"/webhook"`
	Port        int    `envconfig:"PORT" default:"3000"`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // healthz + metrics

	AllowedUsersFile string `envconfig:"ALLOWED_USERS_FILE" default:"./allowed-users.txt"`

	// CatchUpPastDue controls what scheduler.Initialize does with scheduled
	// feedings whose time passed while the process was down: fire them
	// immediately (true) or leave them active but unarmed (false).
	CatchUpPastDue bool `envconfig:"CATCH_UP_PAST_DUE" default:"true"`
}

// Load reads environment variables into Config and prepares the data dir.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if cfg.RunMode == "webhook" && cfg.WebhookURL == "" {
		return cfg, fmt.Errorf("WEBHOOK_URL is required when RUN_MODE=webhook")
	}
	if dir := filepath.Dir(cfg.DatabaseURL); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return cfg, fmt.Errorf("create data dir: %w", err)
		}
	}
	return cfg, nil
}
