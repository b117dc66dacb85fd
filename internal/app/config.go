package app

import (
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// LogLevel accepts debug, info, warn or error.
	LogLevel slog.Level `env:"SGRJAM_LOG_LEVEL" envDefault:"info"`

	// DiscordToken enables the Discord session. Modules that need voice or
	// text channels stay on their local fallbacks without it.
	DiscordToken string `env:"DISCORD_TOKEN"`

	HistoryFile string `env:"SGRJAM_HISTORY_FILE"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
