package config

import (
	"fmt"
	"net/url"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the relay daemon
type Config struct {
	// Local channel / API listener
	Port int `envconfig:"PORT" default:"10200"`

	// Upstream room server websocket URL
	UpstreamURL string `envconfig:"UPSTREAM_URL" default:"wss://toransharma.com/xporcle"`

	// Path to the sqlite database holding named room saves
	SavesPath string `envconfig:"SAVES_PATH" default:"saves.db"`

	// Path to the YAML options file. Watched for edits; may not exist yet.
	OptionsPath string `envconfig:"OPTIONS_PATH" default:"options.yaml"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("PORT must be a valid tcp port")
	}
	u, err := url.Parse(config.UpstreamURL)
	if err != nil {
		return fmt.Errorf("UPSTREAM_URL is not a valid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("UPSTREAM_URL must use the ws or wss scheme")
	}
	if config.SavesPath == "" {
		return fmt.Errorf("SAVES_PATH is required")
	}
	if config.OptionsPath == "" {
		return fmt.Errorf("OPTIONS_PATH is required")
	}

	return nil
}
