// Package config provides centralized configuration for the gatekit
// server. All values come from environment variables with defaults that
// suit local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string `env:"PORT" envDefault:"8080"`

	// DBPath is the path to the SQLite database file.
	DBPath string `env:"DB_PATH" envDefault:"gatekit.db"`

	// GatesDir is the directory holding gate contract documents.
	GatesDir string `env:"GATES_DIR" envDefault:"gates"`

	// InitialState is the project state assigned at creation. A gate must
	// be configured for it.
	InitialState string `env:"INITIAL_STATE" envDefault:"DRAFT"`

	// ReloadInterval is how often the registry watcher re-scans GatesDir.
	// Zero disables hot reloading.
	ReloadInterval time.Duration `env:"GATES_RELOAD_INTERVAL" envDefault:"0"`

	// CORSOrigin is the allowed CORS origin.
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"*"`

	// MaxBodyBytes caps inbound request bodies.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
