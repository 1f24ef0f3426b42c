// Package config reads server settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string `env:"TACS_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"TACS_DATABASE_URL"`

	LogLevel       string `env:"TACS_LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"TACS_LOG_DEVELOPMENT"`

	DiceTimeout       time.Duration `env:"TACS_DICE_TIMEOUT" envDefault:"10s"`
	DiceDetectTimeout time.Duration `env:"TACS_DICE_DETECT_TIMEOUT" envDefault:"2s"`

	WriteTimeout    time.Duration `env:"TACS_WRITE_TIMEOUT" envDefault:"3s"`
	IdleTimeout     time.Duration `env:"TACS_IDLE_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"TACS_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	OriginPatterns  []string      `env:"TACS_ORIGIN_PATTERNS" envSeparator:","`

	OTelEndpoint string `env:"TACS_OTEL_ENDPOINT"`
	ServiceName  string `env:"TACS_SERVICE_NAME" envDefault:"tactical-initiative"`
}

// Load reads files (default ".env") into the environment without
// overriding variables already set, then parses Config. Missing files are
// fine.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
