// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix namespaces every environment variable, e.g. COLLECTORS_DATABASE_URL.
const Prefix = "COLLECTORS"

type Config struct {
	DatabaseDriver string        `split_words:"true" default:"sqlite"`
	DatabaseURL    string        `split_words:"true" default:"collectortrack.db"`
	StoreTimeout   time.Duration `split_words:"true" default:"5s"`
	StoreMaxTries  uint          `split_words:"true" default:"5"`
	MigrateOnStart bool          `split_words:"true" default:"true"`

	HTTPAddr  string  `envconfig:"HTTP_ADDR" default:":8082"`
	RateLimit float64 `split_words:"true" default:"20"`
	RateBurst int     `split_words:"true" default:"40"`

	LogLevel string `split_words:"true" default:"info"`
	LogDir   string `split_words:"true"`
	Debug    bool   `default:"false"`

	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	ServiceName  string `split_words:"true" default:"collectortrack"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	return NewConfig(Prefix)
}

func NewConfig(prefix string) (Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.DatabaseDriver)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("config: store timeout must be positive, got %s", c.StoreTimeout)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("config: rate limit and burst must not be negative")
	}
	return nil
}
