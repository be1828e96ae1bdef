package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	SourceStore    = "store"
	SourcePostgres = "postgres"
)

type Config struct {
	Addr           string `env:"STOREFRONT_ADDR" envDefault:":8080"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:storefront.db"`
	RealtimeSource string `env:"REALTIME_SOURCE" envDefault:"store"`
	NotifyChannel  string `env:"PG_NOTIFY_CHANNEL" envDefault:"storefront_changes"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	// Used by the watch command.
	ServerURL string `env:"STOREFRONT_URL" envDefault:"http://localhost:8080"`
	UserID    string `env:"STOREFRONT_USER"`
}

// Load reads the given env files (".env" when none are named) into the
// process environment without overriding it, then parses Config from it.
// Missing files are skipped.
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
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.RealtimeSource {
	case SourceStore:
	case SourcePostgres:
		if !IsPostgres(c.DatabaseURL) {
			return fmt.Errorf("REALTIME_SOURCE=postgres needs a postgres DATABASE_URL")
		}
	default:
		return fmt.Errorf("REALTIME_SOURCE must be %q or %q, got %q", SourceStore, SourcePostgres, c.RealtimeSource)
	}
	if c.Addr == "" {
		return errors.New("STOREFRONT_ADDR is empty")
	}
	return nil
}

func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
