// Package config loads the indexer process settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pakloong/iroha/pkg/retry"
)

// Backend names accepted by BACKEND.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLevelDB  = "leveldb"
)

// Redis holds connection and stream settings.
type Redis struct {
	Host      string `env:"HOST" envDefault:"localhost"`
	Port      string `env:"PORT" envDefault:"6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	StreamMax int64  `env:"STREAM_MAXLEN" envDefault:"10000"`
}

// Addr returns host:port.
func (r Redis) Addr() string {
	return r.Host + ":" + r.Port
}

// Stream describes where committed blocks arrive and where index events go.
type Stream struct {
	Name           string        `env:"NAME" envDefault:"ledger:blocks"`
	Group          string        `env:"GROUP" envDefault:"block-indexer"`
	Consumer       string        `env:"CONSUMER" envDefault:"indexer-0"`
	Count          int64         `env:"COUNT" envDefault:"100"`
	Block          time.Duration `env:"BLOCK" envDefault:"5s"`
	IndexedChannel string        `env:"INDEXED_CHANNEL" envDefault:"ledger:block.indexed"`
}

// Reindex bounds the stream range cmd/reindex replays. A zero To means up to
// the end of the stream.
type Reindex struct {
	From uint64 `env:"FROM" envDefault:"1"`
	To   uint64 `env:"TO" envDefault:"0"`
}

// Config is the full process configuration.
type Config struct {
	Backend     string `env:"BACKEND" envDefault:"leveldb"`
	PostgresURL string `env:"POSTGRES_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/index.sqlite"`
	LevelDBPath string `env:"LEVELDB_PATH" envDefault:"data/index.leveldb"`

	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":9090"`
	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE" envDefault:"*/30 * * * * *"`
	ReconcileTimeout  time.Duration `env:"RECONCILE_TIMEOUT" envDefault:"25s"`
	ReplayWorkers     int           `env:"REPLAY_WORKERS" envDefault:"8"`

	Redis   Redis        `envPrefix:"REDIS_"`
	Stream  Stream       `envPrefix:"STREAM_"`
	Retry   retry.Config `envPrefix:"RETRY_"`
	Reindex Reindex      `envPrefix:"REINDEX_"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements env tags cannot express.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required for backend %q", c.Backend)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for backend %q", c.Backend)
		}
	case BackendLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("LEVELDB_PATH is required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Stream.Name == "" || c.Stream.Group == "" || c.Stream.Consumer == "" {
		return fmt.Errorf("stream name, group and consumer are required")
	}
	if c.ReplayWorkers < 1 {
		return fmt.Errorf("REPLAY_WORKERS must be positive, got %d", c.ReplayWorkers)
	}
	if c.Reindex.To != 0 && c.Reindex.To < c.Reindex.From {
		return fmt.Errorf("REINDEX_TO %d is below REINDEX_FROM %d", c.Reindex.To, c.Reindex.From)
	}
	return nil
}
