package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration derived from environment variables.
// Durations accept Go duration strings such as "30s" or "24h".
type Config struct {
	Port         string        `env:"PORT" envDefault:"8787"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ServiceName  string        `env:"SERVICE_NAME" envDefault:"adrotator"`
	DebugTrace   bool          `env:"DEBUG_TRACE" envDefault:"false"`

	// Campaign store
	StoreDriver   string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresDSN   string `env:"POSTGRES_DSN" envDefault:"postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"adrotator.db"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	// Database connection pooling configuration
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`

	// Seen records
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Cooldown      time.Duration `env:"COOLDOWN" envDefault:"24h"`
	PruneMargin   time.Duration `env:"PRUNE_MARGIN" envDefault:"1h"`
	PruneInterval time.Duration `env:"PRUNE_INTERVAL" envDefault:"1h"`

	// Selection
	TieBreak       string        `env:"TIE_BREAK" envDefault:"id"`
	ReloadInterval time.Duration `env:"RELOAD_INTERVAL" envDefault:"30s"`

	// Counter updates
	CounterMaxAttempts    int           `env:"COUNTER_MAX_ATTEMPTS" envDefault:"3"`
	CounterInitialBackoff time.Duration `env:"COUNTER_INITIAL_BACKOFF" envDefault:"50ms"`
	CounterWriteTimeout   time.Duration `env:"COUNTER_WRITE_TIMEOUT" envDefault:"2s"`
	ClickAnomalyTolerance int64         `env:"CLICK_ANOMALY_TOLERANCE" envDefault:"5"`
	RecordWait            time.Duration `env:"RECORD_WAIT" envDefault:"250ms"`

	// Click tokens
	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"30m"`

	// Analytics; empty disables the event log
	ClickHouseDSN     string        `env:"CLICKHOUSE_DSN"`
	CHMaxOpenConns    int           `env:"CH_MAX_OPEN_CONNS" envDefault:"20"`
	CHMaxIdleConns    int           `env:"CH_MAX_IDLE_CONNS" envDefault:"5"`
	CHConnMaxLifetime time.Duration `env:"CH_CONN_MAX_LIFETIME" envDefault:"5m"`

	// Tracing configuration
	TracingEnabled    bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TempoEndpoint     string  `env:"TEMPO_ENDPOINT" envDefault:"tempo:4317"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

// Load parses environment variables and returns a validated Config populated
// with defaults when variables are absent.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q must be one of postgres, sqlite, memory", c.StoreDriver))
	}
	if c.Cooldown < 0 {
		errs = append(errs, errors.New("COOLDOWN must not be negative"))
	}
	if c.PruneMargin < 0 {
		errs = append(errs, errors.New("PRUNE_MARGIN must not be negative"))
	}
	if c.CounterMaxAttempts < 1 {
		errs = append(errs, errors.New("COUNTER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.ClickAnomalyTolerance < 0 {
		errs = append(errs, errors.New("CLICK_ANOMALY_TOLERANCE must not be negative"))
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, errors.New("TRACING_SAMPLE_RATE must be between 0 and 1"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// SeenTTL is how long a viewer's seen set outlives its latest write.
func (c Config) SeenTTL() time.Duration {
	if c.Cooldown <= 0 {
		return 0
	}
	return c.Cooldown + c.PruneMargin
}

// PruneBefore returns the cutoff below which seen records may be deleted.
func (c Config) PruneBefore(now time.Time) time.Time {
	return now.Add(-(c.Cooldown + c.PruneMargin))
}
