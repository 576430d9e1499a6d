package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/config"
)

// SeenBackend is implemented by RedisStore and MemorySeenStore.
type SeenBackend interface {
	GetSeen(ctx context.Context, viewerKey string) (map[string]time.Time, error)
	MarkSeen(ctx context.Context, viewerKey, adID string, at time.Time, ttl time.Duration) (time.Time, error)
	PruneSeen(ctx context.Context, before time.Time) (int64, error)
}

// Stores holds the campaign repository and the seen store chosen by config.
type Stores struct {
	Repo  CampaignRepository
	Seen  SeenBackend
	Redis *RedisStore

	checks map[string]func(context.Context) error
}

// OpenStores connects the campaign repository for cfg.StoreDriver and the
// seen store. An empty REDIS_ADDR keeps seen records in process memory.
func OpenStores(cfg config.Config, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stores{checks: make(map[string]func(context.Context) error)}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if cfg.RunMigrations {
			if err := MigratePostgres(cfg.PostgresDSN); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pg, err := InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		s.Repo = pg
		s.checks["postgres"] = pg.DB.PingContext
	case config.StoreDriverSQLite:
		lite, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		s.Repo = lite
		s.checks["sqlite"] = lite.DB.PingContext
	case config.StoreDriverMemory:
		logger.Warn("campaigns kept in memory; counters are lost on restart")
		s.Repo = NewMemoryRepository()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR empty; seen records kept in process memory")
		s.Seen = NewMemorySeenStore()
		return s, nil
	}
	rs, err := InitRedis(cfg.RedisAddr)
	if err != nil {
		_ = s.Repo.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	s.Redis = rs
	s.Seen = rs
	s.checks["redis"] = rs.Ping
	return s, nil
}

// HealthChecks returns a probe per connected dependency.
func (s *Stores) HealthChecks() map[string]func(context.Context) error {
	out := make(map[string]func(context.Context) error, len(s.checks))
	for name, check := range s.checks {
		out[name] = check
	}
	return out
}

// Close releases every store connection.
func (s *Stores) Close() {
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.Repo != nil {
		if err := s.Repo.Close(); err != nil {
			zap.L().Error("close campaign repository", zap.Error(err))
		}
	}
}

var (
	_ SeenBackend = (*RedisStore)(nil)
	_ SeenBackend = (*MemorySeenStore)(nil)
)
