package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/repository"
)

// Open builds the Store selected by cfg.Backend and wraps it for idempotency use.
func Open(ctx context.Context, cfg common.CacheConfig, logger *slog.Logger) (*Idempotency, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	idem, err := NewIdempotency(store, cfg.TTL, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("cache.ready", "backend", cfg.Backend, "ttl", cfg.TTL.String())
	return idem, nil
}

func openStore(ctx context.Context, cfg common.CacheConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL)
	case "sqlite":
		drv, err := repository.OpenSQLite(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		s := NewSQLStore(drv)
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		drv, pool, err := repository.OpenPostgres(ctx, repository.Config{
			DSN:         cfg.DSN,
			DialTimeout: 10 * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres cache: %w", err)
		}
		if err := repository.HealthCheck(ctx, drv, 5*time.Second, logger); err != nil {
			repository.Close(drv, pool, logger)
			return nil, fmt.Errorf("postgres cache unreachable: %w", err)
		}
		s := NewSQLStore(drv)
		s.release = pool.Close
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
