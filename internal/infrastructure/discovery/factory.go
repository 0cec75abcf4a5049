package discovery

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// Backends carries the already-open connections a provider may need.
type Backends struct {
	Redis    redis.UniversalClient
	Postgres PgxQuerier
}

// New builds the authority named by cfg.Provider.
func New(ctx context.Context, cfg config.DiscoveryConfig, backends Backends, log logger.Logger) (service.DiscoveryAuthority, error) {
	switch cfg.Provider {
	case "redis":
		if backends.Redis == nil {
			return nil, errors.Configuration("redis.addresses", "redis discovery needs a redis connection")
		}
		return NewRedisAuthority(backends.Redis, cfg.RedisKeyPrefix, log), nil
	case "postgres":
		if backends.Postgres == nil {
			return nil, errors.Configuration("database.host", "postgres discovery needs a database connection")
		}
		a := NewPostgresAuthority(backends.Postgres, log)
		if err := a.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return a, nil
	case "http":
		if cfg.URL == "" {
			return nil, errors.Configuration("discovery.url", "is required for http discovery")
		}
		return NewHTTPAuthority(cfg.URL, cfg.Timeout, log, WithResultPath(cfg.ResultPath)), nil
	case "static":
		if cfg.File == "" {
			return nil, errors.Configuration("discovery.file", "is required for static discovery")
		}
		return NewStaticAuthority(cfg.File, log)
	default:
		return nil, errors.Configuration("discovery.provider", fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}
