// Package discovery implements the configuration authorities that map a logical
// env/slug/version to a network target.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/logger"
)

// DefaultRedisKeyPrefix namespaces registry hashes.
const DefaultRedisKeyPrefix = "s2s:services"

// Hash fields of one registry entry.
const (
	fieldBaseURL = "base_url"
	fieldScheme  = "scheme"
	fieldHost    = "host"
	fieldPort    = "port"
)

// RedisAuthority reads the registry from Redis hashes stored at
// "<prefix>:<env>:<slug>:<version>".
type RedisAuthority struct {
	client redis.UniversalClient
	prefix string
	logger logger.Logger
}

// NewRedisAuthority creates an authority over client.
func NewRedisAuthority(client redis.UniversalClient, prefix string, log logger.Logger) *RedisAuthority {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &RedisAuthority{client: client, prefix: prefix, logger: log.WithComponent("RedisAuthority")}
}

func (a *RedisAuthority) key(env, slug, version string) string {
	return a.prefix + ":" + env + ":" + slug + ":" + version
}

// LookupService implements service.DiscoveryAuthority.
func (a *RedisAuthority) LookupService(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error) {
	fields, err := a.client.HGetAll(ctx, a.key(env, slug, version)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis registry lookup: %w", err)
	}
	if len(fields) == 0 {
		return nil, service.ErrServiceNotFound
	}
	return targetFromHash(env, slug, version, fields)
}

// ListServices implements service.ServiceLister by scanning the prefix.
func (a *RedisAuthority) ListServices(ctx context.Context) ([]models.TargetDescriptor, error) {
	var out []models.TargetDescriptor
	iter := a.client.Scan(ctx, 0, a.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		parts := strings.Split(strings.TrimPrefix(key, a.prefix+":"), ":")
		if len(parts) != 3 {
			a.logger.Warn(ctx, "skipping malformed registry key", logger.String("key", key))
			continue
		}
		fields, err := a.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis registry read %s: %w", key, err)
		}
		t, err := targetFromHash(parts[0], parts[1], parts[2], fields)
		if err != nil {
			a.logger.Warn(ctx, "skipping malformed registry entry", logger.Fields{"key": key, "error": err.Error()})
			continue
		}
		out = append(out, *t)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis registry scan: %w", err)
	}
	return out, nil
}

// Register writes a target into the registry. Operators and tests use it to
// seed entries.
func (a *RedisAuthority) Register(ctx context.Context, t models.TargetDescriptor) error {
	values := map[string]interface{}{
		fieldBaseURL: t.BaseURL,
		fieldScheme:  t.Scheme,
		fieldHost:    t.Host,
		fieldPort:    strconv.Itoa(t.Port),
	}
	if err := a.client.HSet(ctx, a.key(t.Env, t.Slug, t.Version), values).Err(); err != nil {
		return fmt.Errorf("redis registry write: %w", err)
	}
	return nil
}

func targetFromHash(env, slug, version string, fields map[string]string) (*models.TargetDescriptor, error) {
	t := &models.TargetDescriptor{
		Env:     env,
		Slug:    slug,
		Version: version,
		BaseURL: fields[fieldBaseURL],
		Scheme:  fields[fieldScheme],
		Host:    fields[fieldHost],
	}
	if p := fields[fieldPort]; p != "" && p != "0" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
		t.Port = port
	}
	return t, nil
}

var (
	_ service.DiscoveryAuthority = (*RedisAuthority)(nil)
	_ service.ServiceLister      = (*RedisAuthority)(nil)
)
