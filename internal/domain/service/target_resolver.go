package service

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/infrastructure/cache"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

const targetCacheName = "target"

// TargetResolver maps env/slug/version to a network target through a TTL cache
// in front of the discovery authority. Expiry is lazy.
// TargetResolver 通过位于服务发现权威源前的 TTL 缓存将 env/slug/version 解析为网络目标，过期为惰性检查。
type TargetResolver struct {
	authority DiscoveryAuthority
	clock     clock.PassiveClock
	entries   *cache.TTLCache[*models.TargetDescriptor]
	metrics   Metrics
	logger    logger.Logger
}

// ResolverOption customizes a TargetResolver.
type ResolverOption func(*TargetResolver)

// WithResolverClock injects the time source.
func WithResolverClock(clk clock.PassiveClock) ResolverOption {
	return func(r *TargetResolver) { r.clock = clk }
}

// WithResolverMetrics attaches a metrics collector.
func WithResolverMetrics(m Metrics) ResolverOption {
	return func(r *TargetResolver) { r.metrics = m }
}

// NewTargetResolver creates a resolver. A nil authority or a non-positive ttl
// is a ConfigurationError.
func NewTargetResolver(authority DiscoveryAuthority, ttl time.Duration, log logger.Logger, opts ...ResolverOption) (*TargetResolver, error) {
	if authority == nil {
		return nil, errors.Configuration("discovery.provider", "discovery authority is required")
	}
	if ttl <= 0 {
		return nil, errors.Configuration("s2s.target_cache_ttl_ms", "must be positive")
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	r := &TargetResolver{
		authority: authority,
		clock:     clock.RealClock{},
		metrics:   NewNoopMetrics(),
		logger:    log.WithComponent("TargetResolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.entries = cache.New[*models.TargetDescriptor](r.clock, cache.MaxAge[*models.TargetDescriptor](ttl))
	return r, nil
}

// ResolveTarget returns the target for env/slug/version. An unreachable
// authority or a missing entry is a ResolutionError; there is no fallback.
func (r *TargetResolver) ResolveTarget(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error) {
	if slug == "" {
		return nil, errors.InvalidRequest("slug", "must not be empty")
	}
	if env == "" {
		return nil, errors.InvalidRequest("env", "must not be empty")
	}

	target, outcome, err := r.entries.GetOrLoad(ctx, models.TargetKey(env, slug, version),
		func(loadCtx context.Context) (*models.TargetDescriptor, error) {
			return r.fetch(loadCtx, env, slug, version)
		})
	if err != nil {
		r.metrics.RecordCacheAccess(targetCacheName, CacheOutcomeError)
		return nil, err
	}
	r.metrics.RecordCacheAccess(targetCacheName, string(outcome))
	out := *target
	return &out, nil
}

// Invalidate drops one cached target.
func (r *TargetResolver) Invalidate(env, slug, version string) {
	r.entries.Delete(models.TargetKey(env, slug, version))
}

// ClearAll drops every cached target.
func (r *TargetResolver) ClearAll() {
	r.entries.Clear()
}

// Len reports how many targets are cached, expired ones included.
func (r *TargetResolver) Len() int {
	return r.entries.Len()
}

func (r *TargetResolver) fetch(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error) {
	start := time.Now()
	target, err := r.authority.LookupService(ctx, env, slug, version)
	if err == nil && target == nil {
		err = ErrServiceNotFound
	}
	r.metrics.RecordResolve(env, time.Since(start), err)
	if err != nil {
		r.logger.Warn(ctx, "target resolution failed", logger.Fields{
			"env": env, "slug": slug, "version": version, "error": err.Error(),
		})
		return nil, errors.Resolution(env, slug, version, err)
	}

	resolved := *target
	resolved.Env, resolved.Slug, resolved.Version = env, slug, version
	resolved.FetchedAt = r.clock.Now()
	if _, err := resolved.ResolvedBaseURL(); err != nil {
		return nil, errors.Resolution(env, slug, version, fmt.Errorf("unusable target: %w", err))
	}
	r.logger.Debug(ctx, "target resolved", logger.Fields{"key": resolved.Key()})
	return &resolved, nil
}
