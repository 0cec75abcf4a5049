package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/viper"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/logger"
)

// StaticAuthority serves the registry from a YAML file of the form
//
//	services:
//	  - {env: prod, slug: billing, version: v2, baseUrl: "http://billing:8080"}
//
// and reloads it when the file changes. A reload that fails to parse keeps the
// previous listing.
type StaticAuthority struct {
	path   string
	logger logger.Logger

	mu       sync.RWMutex
	targets  []models.TargetDescriptor
	onReload func(count int)
}

// StaticAuthorityOption customizes a StaticAuthority.
type StaticAuthorityOption func(*StaticAuthority)

// WithReloadHook is called after every successful reload with the new entry count.
func WithReloadHook(fn func(count int)) StaticAuthorityOption {
	return func(a *StaticAuthority) { a.onReload = fn }
}

// NewStaticAuthority reads path and starts watching it.
func NewStaticAuthority(path string, log logger.Logger, opts ...StaticAuthorityOption) (*StaticAuthority, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	a := &StaticAuthority{path: path, logger: log.WithComponent("StaticAuthority")}
	for _, opt := range opts {
		opt(a)
	}

	v, err := config.WatchFile(path, log, func(v *viper.Viper) {
		if err := a.load(v); err != nil {
			a.logger.Error(context.Background(), "registry reload failed, keeping previous listing", err,
				logger.String("file", path))
		}
	})
	if err != nil {
		return nil, err
	}
	if err := a.load(v); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *StaticAuthority) load(v *viper.Viper) error {
	var raw []models.TargetDescriptor
	if err := v.UnmarshalKey("services", &raw); err != nil {
		return fmt.Errorf("parse %s: %w", a.path, err)
	}
	targets := make([]models.TargetDescriptor, 0, len(raw))
	for _, t := range raw {
		if t.Env == "" || t.Slug == "" || t.Version == "" {
			a.logger.Warn(context.Background(), "skipping registry entry without env/slug/version",
				logger.String("file", a.path))
			continue
		}
		targets = append(targets, t)
	}

	a.mu.Lock()
	a.targets = targets
	hook := a.onReload
	a.mu.Unlock()

	a.logger.Info(context.Background(), "registry loaded", logger.Fields{"file": a.path, "services": len(targets)})
	if hook != nil {
		hook(len(targets))
	}
	return nil
}

// LookupService implements service.DiscoveryAuthority.
func (a *StaticAuthority) LookupService(_ context.Context, env, slug, version string) (*models.TargetDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return service.FindTarget(a.targets, env, slug, version)
}

// ListServices implements service.ServiceLister.
func (a *StaticAuthority) ListServices(context.Context) ([]models.TargetDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.TargetDescriptor, len(a.targets))
	copy(out, a.targets)
	return out, nil
}

var (
	_ service.DiscoveryAuthority = (*StaticAuthority)(nil)
	_ service.ServiceLister      = (*StaticAuthority)(nil)
)
