// Package bootstrap wires configuration into a running S2S trust layer. Both
// the agent and s2sctl build their object graph through Build.
package bootstrap

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
	"k8s.io/utils/clock"

	"github.com/turtacn/s2s/internal/application"
	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/internal/infrastructure/audit"
	"github.com/turtacn/s2s/internal/infrastructure/discovery"
	"github.com/turtacn/s2s/internal/infrastructure/kms"
	"github.com/turtacn/s2s/internal/infrastructure/monitoring"
	"github.com/turtacn/s2s/internal/infrastructure/persistence/postgres"
	redisconn "github.com/turtacn/s2s/internal/infrastructure/persistence/redis"
	"github.com/turtacn/s2s/internal/infrastructure/transport"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// Options adjust Build for a particular binary.
type Options struct {
	// Registerer receives the Prometheus metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	// Transport, when set, is injected into the dispatcher and wins over the
	// network transport.
	Transport service.Transport
	// SkipAudit leaves issuance audit off even when Kafka is configured.
	SkipAudit bool
	// ProcessWide makes Tokens the process-wide bearer token service, so
	// every runtime built in the process shares one token cache.
	ProcessWide bool
}

// Runtime is the assembled trust layer.
type Runtime struct {
	Config      *config.Config
	Logger      logger.Logger
	Metrics     *monitoring.Metrics
	Authority   service.SignAuthority
	PublicKeys  *kms.PublicKeyCache
	Tokens      *application.BearerTokenService
	Resolver    *service.TargetResolver
	Dispatcher  *application.Dispatcher
	KeyRotation *application.KeyRotationService
	// Verifier is nil when service.name is unset.
	Verifier *service.TokenVerifier
	Redis    *redisconn.RedisConnection
	DB       *postgres.DBConnection

	closers []func() error
}

// Build validates cfg and assembles the runtime. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (rt *Runtime, err error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	rt = &Runtime{Config: cfg, Logger: log, Metrics: monitoring.NewMetrics(reg)}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if err = rt.openBackends(ctx); err != nil {
		return rt, err
	}
	if err = rt.buildSigner(ctx); err != nil {
		return rt, err
	}
	if err = rt.buildTokens(opts); err != nil {
		return rt, err
	}
	if err = rt.buildDispatch(ctx, opts); err != nil {
		return rt, err
	}
	return rt, nil
}

func (rt *Runtime) openBackends(ctx context.Context) error {
	cfg := rt.Config
	if len(cfg.Redis.Addresses) > 0 {
		rc := redisconn.NewRedisConnection(cfg.Redis, rt.Logger)
		if err := rc.Connect(ctx); err != nil {
			return err
		}
		rt.Redis = rc
		rt.closers = append(rt.closers, rc.Close)
	}
	if cfg.Discovery.Provider == "postgres" {
		db, err := postgres.NewDBConnection(ctx, cfg.Database, rt.Logger)
		if err != nil {
			return err
		}
		rt.DB = db
		rt.closers = append(rt.closers, func() error { db.Close(); return nil })
	}
	return nil
}

func (rt *Runtime) buildSigner(ctx context.Context) error {
	cfg := rt.Config
	identity, err := cfg.S2S.SigningIdentity()
	if err != nil {
		return err
	}

	switch cfg.Signer.Provider {
	case "gcp":
		var clientOpts []option.ClientOption
		if cfg.Signer.Endpoint != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(cfg.Signer.Endpoint))
		}
		if cfg.Signer.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Signer.CredentialsFile))
		}
		a, err := kms.NewGCPAuthority(ctx, rt.Logger, clientOpts...)
		if err != nil {
			return errors.Configuration("signer.provider", "cloud kms client").WithCause(err)
		}
		rt.Authority = a
		rt.closers = append(rt.closers, a.Close)
	case "vault":
		vc := vault.DefaultConfig()
		vc.Address = cfg.Vault.Address
		client, err := vault.NewClient(vc)
		if err != nil {
			return errors.Configuration("vault.address", "vault client").WithCause(err)
		}
		if cfg.Vault.Token != "" {
			client.SetToken(cfg.Vault.Token)
		}
		a, err := kms.NewVaultTransitAuthority(client, cfg.Vault.MountPath, cfg.Vault.SignatureAlgorithm, rt.Logger)
		if err != nil {
			return err
		}
		rt.Authority = a
	case "local":
		a, err := newEphemeralAuthority(identity)
		if err != nil {
			return err
		}
		rt.Logger.Warn(ctx, "signing with an ephemeral in-process key; peers cannot verify tokens after a restart",
			logger.String("kid", identity.KID()))
		rt.Authority = a
	}

	rt.PublicKeys = kms.NewPublicKeyCache(rt.Authority, rt.redisClient(), cfg.Signer.PublicKeyCacheTTL, rt.Logger)
	return nil
}

func (rt *Runtime) buildTokens(opts Options) error {
	cfg := rt.Config
	deps := application.BearerDeps{
		ServiceName: cfg.Service.Name,
		S2S:         cfg.S2S,
		Authority:   rt.Authority,
		Logger:      rt.Logger,
		Metrics:     rt.Metrics,
	}
	if !opts.SkipAudit && len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.AuditTopic != "" {
		sink, err := audit.NewKafkaIssuanceSink(cfg.Kafka, rt.Logger)
		if err != nil {
			return err
		}
		deps.Sink = sink
		rt.closers = append(rt.closers, sink.Close)
	}
	if opts.ProcessWide {
		rt.Tokens = application.DefaultBearerTokenService(deps)
	} else {
		rt.Tokens = application.NewBearerTokenService(deps)
	}

	var (
		denylist service.KeyDenylist
		krsOpts  []application.KeyRotationOption
	)
	if rt.Redis != nil {
		denylist = redisconn.NewKIDDenylist(rt.Redis.Client(), 0)
		krsOpts = append(krsOpts, application.WithKeyDenylist(denylist))
	}
	krs, err := application.NewKeyRotationService(rt.Tokens, rt.PublicKeys, rt.Logger, krsOpts...)
	if err != nil {
		return err
	}
	rt.KeyRotation = krs

	if cfg.Service.Name != "" {
		_, skew, err := cfg.S2S.TokenCacheTiming()
		if err != nil {
			return err
		}
		v, err := service.NewTokenVerifier(rt.PublicKeys, service.VerifierConfig{
			Audience:  cfg.Service.Name,
			Issuers:   cfg.S2S.TrustedIssuers,
			LeewaySec: skew,
			Denylist:  denylist,
		}, clock.RealClock{}, rt.Logger)
		if err != nil {
			return err
		}
		rt.Verifier = v
	}
	return nil
}

func (rt *Runtime) buildDispatch(ctx context.Context, opts Options) error {
	cfg := rt.Config
	backends := discovery.Backends{Redis: rt.redisClient()}
	if rt.DB != nil {
		backends.Postgres = rt.DB.Pool()
	}
	authority, err := discovery.New(ctx, cfg.Discovery, backends, rt.Logger)
	if err != nil {
		return err
	}
	ttl, err := cfg.S2S.TargetCacheTTL()
	if err != nil {
		return err
	}
	rt.Resolver, err = service.NewTargetResolver(authority, ttl, rt.Logger, service.WithResolverMetrics(rt.Metrics))
	if err != nil {
		return err
	}

	dispatchOpts := []application.DispatcherOption{
		application.WithS2SDisabled(cfg.S2S.Disabled),
		application.WithCallTokenTTL(cfg.S2S.TokenTTLSec),
		application.WithDispatchMetrics(rt.Metrics),
		application.WithNetworkTransport(transport.NewHTTPTransport(cfg.S2S.CallTimeout(), rt.Logger)),
	}
	if opts.Transport != nil {
		dispatchOpts = append(dispatchOpts, application.WithInjectedTransport(opts.Transport))
	}
	rt.Dispatcher, err = application.NewDispatcher(rt.Resolver, rt.Tokens, rt.Logger, dispatchOpts...)
	return err
}

func (rt *Runtime) redisClient() redis.UniversalClient {
	if rt.Redis == nil {
		return nil
	}
	return rt.Redis.Client()
}

// Close releases every backend in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.Logger.Warn(context.Background(), "close failed", logger.Fields{"error": err.Error()})
		}
	}
	rt.closers = nil
}

// newEphemeralAuthority generates a key matching identity's algorithm.
func newEphemeralAuthority(identity models.SigningKeyIdentity) (*kms.LocalAuthority, error) {
	alg := identity.Algorithm()
	var (
		key crypto.Signer
		err error
	)
	switch {
	case alg == "ES256":
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case alg == "ES384":
		key, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	default:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	}
	if err != nil {
		return nil, errors.Configuration("signer.provider", "ephemeral key generation failed").WithCause(err)
	}
	a := kms.NewLocalAuthority()
	a.PutKey(identity.ResourceName(), key, strings.HasPrefix(alg, "PS"))
	return a, nil
}
