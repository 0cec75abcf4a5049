// Package application composes the domain services into the two entry points
// callers use: BearerTokenService for tokens and Dispatcher for S2S calls.
package application

import (
	"context"
	"sync"

	"k8s.io/utils/clock"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/internal/infrastructure/crypto"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// BearerRequest asks for a token to present to Audience.
// BearerRequest 请求一个面向 Audience 的令牌。
type BearerRequest struct {
	Audience string
	TTLSec   int64
	// Issuer overrides the configured issuer for this request.
	Issuer  string
	Subject string
}

// BearerDeps is everything the lazily built signer, minter and cache chain needs.
// BearerDeps 是延迟构建签名器、签发器与缓存链所需的全部依赖。
type BearerDeps struct {
	// ServiceName is the calling service's own identity, the last-resort issuer.
	ServiceName string
	S2S         config.S2SConfig
	Authority   service.SignAuthority
	Logger      logger.Logger
	Metrics     service.Metrics
	// Sink, when set, receives an event for every freshly minted token.
	Sink service.IssuanceSink
	// Clock drives iat and cache freshness; nil means the real clock.
	Clock clock.PassiveClock
}

// BearerTokenService hands out compact bearer tokens. The signer chain is
// built once, on first use; a construction failure is remembered and
// returned on every later call.
type BearerTokenService struct {
	deps   BearerDeps
	logger logger.Logger

	once    sync.Once
	cache   *service.TokenCache
	initErr error

	issuerNotice sync.Once
}

// NewBearerTokenService creates a service. Nothing is validated until first use.
func NewBearerTokenService(deps BearerDeps) *BearerTokenService {
	if deps.Logger == nil {
		deps.Logger = logger.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = service.NewNoopMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	return &BearerTokenService{deps: deps, logger: deps.Logger.WithComponent("BearerTokenService")}
}

// GetBearerToken returns a compact token for req.
func (s *BearerTokenService) GetBearerToken(ctx context.Context, req BearerRequest) (string, error) {
	if req.Audience == "" {
		return "", errors.InvalidRequest("audience", "must not be empty")
	}
	if req.TTLSec <= 0 {
		return "", errors.InvalidRequest("ttl_sec", "must be a positive number of seconds")
	}
	c, err := s.Cache()
	if err != nil {
		return "", err
	}
	issuer, err := s.resolveIssuer(ctx, req.Issuer)
	if err != nil {
		return "", err
	}

	tok, err := c.GetToken(ctx, models.MintRequest{
		TTLSec:   req.TTLSec,
		Audience: req.Audience,
		Issuer:   issuer,
		Subject:  req.Subject,
	})
	if err != nil {
		return "", err
	}
	return tok.CompactToken, nil
}

// InvalidateBearerToken drops the cached token req would be served, so the
// next request mints a fresh one.
func (s *BearerTokenService) InvalidateBearerToken(ctx context.Context, req BearerRequest) {
	c, err := s.Cache()
	if err != nil {
		return
	}
	issuer, err := s.resolveIssuer(ctx, req.Issuer)
	if err != nil {
		return
	}
	c.InvalidateTuple(models.ClaimTuple{Audience: req.Audience, Issuer: issuer, Subject: req.Subject})
}

// ClearTokens drops every cached token and reports how many there were. A
// chain that failed to build holds none.
func (s *BearerTokenService) ClearTokens() int {
	c, err := s.Cache()
	if err != nil {
		return 0
	}
	n := c.Len()
	c.ClearAll()
	return n
}

// Cache returns the token cache, building the chain on first call.
func (s *BearerTokenService) Cache() (*service.TokenCache, error) {
	s.once.Do(func() {
		s.cache, s.initErr = s.build()
		if s.initErr != nil {
			s.logger.Error(context.Background(), "bearer token chain construction failed", s.initErr)
		}
	})
	return s.cache, s.initErr
}

func (s *BearerTokenService) build() (*service.TokenCache, error) {
	identity, err := s.deps.S2S.SigningIdentity()
	if err != nil {
		return nil, asConfigurationError(err)
	}
	early, skew, err := s.deps.S2S.TokenCacheTiming()
	if err != nil {
		return nil, err
	}

	signerOpts := []crypto.KMSSignerOption{crypto.WithSignerMetrics(s.deps.Metrics)}
	if timeout := s.deps.S2S.SignTimeout(); timeout > 0 {
		signerOpts = append(signerOpts, crypto.WithSignTimeout(timeout))
	}
	signer, err := crypto.NewKMSSigner(identity, s.deps.Authority, s.deps.Logger, signerOpts...)
	if err != nil {
		return nil, asConfigurationError(err)
	}
	minter, err := service.NewTokenMinter(signer, s.deps.Clock, s.deps.Logger)
	if err != nil {
		return nil, err
	}

	opts := []service.TokenCacheOption{
		service.WithCacheClock(s.deps.Clock),
		service.WithCacheMetrics(s.deps.Metrics),
	}
	if s.deps.Sink != nil {
		opts = append(opts, service.WithIssuanceSink(s.deps.Sink, s.deps.ServiceName))
	}
	c, err := service.NewTokenCache(minter, service.TokenCacheConfig{EarlyRefreshSec: early, ClockSkewSec: skew}, s.deps.Logger, opts...)
	if err != nil {
		return nil, err
	}
	s.logger.Info(context.Background(), "bearer token chain ready", logger.Fields{
		"kid": signer.KID(), "alg": signer.Alg(), "early_refresh_sec": early, "clock_skew_sec": skew,
	})
	return c, nil
}

// resolveIssuer applies explicit > s2s.issuer > service.name.
func (s *BearerTokenService) resolveIssuer(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if s.deps.S2S.Issuer != "" {
		return s.deps.S2S.Issuer, nil
	}
	if s.deps.ServiceName != "" {
		s.issuerNotice.Do(func() {
			s.logger.Info(ctx, "s2s.issuer is not set; using the service name as issuer",
				logger.String("issuer", s.deps.ServiceName))
		})
		return s.deps.ServiceName, nil
	}
	return "", errors.Configuration("s2s.issuer", "no issuer: set s2s.issuer or service.name, or pass one explicitly")
}

// asConfigurationError keeps S2S errors as they are and files anything else
// under the signing key settings.
func asConfigurationError(err error) error {
	if _, ok := errors.AsS2SError(err); ok {
		return err
	}
	return errors.Configuration("s2s.signing_key", err.Error()).WithCause(err)
}

var (
	defaultMu      sync.Mutex
	defaultService *BearerTokenService
)

// DefaultBearerTokenService returns the process-wide service, creating it from
// deps on the first call. Later calls ignore deps.
func DefaultBearerTokenService(deps BearerDeps) *BearerTokenService {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultService == nil {
		defaultService = NewBearerTokenService(deps)
	}
	return defaultService
}

// ResetDefaultBearerTokenService forgets the process-wide service. Tests only.
func ResetDefaultBearerTokenService() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultService = nil
}
