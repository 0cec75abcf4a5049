package service

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/infrastructure/cache"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

const tokenCacheName = "token"

// TokenCacheConfig holds the timing knobs of TokenCache. Both are required.
type TokenCacheConfig struct {
	// EarlyRefreshSec is how long before expiry a cached token stops being served.
	EarlyRefreshSec int64
	// ClockSkewSec back-dates nbf on requests that do not set their own skew.
	ClockSkewSec int64
}

// Validate checks the numeric invariants.
func (c TokenCacheConfig) Validate() error {
	if c.EarlyRefreshSec <= 0 {
		return errors.Configuration("s2s.early_refresh_sec", "must be positive")
	}
	if c.ClockSkewSec < 0 {
		return errors.Configuration("s2s.clock_skew_sec", "must not be negative")
	}
	return nil
}

// TokenCache reuses minted tokens until they enter the early-refresh window and
// coalesces concurrent mints for the same claim tuple into one signer call.
// TokenCache 在令牌进入提前刷新窗口前复用已签发的令牌，并将同一声明元组的并发签发合并为一次签名调用。
type TokenCache struct {
	minter  Minter
	cfg     TokenCacheConfig
	clock   clock.PassiveClock
	entries *cache.TTLCache[*models.SignedToken]
	metrics Metrics
	sink    IssuanceSink
	service string
	logger  logger.Logger
}

// TokenCacheOption customizes a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithCacheClock injects the time source.
func WithCacheClock(clk clock.PassiveClock) TokenCacheOption {
	return func(c *TokenCache) { c.clock = clk }
}

// WithCacheMetrics attaches a metrics collector.
func WithCacheMetrics(m Metrics) TokenCacheOption {
	return func(c *TokenCache) { c.metrics = m }
}

// WithIssuanceSink reports every fresh mint to sink, tagged with serviceName.
func WithIssuanceSink(sink IssuanceSink, serviceName string) TokenCacheOption {
	return func(c *TokenCache) {
		c.sink = sink
		c.service = serviceName
	}
}

// NewTokenCache validates cfg and wraps minter. Invalid timing is a
// ConfigurationError raised here, before any token is minted.
func NewTokenCache(minter Minter, cfg TokenCacheConfig, log logger.Logger, opts ...TokenCacheOption) (*TokenCache, error) {
	if minter == nil {
		return nil, errors.Configuration("s2s.minter", "token minter is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	c := &TokenCache{
		minter:  minter,
		cfg:     cfg,
		clock:   clock.RealClock{},
		metrics: NewNoopMetrics(),
		logger:  log.WithComponent("TokenCache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	early := cfg.EarlyRefreshSec
	c.entries = cache.New[*models.SignedToken](c.clock, func(e cache.Entry[*models.SignedToken], now time.Time) bool {
		return e.Value != nil && e.Value.FreshAt(now, early)
	})
	return c, nil
}

// GetToken returns a cached token for req's claim tuple or mints one. The
// requested TTL only applies to freshly minted tokens.
func (c *TokenCache) GetToken(ctx context.Context, req models.MintRequest) (*models.SignedToken, error) {
	if err := ValidateMintRequest(req); err != nil {
		return nil, err
	}
	if req.NbfSkewSec == nil {
		skew := c.cfg.ClockSkewSec
		req.NbfSkewSec = &skew
	}
	key, err := c.key(req.Tuple())
	if err != nil {
		return nil, err
	}

	tok, outcome, err := c.entries.GetOrLoad(ctx, key, func(loadCtx context.Context) (*models.SignedToken, error) {
		tok, err := c.minter.Mint(loadCtx, req)
		if err != nil {
			return nil, err
		}
		c.recordIssuance(loadCtx, req, tok)
		return tok, nil
	})
	if err != nil {
		c.metrics.RecordCacheAccess(tokenCacheName, CacheOutcomeError)
		return nil, err
	}
	c.metrics.RecordCacheAccess(tokenCacheName, string(outcome))
	c.logger.Debug(ctx, "token served", logger.Fields{"aud": req.Audience, "outcome": string(outcome)})
	return tok, nil
}

// InvalidateTuple drops the cached token for tuple. Absent entries are ignored.
func (c *TokenCache) InvalidateTuple(tuple models.ClaimTuple) {
	key, err := c.key(tuple)
	if err != nil {
		return
	}
	c.entries.Delete(key)
	c.logger.Info(context.Background(), "token invalidated", logger.Fields{"aud": tuple.Audience})
}

// ClearAll drops every cached token and all in-flight bookkeeping.
func (c *TokenCache) ClearAll() {
	c.entries.Clear()
	c.logger.Info(context.Background(), "token cache cleared")
}

// Len returns the number of cached tokens, fresh or not.
func (c *TokenCache) Len() int {
	return c.entries.Len()
}

// Signer exposes the identity the cache keys on.
func (c *TokenCache) Signer() TokenSigner {
	return c.minter.Signer()
}

func (c *TokenCache) key(tuple models.ClaimTuple) (string, error) {
	signer := c.minter.Signer()
	key, err := tuple.CacheKey(signer.KID(), signer.Alg())
	if err != nil {
		return "", errors.InvalidRequest("extra_claims", "cannot be serialized").WithCause(err)
	}
	return key, nil
}

func (c *TokenCache) recordIssuance(ctx context.Context, req models.MintRequest, tok *models.SignedToken) {
	if c.sink == nil {
		return
	}
	event := models.IssuanceEvent{
		Kid:       tok.Header.Kid,
		Algorithm: tok.Header.Alg,
		Audience:  req.Audience,
		Issuer:    req.Issuer,
		Subject:   req.Subject,
		JTI:       tok.JTI,
		IssuedAt:  tok.IssuedAtSec,
		ExpiresAt: tok.ExpiresAtSec,
		Service:   c.service,
		Timestamp: c.clock.Now().UTC(),
	}
	if err := c.sink.RecordIssuance(ctx, event); err != nil {
		c.logger.Warn(ctx, "issuance event not recorded", logger.Fields{"kid": event.Kid, "error": err.Error()})
	}
}
