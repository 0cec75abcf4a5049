// Package s2sverifier lets a receiving service check S2S bearer tokens
// against the JWKS an s2s-agent publishes at /.well-known/jwks.json.
package s2sverifier

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// DefaultMinRefreshInterval bounds how often an unknown kid triggers a refetch.
const DefaultMinRefreshInterval = 30 * time.Second

// Option customizes a JWKSKeySource.
type Option func(*JWKSKeySource)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *JWKSKeySource) { s.httpClient = c }
}

// WithMinRefreshInterval sets the refetch throttle for unknown kids.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(s *JWKSKeySource) { s.minRefresh = d }
}

// WithClock replaces the real clock, for tests.
func WithClock(clk clock.PassiveClock) Option {
	return func(s *JWKSKeySource) { s.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *JWKSKeySource) { s.base = log }
}

// JWKSKeySource resolves verification keys from a remote JWKS. Keys are kept
// until the set is refetched; revalidation uses the server's ETag.
type JWKSKeySource struct {
	url        string
	httpClient *http.Client
	minRefresh time.Duration
	clock      clock.PassiveClock
	base       logger.Logger
	logger     logger.Logger

	mu          sync.RWMutex
	keys        map[string]crypto.PublicKey
	etag        string
	lastFetched time.Time

	sf singleflight.Group
}

// NewJWKSKeySource creates a source for url. Nothing is fetched until the
// first lookup.
func NewJWKSKeySource(url string, opts ...Option) *JWKSKeySource {
	s := &JWKSKeySource{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		minRefresh: DefaultMinRefreshInterval,
		clock:      clock.RealClock{},
		base:       logger.NewNoopLogger(),
		keys:       make(map[string]crypto.PublicKey),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.base.WithComponent("JWKSKeySource")
	return s
}

// PublicKey returns the key for kid, refetching the set once when kid is
// unknown and the last fetch is older than the refresh interval.
func (s *JWKSKeySource) PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	stale := s.lastFetched.IsZero() || s.clock.Since(s.lastFetched) >= s.minRefresh
	s.mu.RUnlock()
	if ok {
		return key, nil
	}
	if !stale {
		return nil, fmt.Errorf("kid %q not in jwks", kid)
	}

	if _, err, _ := s.sf.Do("refresh", func() (interface{}, error) {
		return nil, s.Refresh(ctx)
	}); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("kid %q not in jwks", kid)
}

// Refresh fetches the set now. A 304 keeps the current keys.
func (s *JWKSKeySource) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return errors.Configuration("jwks_url", "invalid url").WithCause(err)
	}
	s.mu.RLock()
	if s.etag != "" {
		req.Header.Set("If-None-Match", s.etag)
	}
	s.mu.RUnlock()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Transport("jwks fetch failed", err)
	}
	defer resp.Body.Close()

	now := s.clock.Now()
	switch resp.StatusCode {
	case http.StatusNotModified:
		s.mu.Lock()
		s.lastFetched = now
		s.mu.Unlock()
		return nil
	case http.StatusOK:
	default:
		return errors.Transport(fmt.Sprintf("jwks fetch returned status %d", resp.StatusCode), nil)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return errors.Transport("jwks response is not a key set", err)
	}
	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || !k.IsPublic() || !k.Valid() {
			continue
		}
		keys[k.KeyID] = k.Key
	}

	s.mu.Lock()
	s.keys = keys
	s.etag = resp.Header.Get("ETag")
	s.lastFetched = now
	s.mu.Unlock()
	s.logger.Debug(ctx, "jwks refreshed", logger.Int("keys", len(keys)))
	return nil
}
