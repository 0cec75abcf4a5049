package s2sverifier

import (
	"context"
	"time"

	"github.com/turtacn/s2s/internal/domain/service"
)

// Config describes what an inbound token must look like.
type Config struct {
	// Audience is the receiving service's slug. Required.
	Audience string
	// Issuers, when non-empty, restricts the accepted iss values.
	Issuers []string
	// LeewaySec tolerates clock drift on exp, nbf and iat.
	LeewaySec int64
	// Algorithms defaults to every algorithm the agent can sign with.
	Algorithms []string
}

// Claims is what a verified token asserts.
type Claims struct {
	Kid       string
	Issuer    string
	Subject   string
	Audience  []string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]interface{}
}

// Verifier checks S2S bearer tokens against a remote JWKS.
type Verifier struct {
	inner *service.TokenVerifier
}

// NewVerifier returns a verifier backed by a JWKS key source for url.
func NewVerifier(url string, cfg Config, opts ...Option) (*Verifier, error) {
	src := NewJWKSKeySource(url, opts...)
	inner, err := service.NewTokenVerifier(src, service.VerifierConfig{
		Audience:   cfg.Audience,
		Issuers:    cfg.Issuers,
		LeewaySec:  cfg.LeewaySec,
		Algorithms: cfg.Algorithms,
	}, src.clock, src.base)
	if err != nil {
		return nil, err
	}
	return &Verifier{inner: inner}, nil
}

// Verify checks token and returns its claims. Failures are S2S errors from
// the pkg/errors package.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	c, err := v.inner.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Claims{
		Kid:       c.Kid,
		Issuer:    c.Issuer,
		Subject:   c.Subject,
		Audience:  c.Audience,
		JTI:       c.JTI,
		IssuedAt:  c.IssuedAt,
		ExpiresAt: c.ExpiresAt,
		Extra:     c.Extra,
	}, nil
}
