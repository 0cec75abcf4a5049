package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"k8s.io/utils/clock"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// VerifierConfig describes what an inbound S2S token must look like.
type VerifierConfig struct {
	// Audience is this service's slug; tokens for anyone else are rejected.
	Audience string
	// Issuers, when non-empty, restricts the accepted iss values.
	Issuers []string
	// LeewaySec tolerates clock drift on exp, nbf and iat.
	LeewaySec int64
	// Algorithms defaults to every supported algorithm.
	Algorithms []string
	// Denylist, when set, rejects tokens signed by a compromised key. A
	// failed lookup rejects the token.
	Denylist KeyDenylist
}

// VerifiedClaims is what a verified token asserts.
type VerifiedClaims struct {
	Kid       string
	Issuer    string
	Subject   string
	Audience  []string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]interface{}
}

// TokenVerifier checks signature, audience, issuer and validity window of
// tokens minted by a TokenMinter.
type TokenVerifier struct {
	keys    PublicKeyResolver
	cfg     VerifierConfig
	issuers map[string]struct{}
	parser  *jwt.Parser
	logger  logger.Logger
}

// NewTokenVerifier creates a verifier. A nil key resolver, an empty audience or
// a negative leeway is a ConfigurationError.
func NewTokenVerifier(keys PublicKeyResolver, cfg VerifierConfig, clk clock.PassiveClock, log logger.Logger) (*TokenVerifier, error) {
	if keys == nil {
		return nil, errors.Configuration("verifier.keys", "public key resolver is required")
	}
	if cfg.Audience == "" {
		return nil, errors.Configuration("service.name", "verifier audience is required")
	}
	if cfg.LeewaySec < 0 {
		return nil, errors.Configuration("s2s.clock_skew_sec", "must not be negative")
	}
	if len(cfg.Algorithms) == 0 {
		for _, alg := range constants.SupportedAlgorithms {
			cfg.Algorithms = append(cfg.Algorithms, string(alg))
		}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	issuers := make(map[string]struct{}, len(cfg.Issuers))
	for _, iss := range cfg.Issuers {
		issuers[iss] = struct{}{}
	}
	return &TokenVerifier{
		keys:    keys,
		cfg:     cfg,
		issuers: issuers,
		parser: jwt.NewParser(
			jwt.WithValidMethods(cfg.Algorithms),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(time.Duration(cfg.LeewaySec)*time.Second),
			jwt.WithTimeFunc(clk.Now),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
		logger: log.WithComponent("TokenVerifier"),
	}, nil
}

// Verify parses and validates compact. Every rejection is an InvalidRequestError.
func (v *TokenVerifier) Verify(ctx context.Context, compact string) (*VerifiedClaims, error) {
	claims := jwt.MapClaims{}
	var kid string
	_, err := v.parser.ParseWithClaims(compact, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ = t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid")
		}
		return v.keys.PublicKey(ctx, kid)
	})
	if err != nil {
		v.logger.Warn(ctx, "token rejected", logger.Fields{"kid": kid, "error": err.Error()})
		return nil, errors.InvalidRequest("token", "verification failed").WithCause(err).WithMetadata("kid", kid)
	}

	if v.cfg.Denylist != nil {
		denied, err := v.cfg.Denylist.IsDenied(ctx, kid)
		if err != nil {
			v.logger.Error(ctx, "key denylist lookup failed", err, logger.String("kid", kid))
			return nil, errors.InvalidRequest("token", "signing key status unknown").WithCause(err).WithMetadata("kid", kid)
		}
		if denied {
			v.logger.Warn(ctx, "token signed by a compromised key", logger.String("kid", kid))
			return nil, errors.InvalidRequest("token", "signing key was reported compromised").WithMetadata("kid", kid)
		}
	}

	iss, _ := claims.GetIssuer()
	if len(v.issuers) > 0 {
		if _, ok := v.issuers[iss]; !ok {
			return nil, errors.InvalidRequest("token", fmt.Sprintf("issuer %q is not trusted", iss)).WithMetadata("kid", kid)
		}
	}

	out := &VerifiedClaims{Kid: kid, Issuer: iss, Extra: map[string]interface{}{}}
	out.Subject, _ = claims.GetSubject()
	out.Audience, _ = claims.GetAudience()
	out.JTI, _ = claims[constants.ClaimJWTID].(string)
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		out.ExpiresAt = exp.Time
	}
	for k, val := range claims {
		if _, reserved := registeredClaims[k]; !reserved {
			out.Extra[k] = val
		}
	}
	return out, nil
}

// VerifySigned is a convenience for tests and tooling holding a SignedToken.
func (v *TokenVerifier) VerifySigned(ctx context.Context, tok *models.SignedToken) (*VerifiedClaims, error) {
	if tok == nil {
		return nil, errors.InvalidRequest("token", "must not be nil")
	}
	return v.Verify(ctx, tok.CompactToken)
}
