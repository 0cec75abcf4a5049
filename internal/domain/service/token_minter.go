package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// registeredClaims may not be set through MintRequest.ExtraClaims.
var registeredClaims = map[string]struct{}{
	constants.ClaimIssuer:    {},
	constants.ClaimSubject:   {},
	constants.ClaimAudience:  {},
	constants.ClaimIssuedAt:  {},
	constants.ClaimNotBefore: {},
	constants.ClaimExpiresAt: {},
	constants.ClaimJWTID:     {},
}

// TokenMinter composes header and payload for one token and hands them to the
// signer. It holds no state beyond its dependencies.
type TokenMinter struct {
	signer TokenSigner
	clock  clock.PassiveClock
	newJTI func() string
	logger logger.Logger
}

// NewTokenMinter creates a TokenMinter. A nil signer is a ConfigurationError.
func NewTokenMinter(signer TokenSigner, clk clock.PassiveClock, log logger.Logger) (*TokenMinter, error) {
	if signer == nil {
		return nil, errors.Configuration("s2s.signer", "token signer is required")
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &TokenMinter{
		signer: signer,
		clock:  clk,
		newJTI: func() string { return uuid.New().String() },
		logger: log.WithComponent("TokenMinter"),
	}, nil
}

// Signer returns the underlying signer.
func (m *TokenMinter) Signer() TokenSigner { return m.signer }

// Mint validates req, then signs a fresh token. Validation failures are
// InvalidRequestErrors raised before any call to the signing authority.
func (m *TokenMinter) Mint(ctx context.Context, req models.MintRequest) (*models.SignedToken, error) {
	if err := ValidateMintRequest(req); err != nil {
		return nil, err
	}

	now := m.clock.Now().Unix()
	payload := make(map[string]interface{}, len(req.ExtraClaims)+7)
	for k, v := range req.ExtraClaims {
		payload[k] = v
	}
	if req.Issuer != "" {
		payload[constants.ClaimIssuer] = req.Issuer
	}
	if req.Subject != "" {
		payload[constants.ClaimSubject] = req.Subject
	}
	payload[constants.ClaimAudience] = req.Audience
	payload[constants.ClaimIssuedAt] = now
	var skew int64
	if req.NbfSkewSec != nil {
		skew = *req.NbfSkewSec
	}
	payload[constants.ClaimNotBefore] = now - skew
	payload[constants.ClaimExpiresAt] = now + req.TTLSec
	payload[constants.ClaimJWTID] = m.newJTI()

	header := map[string]interface{}{
		"alg": m.signer.Alg(),
		"kid": m.signer.KID(),
		"typ": constants.TokenTypeJWT,
	}

	m.logger.Debug(ctx, "minting token", logger.Fields{
		"kid": m.signer.KID(), "aud": req.Audience, "ttl_sec": req.TTLSec,
	})
	return m.signer.Sign(ctx, header, payload)
}

// ValidateMintRequest checks the caller-controlled parts of a mint request.
func ValidateMintRequest(req models.MintRequest) error {
	if req.Audience == "" {
		return errors.InvalidRequest("audience", "must not be empty")
	}
	if req.TTLSec <= 0 {
		return errors.InvalidRequest("ttl_sec", "must be a positive number of seconds")
	}
	if req.NbfSkewSec != nil && *req.NbfSkewSec < 0 {
		return errors.InvalidRequest("nbf_skew_sec", "must not be negative")
	}
	for k, v := range req.ExtraClaims {
		if _, reserved := registeredClaims[k]; reserved {
			return errors.InvalidRequest("extra_claims", fmt.Sprintf("%q is a registered claim", k))
		}
		if !isScalar(v) {
			return errors.InvalidRequest("extra_claims", fmt.Sprintf("%q must be a string, number or boolean", k))
		}
	}
	return nil
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
