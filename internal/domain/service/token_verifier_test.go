package service_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/internal/infrastructure/crypto"
	"github.com/turtacn/s2s/internal/infrastructure/kms"
	"github.com/turtacn/s2s/pkg/errors"
)

type verifierFixture struct {
	clk      *clocktesting.FakeClock
	minter   *service.TokenMinter
	verifier *service.TokenVerifier
}

func newVerifierFixture(t *testing.T, cfg service.VerifierConfig) verifierFixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	identity, err := models.NewSigningKeyIdentity("proj", "global", "ring", "s2s", "1", "ES256")
	require.NoError(t, err)

	authority := kms.NewLocalAuthority()
	authority.PutKey(identity.ResourceName(), key, false)
	signer, err := crypto.NewKMSSigner(identity, authority, nil)
	require.NoError(t, err)

	// Real time drives signing; the fake clock is pinned to it so iat checks pass.
	clk := clocktesting.NewFakeClock(time.Now().Truncate(time.Second))
	minter, err := service.NewTokenMinter(signer, clk, nil)
	require.NoError(t, err)
	verifier, err := service.NewTokenVerifier(kms.NewPublicKeyCache(authority, nil, 0, nil), cfg, clk, nil)
	require.NoError(t, err)
	return verifierFixture{clk: clk, minter: minter, verifier: verifier}
}

func TestTokenVerifier_AcceptsMintedToken(t *testing.T) {
	f := newVerifierFixture(t, service.VerifierConfig{Audience: "svc-b", Issuers: []string{"svc-a"}, LeewaySec: 5})

	tok, err := f.minter.Mint(context.Background(), models.MintRequest{
		TTLSec: 300, Audience: "svc-b", Issuer: "svc-a", Subject: "job",
		ExtraClaims: map[string]interface{}{"tier": "gold"},
	})
	require.NoError(t, err)

	claims, err := f.verifier.VerifySigned(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "svc-a", claims.Issuer)
	assert.Equal(t, "job", claims.Subject)
	assert.Equal(t, []string{"svc-b"}, claims.Audience)
	assert.Equal(t, tok.JTI, claims.JTI)
	assert.Equal(t, tok.Header.Kid, claims.Kid)
	assert.Equal(t, map[string]interface{}{"tier": "gold"}, claims.Extra)
	assert.True(t, tok.ExpiresAt().Equal(claims.ExpiresAt))
}

func TestTokenVerifier_Rejections(t *testing.T) {
	f := newVerifierFixture(t, service.VerifierConfig{Audience: "svc-b", Issuers: []string{"svc-a"}})
	mint := func(aud, iss string) string {
		tok, err := f.minter.Mint(context.Background(), models.MintRequest{TTLSec: 60, Audience: aud, Issuer: iss})
		require.NoError(t, err)
		return tok.CompactToken
	}

	wrongAudience := mint("svc-c", "svc-a")
	untrustedIssuer := mint("svc-b", "mallory")
	good := mint("svc-b", "svc-a")

	_, err := f.verifier.Verify(context.Background(), wrongAudience)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = f.verifier.Verify(context.Background(), untrustedIssuer)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = f.verifier.Verify(context.Background(), good[:len(good)-4]+"AAAA")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	f.clk.Step(2 * time.Minute)
	_, err = f.verifier.Verify(context.Background(), good)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "expired token must be rejected")
}

func TestNewTokenVerifier_FailFast(t *testing.T) {
	keys := kms.NewPublicKeyCache(kms.NewLocalAuthority(), nil, 0, nil)
	_, err := service.NewTokenVerifier(nil, service.VerifierConfig{Audience: "a"}, nil, nil)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	_, err = service.NewTokenVerifier(keys, service.VerifierConfig{}, nil, nil)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	_, err = service.NewTokenVerifier(keys, service.VerifierConfig{Audience: "a", LeewaySec: -1}, nil, nil)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

type staticDenylist struct {
	denied map[string]bool
	err    error
}

func (d staticDenylist) Deny(context.Context, string, string) error { return nil }

func (d staticDenylist) IsDenied(_ context.Context, kid string) (bool, error) {
	return d.denied[kid], d.err
}

func TestTokenVerifier_Denylist(t *testing.T) {
	const kid = "kms:proj:global:ring:s2s:v1"
	mint := func(f verifierFixture) string {
		tok, err := f.minter.Mint(context.Background(), models.MintRequest{TTLSec: 60, Audience: "svc-b", Issuer: "svc-a"})
		require.NoError(t, err)
		return tok.CompactToken
	}

	f := newVerifierFixture(t, service.VerifierConfig{Audience: "svc-b", Denylist: staticDenylist{denied: map[string]bool{kid: true}}})
	_, err := f.verifier.Verify(context.Background(), mint(f))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	f = newVerifierFixture(t, service.VerifierConfig{Audience: "svc-b", Denylist: staticDenylist{err: errors.Transport("redis down", nil)}})
	_, err = f.verifier.Verify(context.Background(), mint(f))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	f = newVerifierFixture(t, service.VerifierConfig{Audience: "svc-b", Denylist: staticDenylist{}})
	_, err = f.verifier.Verify(context.Background(), mint(f))
	assert.NoError(t, err)
}
