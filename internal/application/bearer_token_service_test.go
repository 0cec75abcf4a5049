package application

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/internal/domain/service/mocks"
	"github.com/turtacn/s2s/internal/infrastructure/kms"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

const testResourceName = "projects/proj/locations/global/keyRings/ring/cryptoKeys/s2s/cryptoKeyVersions/1"

func int64p(v int64) *int64 { return &v }

func validS2S() config.S2SConfig {
	return config.S2SConfig{
		SigningKey: config.SigningKeyConfig{
			Project: "proj", Location: "global", KeyRing: "ring", Key: "s2s", Version: "1", Algorithm: "ES256",
		},
		TargetCacheTTLMs: int64p(60_000),
		EarlyRefreshSec:  int64p(30),
		ClockSkewSec:     int64p(5),
		TokenTTLSec:      300,
	}
}

func newAuthority(t *testing.T) *kms.LocalAuthority {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	a := kms.NewLocalAuthority()
	a.PutKey(testResourceName, key, false)
	return a
}

func claimsOf(t *testing.T, compact string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(compact, claims)
	require.NoError(t, err)
	return claims
}

func TestBearerTokenService_IssuerPrecedence(t *testing.T) {
	withIssuer := validS2S()
	withIssuer.Issuer = "billing.internal"

	tests := []struct {
		name        string
		s2s         config.S2SConfig
		serviceName string
		explicit    string
		want        string
	}{
		{"explicit wins", withIssuer, "billing", "override", "override"},
		{"configured issuer", withIssuer, "billing", "", "billing.internal"},
		{"service name fallback", validS2S(), "billing", "", "billing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewBearerTokenService(BearerDeps{ServiceName: tt.serviceName, S2S: tt.s2s, Authority: newAuthority(t)})
			tok, err := svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b", TTLSec: 60, Issuer: tt.explicit})
			require.NoError(t, err)
			assert.Equal(t, tt.want, claimsOf(t, tok)["iss"])
		})
	}
}

func TestBearerTokenService_ServiceNameNoticeLoggedOnce(t *testing.T) {
	rec := logger.NewRecorder()
	svc := NewBearerTokenService(BearerDeps{ServiceName: "billing", S2S: validS2S(), Authority: newAuthority(t), Logger: rec})
	for i := 0; i < 3; i++ {
		_, err := svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b", TTLSec: 60})
		require.NoError(t, err)
	}
	notices := 0
	for _, e := range rec.EntriesAt("info") {
		if e.Fields["issuer"] == "billing" {
			notices++
		}
	}
	assert.Equal(t, 1, notices)
	assert.Empty(t, rec.EntriesAt("error"))
}

func TestBearerTokenService_NoIssuerIsConfigurationError(t *testing.T) {
	svc := NewBearerTokenService(BearerDeps{S2S: validS2S(), Authority: newAuthority(t)})
	_, err := svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b", TTLSec: 60})
	require.True(t, errors.Is(err, errors.ErrConfiguration))
	s2sErr, _ := errors.AsS2SError(err)
	assert.Equal(t, "s2s.issuer", s2sErr.Metadata()["setting"])
}

func TestBearerTokenService_InvalidRequest(t *testing.T) {
	authority := newAuthority(t)
	svc := NewBearerTokenService(BearerDeps{ServiceName: "billing", S2S: validS2S(), Authority: authority})

	_, err := svc.GetBearerToken(context.Background(), BearerRequest{TTLSec: 60})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	assert.Equal(t, 0, authority.Calls())
}

func TestBearerTokenService_ConstructionErrorIsRemembered(t *testing.T) {
	broken := validS2S()
	broken.EarlyRefreshSec = int64p(0)
	authority := newAuthority(t)
	svc := NewBearerTokenService(BearerDeps{ServiceName: "billing", S2S: broken, Authority: authority})

	for i := 0; i < 2; i++ {
		_, err := svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b", TTLSec: 60})
		require.True(t, errors.Is(err, errors.ErrConfiguration))
		s2sErr, _ := errors.AsS2SError(err)
		assert.Equal(t, "s2s.early_refresh_sec", s2sErr.Metadata()["setting"])
	}
	_, err := svc.Cache()
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	assert.Equal(t, 0, authority.Calls())

	missingKey := validS2S()
	missingKey.SigningKey.Version = ""
	svc = NewBearerTokenService(BearerDeps{ServiceName: "billing", S2S: missingKey, Authority: authority})
	_, err = svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b", TTLSec: 60})
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	svc = NewBearerTokenService(BearerDeps{ServiceName: "billing", S2S: validS2S()})
	_, err = svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b", TTLSec: 60})
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestBearerTokenService_CachesAndInvalidates(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	authority := newAuthority(t)
	sink := &mocks.MockIssuanceSink{}
	sink.On("RecordIssuance", mock.Anything, mock.MatchedBy(func(e models.IssuanceEvent) bool {
		return e.Service == "billing" && e.Audience == "svc-b"
	})).Return(nil).Twice()

	svc := NewBearerTokenService(BearerDeps{
		ServiceName: "billing", S2S: validS2S(), Authority: authority, Clock: clk, Sink: sink,
	})
	req := BearerRequest{Audience: "svc-b", TTLSec: 300}

	first, err := svc.GetBearerToken(context.Background(), req)
	require.NoError(t, err)
	again, err := svc.GetBearerToken(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, authority.Calls())

	claims := claimsOf(t, first)
	assert.Equal(t, float64(1_700_000_000-5), claims["nbf"])

	svc.InvalidateBearerToken(context.Background(), req)
	fresh, err := svc.GetBearerToken(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
	assert.Equal(t, 2, authority.Calls())
	sink.AssertExpectations(t)
}

func TestBearerTokenService_ConcurrentFirstUse(t *testing.T) {
	authority := newAuthority(t)
	svc := NewBearerTokenService(BearerDeps{ServiceName: "billing", S2S: validS2S(), Authority: authority})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b", TTLSec: 60})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, authority.Calls())
}

func TestDefaultBearerTokenService(t *testing.T) {
	ResetDefaultBearerTokenService()
	t.Cleanup(ResetDefaultBearerTokenService)

	first := DefaultBearerTokenService(BearerDeps{ServiceName: "a"})
	second := DefaultBearerTokenService(BearerDeps{ServiceName: "b"})
	assert.Same(t, first, second)

	ResetDefaultBearerTokenService()
	assert.NotSame(t, first, DefaultBearerTokenService(BearerDeps{ServiceName: "c"}))
}

// deadlineAuthority records whether the sign RPC ran under a deadline.
type deadlineAuthority struct {
	*kms.LocalAuthority
	mu       sync.Mutex
	deadline time.Time
	bounded  bool
}

func (a *deadlineAuthority) AsymmetricSign(ctx context.Context, name string, digest service.Digest) ([]byte, error) {
	a.mu.Lock()
	a.deadline, a.bounded = ctx.Deadline()
	a.mu.Unlock()
	return a.LocalAuthority.AsymmetricSign(ctx, name, digest)
}

func TestBearerTokenService_SignIsBoundedWithoutConfiguredTimeout(t *testing.T) {
	authority := &deadlineAuthority{LocalAuthority: newAuthority(t)}
	s2s := validS2S()
	s2s.SignTimeoutMs = 0
	svc := NewBearerTokenService(BearerDeps{ServiceName: "billing", S2S: s2s, Authority: authority})

	start := time.Now()
	_, err := svc.GetBearerToken(context.Background(), BearerRequest{Audience: "svc-b", TTLSec: 60})
	require.NoError(t, err)

	authority.mu.Lock()
	defer authority.mu.Unlock()
	require.True(t, authority.bounded, "sign RPC must run under a deadline")
	assert.WithinDuration(t, start.Add(constants.DefaultSignTimeout), authority.deadline, 2*time.Second)
}
