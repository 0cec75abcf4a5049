package s2sverifier_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/sdk/go/s2sverifier"
)

type jwksServer struct {
	*httptest.Server
	mu      sync.Mutex
	set     jose.JSONWebKeySet
	etag    string
	fetches atomic.Int32
}

func newJWKSServer(t *testing.T) *jwksServer {
	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.etag != "" && r.Header.Get("If-None-Match") == s.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", s.etag)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.set)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) publish(etag string, keys ...jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = jose.JSONWebKeySet{Keys: keys}
	s.etag = etag
}

func newKey(t *testing.T, kid string) (*ecdsa.PrivateKey, jose.JSONWebKey) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return priv, jose.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: "ES256", Use: "sig"}
}

func sign(t *testing.T, priv *ecdsa.PrivateKey, kid string, now time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": "checkout",
		"aud": "billing",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	})
	tok.Header["kid"] = kid
	compact, err := tok.SignedString(priv)
	require.NoError(t, err)
	return compact
}

func TestJWKSKeySource_RefreshesOnUnknownKid(t *testing.T) {
	srv := newJWKSServer(t)
	priv1, jwk1 := newKey(t, "kms:p:global:r:k:v1")
	srv.publish(`"1"`, jwk1)

	clk := testingclock.NewFakePassiveClock(time.Now())
	src := s2sverifier.NewJWKSKeySource(srv.URL, s2sverifier.WithClock(clk), s2sverifier.WithMinRefreshInterval(time.Minute))

	pub, err := src.PublicKey(context.Background(), jwk1.KeyID)
	require.NoError(t, err)
	assert.True(t, priv1.PublicKey.Equal(pub))
	assert.Equal(t, int32(1), srv.fetches.Load())

	// Cached.
	_, err = src.PublicKey(context.Background(), jwk1.KeyID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.fetches.Load())

	_, jwk2 := newKey(t, "kms:p:global:r:k:v2")
	srv.publish(`"2"`, jwk1, jwk2)

	// Unknown kid inside the throttle window does not refetch.
	_, err = src.PublicKey(context.Background(), jwk2.KeyID)
	assert.Error(t, err)
	assert.Equal(t, int32(1), srv.fetches.Load())

	clk.SetTime(clk.Now().Add(2 * time.Minute))
	_, err = src.PublicKey(context.Background(), jwk2.KeyID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.fetches.Load())
}

func TestJWKSKeySource_NotModifiedKeepsKeys(t *testing.T) {
	srv := newJWKSServer(t)
	_, jwk := newKey(t, "kid-1")
	srv.publish(`"1"`, jwk)

	src := s2sverifier.NewJWKSKeySource(srv.URL)
	require.NoError(t, src.Refresh(context.Background()))
	require.NoError(t, src.Refresh(context.Background()))
	assert.Equal(t, int32(2), srv.fetches.Load())

	_, err := src.PublicKey(context.Background(), "kid-1")
	assert.NoError(t, err)
}

func TestJWKSKeySource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := s2sverifier.NewJWKSKeySource(srv.URL).PublicKey(context.Background(), "kid")
	assert.Error(t, err)
}

func TestNewVerifier(t *testing.T) {
	srv := newJWKSServer(t)
	priv, jwk := newKey(t, "kms:p:global:r:k:v1")
	srv.publish(`"1"`, jwk)

	v, err := s2sverifier.NewVerifier(srv.URL, s2sverifier.Config{Audience: "billing", Issuers: []string{"checkout"}})
	require.NoError(t, err)

	var claims *s2sverifier.Claims
	claims, err = v.Verify(context.Background(), sign(t, priv, jwk.KeyID, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "checkout", claims.Issuer)
	assert.Equal(t, jwk.KeyID, claims.Kid)
	assert.Equal(t, []string{"billing"}, claims.Audience)

	forged, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	_, err = v.Verify(context.Background(), sign(t, forged, jwk.KeyID, time.Now()))
	assert.Error(t, err)
}

func TestNewVerifier_RejectsWrongAudienceAndBadConfig(t *testing.T) {
	srv := newJWKSServer(t)
	priv, jwk := newKey(t, "kid-1")
	srv.publish(`"1"`, jwk)

	_, err := s2sverifier.NewVerifier(srv.URL, s2sverifier.Config{})
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	v, err := s2sverifier.NewVerifier(srv.URL, s2sverifier.Config{Audience: "ledger", LeewaySec: 5})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), sign(t, priv, jwk.KeyID, time.Now()))
	assert.Error(t, err)
}
