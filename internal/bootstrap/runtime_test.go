package bootstrap

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/s2s/internal/application"
	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/errors"
)

const registry = `services:
  - env: prod
    slug: billing
    version: v2
    baseUrl: http://billing:8080/api
`

type transportFunc func(ctx context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error)

func (f transportFunc) Execute(ctx context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error) {
	return f(ctx, req)
}

func int64p(v int64) *int64 { return &v }

func localConfig(t *testing.T, alg string) *config.Config {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registry), 0o600))
	return &config.Config{
		Service: config.ServiceConfig{Name: "billing", Env: "prod"},
		S2S: config.S2SConfig{
			Issuer: "checkout",
			SigningKey: config.SigningKeyConfig{
				Project: "proj", Location: "global", KeyRing: "ring", Key: "s2s", Version: "1", Algorithm: alg,
			},
			TargetCacheTTLMs: int64p(60000),
			EarlyRefreshSec:  int64p(30),
			ClockSkewSec:     int64p(5),
			TokenTTLSec:      300,
		},
		Signer:    config.SignerConfig{Provider: "local"},
		Discovery: config.DiscoveryConfig{Provider: "static", File: path},
	}
}

func TestBuild_LocalSignerRoundTrip(t *testing.T) {
	for _, alg := range []string{"RS256", "PS256", "ES256", "ES384"} {
		t.Run(alg, func(t *testing.T) {
			var seen *service.OutboundRequest
			rt, err := Build(context.Background(), localConfig(t, alg), nil, Options{
				Registerer: prometheus.NewRegistry(),
				Transport: transportFunc(func(_ context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error) {
					seen = req
					return &service.OutboundResponse{Status: http.StatusOK, Body: []byte("ok")}, nil
				}),
			})
			require.NoError(t, err)
			defer rt.Close()

			res, err := rt.Dispatcher.Call(context.Background(), application.CallRequest{
				Env: "prod", Slug: "billing", Version: "v2", Path: "/charges",
			})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, res.Status)
			assert.Equal(t, "ok", res.BodyText)
			require.NotNil(t, seen)
			assert.Equal(t, "http://billing:8080/api/charges", seen.URL)

			auth := seen.Headers.Get(constants.HeaderAuthorization)
			require.True(t, strings.HasPrefix(auth, constants.BearerScheme+" "))
			require.NotNil(t, rt.Verifier)
			claims, err := rt.Verifier.Verify(context.Background(), strings.TrimPrefix(auth, constants.BearerScheme+" "))
			require.NoError(t, err)
			assert.Equal(t, "checkout", claims.Issuer)
			assert.Equal(t, "kms:proj:global:ring:s2s:v1", claims.Kid)
		})
	}
}

func TestBuild_NoVerifierWithoutServiceName(t *testing.T) {
	cfg := localConfig(t, "ES256")
	cfg.Service.Name = ""
	rt, err := Build(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Verifier)
	assert.NotNil(t, rt.KeyRotation)
	assert.Nil(t, rt.Redis)
	assert.Nil(t, rt.DB)
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	cfg := localConfig(t, "ES256")
	cfg.S2S.ClockSkewSec = nil

	rt, err := Build(context.Background(), cfg, nil, Options{})
	assert.Nil(t, rt)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestBuild_DisabledWithoutTransportRefuses(t *testing.T) {
	cfg := localConfig(t, "ES256")
	cfg.S2S.Disabled = true
	rt, err := Build(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Dispatcher.Call(context.Background(), application.CallRequest{Env: "prod", Slug: "billing", Version: "v2"})
	assert.True(t, errors.Is(err, errors.ErrPolicyBlocked))
}

func TestBuild_ProcessWideSharesTokenService(t *testing.T) {
	application.ResetDefaultBearerTokenService()
	t.Cleanup(application.ResetDefaultBearerTokenService)

	first, err := Build(context.Background(), localConfig(t, "ES256"), nil, Options{ProcessWide: true})
	require.NoError(t, err)
	defer first.Close()
	second, err := Build(context.Background(), localConfig(t, "ES256"), nil, Options{ProcessWide: true})
	require.NoError(t, err)
	defer second.Close()
	isolated, err := Build(context.Background(), localConfig(t, "ES256"), nil, Options{})
	require.NoError(t, err)
	defer isolated.Close()

	assert.Same(t, first.Tokens, second.Tokens)
	assert.Same(t, application.DefaultBearerTokenService(application.BearerDeps{}), first.Tokens)
	assert.NotSame(t, first.Tokens, isolated.Tokens)
}
