package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/pkg/errors"
)

func TestNew_SelectsProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	file := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(file, []byte(registryV2), 0o600))

	a, err := New(context.Background(), config.DiscoveryConfig{Provider: "redis"}, Backends{Redis: rdb}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisAuthority{}, a)

	a, err = New(context.Background(), config.DiscoveryConfig{Provider: "http", URL: "http://registry"}, Backends{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPAuthority{}, a)

	a, err = New(context.Background(), config.DiscoveryConfig{Provider: "static", File: file}, Backends{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &StaticAuthority{}, a)
}

func TestNew_Misconfigured(t *testing.T) {
	tests := []struct {
		cfg     config.DiscoveryConfig
		setting string
	}{
		{config.DiscoveryConfig{Provider: "redis"}, "redis.addresses"},
		{config.DiscoveryConfig{Provider: "postgres"}, "database.host"},
		{config.DiscoveryConfig{Provider: "http"}, "discovery.url"},
		{config.DiscoveryConfig{Provider: "static"}, "discovery.file"},
		{config.DiscoveryConfig{Provider: "consul"}, "discovery.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Provider, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg, Backends{}, nil)
			require.True(t, errors.Is(err, errors.ErrConfiguration))
			s2sErr, _ := errors.AsS2SError(err)
			assert.Equal(t, tt.setting, s2sErr.Metadata()["setting"])
		})
	}
}
