package discovery

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
)

func newRedisAuthority(t *testing.T) (*RedisAuthority, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisAuthority(rdb, "", nil), mr
}

func TestRedisAuthority_Lookup(t *testing.T) {
	a, mr := newRedisAuthority(t)
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, models.TargetDescriptor{
		Env: "prod", Slug: "billing", Version: "v2", Host: "billing.internal", Port: 8443, Scheme: "https",
	}))
	assert.True(t, mr.Exists("s2s:services:prod:billing:v2"))

	got, err := a.LookupService(ctx, "prod", "billing", "v2")
	require.NoError(t, err)
	base, err := got.ResolvedBaseURL()
	require.NoError(t, err)
	assert.Equal(t, "https://billing.internal:8443", base)

	_, err = a.LookupService(ctx, "prod", "billing", "v3")
	assert.ErrorIs(t, err, service.ErrServiceNotFound)
}

func TestRedisAuthority_ListServices(t *testing.T) {
	a, mr := newRedisAuthority(t)
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, models.TargetDescriptor{Env: "prod", Slug: "billing", Version: "v1", BaseURL: "http://b1"}))
	require.NoError(t, a.Register(ctx, models.TargetDescriptor{Env: "dev", Slug: "orders", Version: "v1", BaseURL: "http://o1"}))
	mr.HSet("s2s:services:broken", "base_url", "http://x")
	mr.HSet("s2s:services:prod:bad:v1", "port", "eighty")

	list, err := a.ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	found, err := service.FindTarget(list, "dev", "orders", "v1")
	require.NoError(t, err)
	assert.Equal(t, "http://o1", found.BaseURL)
}

func TestRedisAuthority_Unreachable(t *testing.T) {
	a, mr := newRedisAuthority(t)
	mr.Close()
	_, err := a.LookupService(context.Background(), "prod", "billing", "v2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, service.ErrServiceNotFound)
}
