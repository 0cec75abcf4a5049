package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/s2s/pkg/errors"
)

func TestKIDDenylist(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	d := NewKIDDenylist(rdb, 0)
	denied, err := d.IsDenied(ctx, "kms:p:global:r:k:v1")
	require.NoError(t, err)
	assert.False(t, denied)

	require.NoError(t, d.Deny(ctx, "kms:p:global:r:k:v1", ""))
	denied, err = d.IsDenied(ctx, "kms:p:global:r:k:v1")
	require.NoError(t, err)
	assert.True(t, denied)

	reason, err := mr.Get(kidDenylistPrefix + "kms:p:global:r:k:v1")
	require.NoError(t, err)
	assert.Equal(t, "compromised", reason)
	assert.Zero(t, mr.TTL(kidDenylistPrefix+"kms:p:global:r:k:v1"))
}

func TestKIDDenylist_TTLAndFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	d := NewKIDDenylist(rdb, time.Hour)
	require.NoError(t, d.Deny(ctx, "kid", "leaked"))
	assert.Equal(t, time.Hour, mr.TTL(kidDenylistPrefix+"kid"))

	mr.Close()
	_, err := d.IsDenied(ctx, "kid")
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.True(t, errors.Is(d.Deny(ctx, "kid", "x"), errors.ErrTransport))
}
