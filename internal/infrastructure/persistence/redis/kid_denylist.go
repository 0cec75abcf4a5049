package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/s2s/pkg/errors"
)

const kidDenylistPrefix = "s2s:denied-kid:"

// KIDDenylist keeps compromised kids in Redis so every agent sharing the
// instance rejects tokens signed by them.
type KIDDenylist struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewKIDDenylist creates a denylist. A zero ttl keeps entries forever; a key
// version, once compromised, never becomes trustworthy again.
func NewKIDDenylist(rdb redis.UniversalClient, ttl time.Duration) *KIDDenylist {
	return &KIDDenylist{rdb: rdb, ttl: ttl}
}

// Deny records kid with the reported reason.
func (d *KIDDenylist) Deny(ctx context.Context, kid, reason string) error {
	if reason == "" {
		reason = "compromised"
	}
	if err := d.rdb.Set(ctx, kidDenylistPrefix+kid, reason, d.ttl).Err(); err != nil {
		return errors.Transport("cannot record compromised kid", err)
	}
	return nil
}

// IsDenied reports whether kid was denied.
func (d *KIDDenylist) IsDenied(ctx context.Context, kid string) (bool, error) {
	n, err := d.rdb.Exists(ctx, kidDenylistPrefix+kid).Result()
	if err != nil {
		return false, errors.Transport("cannot read key denylist", err)
	}
	return n == 1, nil
}
