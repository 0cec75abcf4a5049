package kms

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/logger"
)

const publicKeyRedisPrefix = "s2s:pubkey:"

// publicKeyFetchTimeout bounds a shared fetch, which outlives any one caller.
const publicKeyFetchTimeout = 10 * time.Second

// PublicKeyCache resolves a kid to its verification key. Lookups go through an
// in-process map, then an optional Redis tier holding PEM, then the signing
// authority itself. Concurrent misses for one kid share a single fetch.
type PublicKeyCache struct {
	authority service.SignAuthority
	redis     redis.UniversalClient
	redisTTL  time.Duration
	logger    logger.Logger

	l1 sync.Map
	sf singleflight.Group
}

// NewPublicKeyCache creates a resolver backed by authority. rdb may be nil.
func NewPublicKeyCache(authority service.SignAuthority, rdb redis.UniversalClient, redisTTL time.Duration, log logger.Logger) *PublicKeyCache {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if redisTTL <= 0 {
		redisTTL = time.Hour
	}
	return &PublicKeyCache{
		authority: authority,
		redis:     rdb,
		redisTTL:  redisTTL,
		logger:    log.WithComponent("PublicKeyCache"),
	}
}

// PublicKey returns the public key for kid. A caller whose ctx ends stops
// waiting without failing the fetch other callers share.
func (c *PublicKeyCache) PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if key, ok := c.l1.Load(kid); ok {
		return key, nil
	}

	ch := c.sf.DoChan(kid, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publicKeyFetchTimeout)
		defer cancel()
		if c.redis != nil {
			pemData, err := c.redis.Get(ctx, publicKeyRedisPrefix+kid).Result()
			if err == nil {
				if pub, err := parsePublicKeyPEM(pemData); err == nil {
					c.l1.Store(kid, pub)
					return pub, nil
				}
			} else if err != redis.Nil {
				c.logger.Warn(ctx, "public key redis lookup failed", logger.Fields{"kid": kid, "error": err.Error()})
			}
		}

		name, err := models.ResourceNameFromKID(kid)
		if err != nil {
			return nil, err
		}
		pub, err := c.authority.GetPublicKey(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("fetch public key for %s: %w", kid, err)
		}

		c.l1.Store(kid, pub)
		if c.redis != nil {
			if pemData, err := encodePublicKeyPEM(pub); err == nil {
				if err := c.redis.Set(ctx, publicKeyRedisPrefix+kid, pemData, c.redisTTL).Err(); err != nil {
					c.logger.Warn(ctx, "public key redis store failed", logger.Fields{"kid": kid, "error": err.Error()})
				}
			}
		}
		return pub, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Forget drops kid from the in-process tier, e.g. after a key rotation.
func (c *PublicKeyCache) Forget(kid string) {
	c.l1.Delete(kid)
}

func encodePublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

var _ service.PublicKeyResolver = (*PublicKeyCache)(nil)
