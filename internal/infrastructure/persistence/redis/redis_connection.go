// Package redis manages the Redis client shared by the discovery registry and
// the public key cache. One address connects standalone, several connect to a
// cluster.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

const (
	defaultPoolSize     = 10
	defaultMinIdleConns = 2
	dialTimeout         = 5 * time.Second
	ioTimeout           = 3 * time.Second
)

// RedisConnection owns the client lifecycle.
type RedisConnection struct {
	cfg    config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisConnection creates a connection manager. It does not dial.
func NewRedisConnection(cfg config.RedisConfig, log logger.Logger) *RedisConnection {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &RedisConnection{cfg: cfg, logger: log.WithComponent("RedisConnection")}
}

// Connect builds the client and verifies it with a ping.
func (rc *RedisConnection) Connect(ctx context.Context) error {
	if rc.client != nil {
		return nil
	}
	if len(rc.cfg.Addresses) == 0 {
		return errors.Configuration("redis.addresses", "at least one address is required")
	}

	opts := &redis.UniversalOptions{
		Addrs:        rc.cfg.Addresses,
		Password:     rc.cfg.Password,
		DB:           rc.cfg.DB,
		PoolSize:     rc.cfg.PoolSize,
		MinIdleConns: rc.cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = defaultMinIdleConns
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		rc.logger.Error(ctx, "redis ping failed", err, logger.Fields{"addresses": rc.cfg.Addresses})
		return fmt.Errorf("redis ping failed: %w", err)
	}

	rc.client = client
	rc.logger.Info(ctx, "redis connection established", logger.Fields{
		"addresses": rc.cfg.Addresses,
		"pool_size": opts.PoolSize,
	})
	return nil
}

// Client returns the connected client, or nil before Connect succeeds.
func (rc *RedisConnection) Client() redis.UniversalClient {
	return rc.client
}

// Ping checks connectivity.
func (rc *RedisConnection) Ping(ctx context.Context) error {
	if rc.client == nil {
		return fmt.Errorf("redis connection not initialized")
	}
	return rc.client.Ping(ctx).Err()
}

// Close releases the client. Closing twice is a no-op.
func (rc *RedisConnection) Close() error {
	if rc.client == nil {
		return nil
	}
	err := rc.client.Close()
	rc.client = nil
	if err != nil {
		rc.logger.Error(context.Background(), "failed to close redis connection", err)
		return err
	}
	rc.logger.Info(context.Background(), "redis connection closed")
	return nil
}
