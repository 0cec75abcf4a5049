// Package postgres manages the pgx connection pool behind the Postgres service
// registry.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

const (
	connectTimeout   = 10 * time.Second
	pingTimeout      = 5 * time.Second
	slowPingWarnedAt = 100 * time.Millisecond
)

// DBConnection manages the connection pool lifecycle.
type DBConnection struct {
	pool   *pgxpool.Pool
	cfg    config.DatabaseConfig
	logger logger.Logger
}

// NewDBConnection opens a pool from cfg and pings it once.
func NewDBConnection(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*DBConnection, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	log = log.WithComponent("DBConnection")
	if cfg.Host == "" {
		return nil, errors.Configuration("database.host", "is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, errors.Configuration("database", "invalid connection settings").WithCause(err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Minute
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = time.Duration(cfg.MaxConnIdleTime) * time.Minute
	}

	log.Info(ctx, "initializing postgres connection pool", logger.Fields{
		"host":      cfg.Host,
		"port":      cfg.Port,
		"database":  cfg.Database,
		"max_conns": poolConfig.MaxConns,
	})
	return Open(ctx, poolConfig, log)
}

// Open creates a pool from a parsed pgx config. Integration tests use it with
// the DSN of a throwaway container.
func Open(ctx context.Context, poolConfig *pgxpool.Config, log logger.Logger) (*DBConnection, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	db := &DBConnection{pool: pool, logger: log}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// Pool returns the underlying pool.
func (db *DBConnection) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping verifies the database answers and warns when it answers slowly.
func (db *DBConnection) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	if err := db.pool.Ping(pingCtx); err != nil {
		db.logger.Error(ctx, "database ping failed", err)
		return fmt.Errorf("postgres ping: %w", err)
	}
	if latency := time.Since(start); latency > slowPingWarnedAt {
		db.logger.Warn(ctx, "high database latency", logger.Duration(latency))
	}
	return nil
}

// Close shuts the pool down.
func (db *DBConnection) Close() {
	db.pool.Close()
	db.logger.Info(context.Background(), "postgres connection pool closed")
}
