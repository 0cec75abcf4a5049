package discovery

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/logger"
)

// RegistrySchema creates the service registry table.
const RegistrySchema = `
CREATE TABLE IF NOT EXISTS s2s_services (
	env        TEXT NOT NULL,
	slug       TEXT NOT NULL,
	version    TEXT NOT NULL,
	base_url   TEXT NOT NULL DEFAULT '',
	scheme     TEXT NOT NULL DEFAULT '',
	host       TEXT NOT NULL DEFAULT '',
	port       INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (env, slug, version)
)`

const (
	selectService = `SELECT base_url, scheme, host, port FROM s2s_services WHERE env = $1 AND slug = $2 AND version = $3`
	selectAll     = `SELECT env, slug, version, base_url, scheme, host, port FROM s2s_services ORDER BY env, slug, version`
	upsertService = `
INSERT INTO s2s_services (env, slug, version, base_url, scheme, host, port, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (env, slug, version) DO UPDATE
SET base_url = EXCLUDED.base_url, scheme = EXCLUDED.scheme, host = EXCLUDED.host,
    port = EXCLUDED.port, updated_at = now()`
)

// PgxQuerier is the subset of *pgxpool.Pool the registry needs.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresAuthority reads the registry from the s2s_services table.
type PostgresAuthority struct {
	db     PgxQuerier
	logger logger.Logger
}

// NewPostgresAuthority creates an authority over db.
func NewPostgresAuthority(db PgxQuerier, log logger.Logger) *PostgresAuthority {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &PostgresAuthority{db: db, logger: log.WithComponent("PostgresAuthority")}
}

// EnsureSchema creates the registry table when missing.
func (a *PostgresAuthority) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, RegistrySchema); err != nil {
		return fmt.Errorf("create registry table: %w", err)
	}
	return nil
}

// LookupService implements service.DiscoveryAuthority.
func (a *PostgresAuthority) LookupService(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error) {
	t := &models.TargetDescriptor{Env: env, Slug: slug, Version: version}
	err := a.db.QueryRow(ctx, selectService, env, slug, version).Scan(&t.BaseURL, &t.Scheme, &t.Host, &t.Port)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres registry lookup: %w", err)
	}
	return t, nil
}

// ListServices implements service.ServiceLister.
func (a *PostgresAuthority) ListServices(ctx context.Context) ([]models.TargetDescriptor, error) {
	rows, err := a.db.Query(ctx, selectAll)
	if err != nil {
		return nil, fmt.Errorf("postgres registry list: %w", err)
	}
	defer rows.Close()

	var out []models.TargetDescriptor
	for rows.Next() {
		var t models.TargetDescriptor
		if err := rows.Scan(&t.Env, &t.Slug, &t.Version, &t.BaseURL, &t.Scheme, &t.Host, &t.Port); err != nil {
			return nil, fmt.Errorf("postgres registry scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres registry list: %w", err)
	}
	return out, nil
}

// Register upserts a target.
func (a *PostgresAuthority) Register(ctx context.Context, t models.TargetDescriptor) error {
	_, err := a.db.Exec(ctx, upsertService, t.Env, t.Slug, t.Version, t.BaseURL, t.Scheme, t.Host, t.Port)
	if err != nil {
		a.logger.Error(ctx, "registry upsert failed", err, logger.String("key", t.Key()))
		return fmt.Errorf("postgres registry write: %w", err)
	}
	return nil
}

var (
	_ service.DiscoveryAuthority = (*PostgresAuthority)(nil)
	_ service.ServiceLister      = (*PostgresAuthority)(nil)
)
