// Package postgres stores the listing identity index in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/identity"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the index.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryCloser interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Resolver maps identity keys to listing ids with an upsert.
//
// Expected schema:
//
//	CREATE TABLE listing_identities (
//	    key        TEXT PRIMARY KEY,
//	    listing_id TEXT NOT NULL,
//	    source_url TEXT NOT NULL,
//	    vin        TEXT NOT NULL DEFAULT '',
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type Resolver struct {
	pool   queryCloser
	table  string
	hasher listing.Hasher
	ids    listing.IDGenerator
}

// New connects a pool and returns a Resolver.
func New(ctx context.Context, cfg Config, hasher listing.Hasher, ids listing.IDGenerator) (*Resolver, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("identity.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	r, err := NewWithPool(pool, cfg.Table, hasher, ids)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// NewWithPool constructs a Resolver from an existing pool (primarily for testing).
func NewWithPool(pool queryCloser, table string, hasher listing.Hasher, ids listing.IDGenerator) (*Resolver, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "listing_identities"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Resolver{pool: pool, table: table, hasher: hasher, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (r *Resolver) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Resolve implements listing.IdentityResolver. A candidate id is generated up
// front; the upsert returns whichever id the row already held.
func (r *Resolver) Resolve(ctx context.Context, sourceURL, vin string) (string, bool, error) {
	key, err := identity.Key(r.hasher, sourceURL, vin)
	if err != nil {
		return "", false, &listing.PersistenceError{Kind: listing.PersistIdentity, Err: err}
	}
	candidate, err := r.ids.NewID()
	if err != nil {
		return "", false, &listing.PersistenceError{Kind: listing.PersistIdentity, Err: err}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, listing_id, source_url, vin)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET key = EXCLUDED.key
RETURNING listing_id`, r.table)

	var id string
	if err := r.pool.QueryRow(ctx, query, key, candidate, identity.NormalizeURL(sourceURL), vin).Scan(&id); err != nil {
		return "", false, &listing.PersistenceError{
			Kind: listing.PersistIdentity,
			Err:  fmt.Errorf("upsert identity: %w", err),
		}
	}
	return id, id == candidate, nil
}
