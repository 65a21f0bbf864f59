// Package postgres records scrape batch history in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
)

// Batch and listing result statuses as stored.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
	StatusFailed  = "failed"
)

type execCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Config controls the connection pool.
type Config struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// BatchStore is a progress sink that keeps one row per batch and one row per
// finished listing.
//
// Expected schema:
//
//	CREATE TABLE scrape_batches (
//	    batch_id      UUID PRIMARY KEY,
//	    search_url    TEXT NOT NULL DEFAULT '',
//	    started_at    TIMESTAMPTZ NOT NULL,
//	    finished_at   TIMESTAMPTZ,
//	    status        TEXT NOT NULL,
//	    listings      INT NOT NULL DEFAULT 0,
//	    succeeded     INT NOT NULL DEFAULT 0,
//	    failed        INT NOT NULL DEFAULT 0,
//	    retries       INT NOT NULL DEFAULT 0,
//	    error_message TEXT
//	);
//	CREATE TABLE listing_results (
//	    batch_id       UUID NOT NULL REFERENCES scrape_batches (batch_id),
//	    url            TEXT NOT NULL,
//	    listing_id     TEXT NOT NULL DEFAULT '',
//	    status         TEXT NOT NULL,
//	    kind           TEXT NOT NULL DEFAULT '',
//	    attempts       INT NOT NULL,
//	    images         INT NOT NULL DEFAULT 0,
//	    missing_images INT NOT NULL DEFAULT 0,
//	    duration_ms    BIGINT NOT NULL,
//	    note           TEXT NOT NULL DEFAULT '',
//	    recorded_at    TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (batch_id, url)
//	);
type BatchStore struct {
	pool execCloser
}

// NewBatchStore connects a pool.
func NewBatchStore(ctx context.Context, cfg Config) (*BatchStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return NewBatchStoreWithPool(pool), nil
}

// NewBatchStoreWithPool wraps an existing pool. Tests pass a pgxmock pool.
func NewBatchStoreWithPool(pool execCloser) *BatchStore {
	return &BatchStore{pool: pool}
}

const (
	insertBatch = `
		INSERT INTO scrape_batches (batch_id, search_url, started_at, status, listings)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (batch_id) DO UPDATE
		SET listings = GREATEST(scrape_batches.listings, EXCLUDED.listings);
	`

	countRetry = `UPDATE scrape_batches SET retries = retries + 1 WHERE batch_id = $1;`

	insertResult = `
		INSERT INTO listing_results
			(batch_id, url, listing_id, status, kind, attempts, images, missing_images, duration_ms, note, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (batch_id, url) DO NOTHING;
	`

	finishBatch = `
		UPDATE scrape_batches AS b
		SET finished_at = $2,
			status = $3,
			error_message = $4,
			succeeded = (SELECT count(*) FROM listing_results r WHERE r.batch_id = b.batch_id AND r.status = 'done'),
			failed = (SELECT count(*) FROM listing_results r WHERE r.batch_id = b.batch_id AND r.status = 'failed')
		WHERE b.batch_id = $1;
	`
)

// Consume writes each event in order. LISTING_START carries nothing worth
// storing and is skipped. Every event is attempted; errors are joined.
func (s *BatchStore) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if err := s.write(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", evt.Stage, evt.BatchID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *BatchStore) write(ctx context.Context, evt progress.Event) error {
	var err error
	switch evt.Stage {
	case progress.StageBatchStart:
		_, err = s.pool.Exec(ctx, insertBatch, evt.BatchID, evt.URL, evt.TS, StatusRunning, evt.Listings)
	case progress.StageListingRetry:
		_, err = s.pool.Exec(ctx, countRetry, evt.BatchID)
	case progress.StageListingDone, progress.StageListingFailed:
		status := StatusDone
		if evt.Stage == progress.StageListingFailed {
			status = StatusFailed
		}
		_, err = s.pool.Exec(ctx, insertResult,
			evt.BatchID,
			evt.URL,
			evt.ListingID,
			status,
			evt.Kind,
			evt.Attempt,
			evt.Images,
			evt.MissingImages,
			evt.Dur.Milliseconds(),
			evt.Note,
			evt.TS,
		)
	case progress.StageBatchDone, progress.StageBatchError:
		status := StatusDone
		var errMsg *string
		if evt.Stage == progress.StageBatchError {
			status = StatusError
			note := evt.Note
			errMsg = &note
		}
		_, err = s.pool.Exec(ctx, finishBatch, evt.BatchID, evt.TS, status, errMsg)
	}
	return err
}

// Close closes the pool.
func (s *BatchStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
