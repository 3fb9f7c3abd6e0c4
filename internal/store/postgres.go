package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"gexflow/internal/models"
	"gexflow/logger"
)

// Postgres is the production Store. Dedup correctness relies entirely on the
// uniqueness constraints below, not on in-process locking; the pool is shared
// by every writer.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logger.Log
}

// NewPostgres connects to the given DSN and ensures the schema exists.
// Schema creation is idempotent and best-effort: a failure is logged, not
// fatal, since the constraint may already exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, log: logger.GetLogger()}
	p.ensureSchema(ctx)
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshot_ticks (
			feed_id        TEXT        NOT NULL,
			session_key    TEXT        NOT NULL,
			trading_day    TEXT        NOT NULL,
			minute_bucket  BIGINT      NOT NULL,
			sub_bucket     BIGINT      NOT NULL DEFAULT 0,
			payload        JSONB       NOT NULL,
			captured_utc   TIMESTAMPTZ NOT NULL,
			captured_local TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS snapshot_ticks_dedup
			ON snapshot_ticks (feed_id, session_key, trading_day, minute_bucket, sub_bucket)`,
		`CREATE TABLE IF NOT EXISTS snapshot_latest (
			feed_id        TEXT        NOT NULL,
			session_key    TEXT        NOT NULL,
			trading_day    TEXT        NOT NULL,
			minute_bucket  BIGINT      NOT NULL,
			payload        JSONB       NOT NULL,
			captured_utc   TIMESTAMPTZ NOT NULL,
			captured_local TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (feed_id, session_key, trading_day)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			p.log.WithComponent("store").WithError(err).Warn("schema statement failed; assuming schema already present")
		}
	}
}

// SaveTick inserts one tick record. A dedup-key conflict means another
// attempt already succeeded, so it reports saved=false with no error.
func (p *Postgres) SaveTick(ctx context.Context, rec models.SnapshotRecord) (bool, error) {
	ct, err := p.pool.Exec(ctx, `
		INSERT INTO snapshot_ticks (feed_id, session_key, trading_day, minute_bucket, sub_bucket, payload, captured_utc, captured_local)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (feed_id, session_key, trading_day, minute_bucket, sub_bucket) DO NOTHING
	`, rec.FeedID, rec.SessionKey, rec.TradingDay, rec.MinuteBucket, rec.SubBucket, rec.Payload, rec.CapturedUTC, rec.CapturedLocal)
	if err != nil {
		return false, fmt.Errorf("insert snapshot tick: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// SaveLatest upserts the latest record for the feed's key. saved reports a
// fresh insert; an overwrite of an existing row returns false.
func (p *Postgres) SaveLatest(ctx context.Context, rec models.SnapshotRecord) (bool, error) {
	var inserted bool
	err := p.pool.QueryRow(ctx, `
		INSERT INTO snapshot_latest (feed_id, session_key, trading_day, minute_bucket, payload, captured_utc, captured_local)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (feed_id, session_key, trading_day) DO UPDATE
		SET minute_bucket = EXCLUDED.minute_bucket,
		    payload = EXCLUDED.payload,
		    captured_utc = EXCLUDED.captured_utc,
		    captured_local = EXCLUDED.captured_local
		RETURNING (xmax = 0)
	`, rec.FeedID, rec.SessionKey, rec.TradingDay, rec.MinuteBucket, rec.Payload, rec.CapturedUTC, rec.CapturedLocal).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert latest snapshot: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
