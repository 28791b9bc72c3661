package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trade_snapshots (
		id          BIGSERIAL PRIMARY KEY,
		trade_id    BIGINT      NOT NULL,
		state       TEXT        NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		payload     JSONB       NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS trade_snapshots_trade_idx
		ON trade_snapshots (trade_id, updated_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id         BIGSERIAL PRIMARY KEY,
		timestamp  TIMESTAMPTZ      NOT NULL,
		token      TEXT             NOT NULL,
		fiat       TEXT             NOT NULL,
		price      DOUBLE PRECISION NOT NULL,
		source     TEXT             NOT NULL,
		created_at TIMESTAMPTZ      NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_pair_idx
		ON price_history (token, fiat, timestamp DESC)`,
}

// EnsureSchema creates the journal tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}
