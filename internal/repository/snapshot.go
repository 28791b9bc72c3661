package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/p2p-trade-client/internal/models"
)

// SnapshotRepo is a local, non-authoritative history of trade snapshots
// received from the backend.
type SnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

const snapshotColumns = `id, trade_id, state, updated_at, payload, received_at`

func (r *SnapshotRepo) Record(ctx context.Context, t *models.Trade) (*models.TradeSnapshot, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal trade %d: %w", t.ID, err)
	}
	updated := t.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO trade_snapshots (trade_id, state, updated_at, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+snapshotColumns,
		t.ID, string(t.Leg1State), updated, payload,
	)
	return scanSnapshot(row)
}

// Latest returns the most recent snapshot of a trade, or nil if none has
// been recorded.
func (r *SnapshotRepo) Latest(ctx context.Context, tradeID int64) (*models.TradeSnapshot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM trade_snapshots
		 WHERE trade_id = $1
		 ORDER BY updated_at DESC, id DESC LIMIT 1`,
		tradeID,
	)
	s, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// History returns up to limit snapshots of a trade, newest first.
func (r *SnapshotRepo) History(ctx context.Context, tradeID int64, limit int) ([]models.TradeSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM trade_snapshots
		 WHERE trade_id = $1
		 ORDER BY updated_at DESC, id DESC LIMIT $2`,
		tradeID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

func scanSnapshot(row scannable) (*models.TradeSnapshot, error) {
	var s models.TradeSnapshot
	var state string
	if err := row.Scan(&s.ID, &s.TradeID, &state, &s.UpdatedAt, &s.Payload, &s.ReceivedAt); err != nil {
		return nil, err
	}
	s.State = models.TradeState(state)
	return &s, nil
}

func collectSnapshots(rows rowsIter) ([]models.TradeSnapshot, error) {
	var out []models.TradeSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
