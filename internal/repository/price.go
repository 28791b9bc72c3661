package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PricePoint is one recorded token/fiat quote.
type PricePoint struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Token     string    `json:"token"`
	Fiat      string    `json:"fiat"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

type PriceRepo struct {
	pool *pgxpool.Pool
}

func NewPriceRepo(pool *pgxpool.Pool) *PriceRepo {
	return &PriceRepo{pool: pool}
}

const priceColumns = `id, timestamp, token, fiat, price, source, created_at`

func (r *PriceRepo) Record(ctx context.Context, p PricePoint) (*PricePoint, error) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO price_history (timestamp, token, fiat, price, source)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+priceColumns,
		p.Timestamp, p.Token, p.Fiat, p.Price, p.Source,
	)
	return scanPrice(row)
}

// GetLatest returns the newest quote for the pair, or nil if none exists.
func (r *PriceRepo) GetLatest(ctx context.Context, token, fiat string) (*PricePoint, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+priceColumns+` FROM price_history
		 WHERE token = $1 AND fiat = $2
		 ORDER BY timestamp DESC LIMIT 1`,
		token, fiat,
	)
	p, err := scanPrice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *PriceRepo) GetSince(ctx context.Context, token, fiat string, since time.Time) ([]PricePoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+priceColumns+` FROM price_history
		 WHERE token = $1 AND fiat = $2 AND timestamp >= $3
		 ORDER BY timestamp ASC`,
		token, fiat, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PricePoint
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPrice(row scannable) (*PricePoint, error) {
	var p PricePoint
	err := row.Scan(&p.ID, &p.Timestamp, &p.Token, &p.Fiat, &p.Price, &p.Source, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
