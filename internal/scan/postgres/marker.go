package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const claimSQL = `
INSERT INTO scan_markers (name, last_claim) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET last_claim = EXCLUDED.last_claim
WHERE scan_markers.last_claim <= $3
RETURNING last_claim`

// Marker claims scans through a shared table so one node runs each pass.
type Marker struct {
	pool *pgxpool.Pool
}

// NewMarker constructs a postgres marker.
func NewMarker(pool *pgxpool.Pool) (*Marker, error) {
	if pool == nil {
		return nil, errors.New("scan postgres: nil pool")
	}
	return &Marker{pool: pool}, nil
}

// Claim implements scan.Marker with a conditional upsert.
func (m *Marker) Claim(ctx context.Context, name string, now time.Time, period time.Duration) (bool, error) {
	var stored time.Time
	err := m.pool.QueryRow(ctx, claimSQL, name, now.UTC(), Threshold(now, period)).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Threshold is the latest previous claim time that still allows a new claim at now.
func Threshold(now time.Time, period time.Duration) time.Time {
	return now.UTC().Add(-period / 2)
}
