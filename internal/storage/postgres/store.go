package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns the shared connection pool.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore opens a pool and verifies connectivity.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

// Migrate creates the engine tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := s.Pool.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scan_markers (
	name TEXT PRIMARY KEY,
	last_claim TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS supervision_history (
	id UUID PRIMARY KEY,
	entity_kind TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	status TEXT NOT NULL,
	status_time TIMESTAMPTZ NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS alarm_history (
	id UUID PRIMARY KEY,
	alarm_id TEXT NOT NULL,
	tag_id TEXT NOT NULL,
	event TEXT NOT NULL,
	state TEXT NOT NULL,
	info TEXT NOT NULL DEFAULT '',
	oscillating BOOLEAN NOT NULL DEFAULT FALSE,
	alarm_time TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tag_history (
	id UUID PRIMARY KEY,
	tag_id TEXT NOT NULL,
	value JSONB,
	quality TEXT NOT NULL,
	source_time TIMESTAMPTZ,
	server_time TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	actor TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	payload_digest TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`,
}
