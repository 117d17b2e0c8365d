package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository writes audit logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs an audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		return nil
	}
	return &Repository{pool: pool}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.pool == nil {
		return errors.New("audit repo: nil pool")
	}
	entry = Normalize(entry, time.Now())

	_, err := r.pool.Exec(ctx, `
INSERT INTO audit_logs (
	id, actor, action, resource_type, resource_id, outcome,
	metadata, payload_digest, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, entry.ID, entry.Actor, entry.Action, entry.ResourceType, entry.ResourceID, entry.Outcome,
		[]byte(entry.Metadata), entry.PayloadDigest, entry.CreatedAt)
	return err
}
