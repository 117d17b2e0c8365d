package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"plantwatch/internal/archive"
)

// History reads archived history rows.
type History struct {
	pool *pgxpool.Pool
}

// NewHistory constructs a history reader.
func NewHistory(pool *pgxpool.Pool) (*History, error) {
	if pool == nil {
		return nil, errors.New("archive postgres: nil pool")
	}
	return &History{pool: pool}, nil
}

// AlarmHistory implements archive.HistoryReader. q.ID filters by alarm id.
func (h *History) AlarmHistory(ctx context.Context, q archive.HistoryQuery) ([]archive.AlarmHistoryRow, error) {
	rows, err := h.pool.Query(ctx, `
SELECT
	alarm_id,
	tag_id,
	event,
	state,
	info,
	oscillating,
	alarm_time,
	recorded_at
FROM alarm_history
WHERE ($1 = '' OR alarm_id = $1)
	AND alarm_time >= $2
	AND alarm_time < $3
ORDER BY alarm_time ASC, recorded_at ASC`, q.ID, q.From.UTC(), q.To.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []archive.AlarmHistoryRow
	for rows.Next() {
		var row archive.AlarmHistoryRow
		if err := rows.Scan(
			&row.AlarmID,
			&row.TagID,
			&row.Event,
			&row.State,
			&row.Info,
			&row.Oscillating,
			&row.AlarmTime,
			&row.RecordedAt,
		); err != nil {
			return nil, err
		}
		row.AlarmTime = row.AlarmTime.UTC()
		row.RecordedAt = row.RecordedAt.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SupervisionHistory implements archive.HistoryReader. q.Kind and q.ID filter by entity.
func (h *History) SupervisionHistory(ctx context.Context, q archive.HistoryQuery) ([]archive.SupervisionHistoryRow, error) {
	rows, err := h.pool.Query(ctx, `
SELECT
	entity_kind,
	entity_id,
	status,
	status_time,
	description,
	recorded_at
FROM supervision_history
WHERE ($1 = '' OR entity_kind = $1)
	AND ($2 = '' OR entity_id = $2)
	AND status_time >= $3
	AND status_time < $4
ORDER BY status_time ASC, recorded_at ASC`, q.Kind, q.ID, q.From.UTC(), q.To.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []archive.SupervisionHistoryRow
	for rows.Next() {
		var row archive.SupervisionHistoryRow
		if err := rows.Scan(
			&row.Kind,
			&row.EntityID,
			&row.Status,
			&row.StatusTime,
			&row.Description,
			&row.RecordedAt,
		); err != nil {
			return nil, err
		}
		row.StatusTime = row.StatusTime.UTC()
		row.RecordedAt = row.RecordedAt.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var _ archive.HistoryReader = (*History)(nil)
