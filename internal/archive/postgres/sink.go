package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	alarms "plantwatch/internal/alarms/domain"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

// Sink appends history rows.
type Sink struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSink constructs a history sink.
func NewSink(pool *pgxpool.Pool) (*Sink, error) {
	if pool == nil {
		return nil, errors.New("archive postgres: nil pool")
	}
	return &Sink{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SupervisionChanged implements archive.Sink.
func (s *Sink) SupervisionChanged(ctx context.Context, record supervision.Record) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO supervision_history (id, entity_kind, entity_id, status, status_time, description, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.New(), string(record.Kind), record.ID, string(record.Status), record.StatusTime, record.Description, s.now())
	return err
}

// AlarmPublished implements archive.Sink.
func (s *Sink) AlarmPublished(ctx context.Context, event string, alarm alarms.Alarm) error {
	at := alarm.Published.Timestamp
	if at.IsZero() {
		at = alarm.Timestamp
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO alarm_history (id, alarm_id, tag_id, event, state, info, oscillating, alarm_time, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		uuid.New(), alarm.ID, alarm.TagID, event, string(alarm.Published.State), alarm.Published.Info,
		alarm.Oscillating(), at, s.now())
	return err
}

// TagUpdated implements archive.Sink.
func (s *Sink) TagUpdated(ctx context.Context, tag tags.Tag) error {
	value, err := json.Marshal(tag.Value)
	if err != nil {
		return err
	}
	var sourceTime *time.Time
	if !tag.SourceTime.IsZero() {
		sourceTime = &tag.SourceTime
	}
	serverTime := tag.ServerTime
	if serverTime.IsZero() {
		serverTime = s.now()
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO tag_history (id, tag_id, value, quality, source_time, server_time)
VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.New(), tag.ID, value, tag.Quality.String(), sourceTime, serverTime)
	return err
}
