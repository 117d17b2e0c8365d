package apihttp

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"plantwatch/internal/archive"
	supervision "plantwatch/internal/supervision/domain"
)

const timeLayout = time.RFC3339

// HistoryHandler serves archived alarm and supervision history.
type HistoryHandler struct {
	reader archive.HistoryReader
}

// NewHistoryHandler constructs a HistoryHandler. A nil reader answers 503.
func NewHistoryHandler(reader archive.HistoryReader) *HistoryHandler {
	return &HistoryHandler{reader: reader}
}

// Alarms handles GET /api/v1/history/alarms. format=csv exports CSV.
func (h *HistoryHandler) Alarms(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reader == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return
	}
	query, err := parseHistoryQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query.ID = r.URL.Query().Get("alarm_id")

	rows, err := h.reader.AlarmHistory(r.Context(), query)
	if err != nil {
		http.Error(w, "query alarm history error", http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("format") != "csv" {
		writeJSON(w, http.StatusOK, nonNil(rows))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"alarm_id",
		"tag_id",
		"event",
		"state",
		"info",
		"oscillating",
		"alarm_time",
		"recorded_at",
	})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.AlarmID,
			row.TagID,
			row.Event,
			row.State,
			row.Info,
			strconv.FormatBool(row.Oscillating),
			formatTime(row.AlarmTime),
			formatTime(row.RecordedAt),
		})
	}
	writer.Flush()
}

// Supervision handles GET /api/v1/history/supervision. format=csv exports CSV.
func (h *HistoryHandler) Supervision(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reader == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return
	}
	query, err := parseHistoryQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query.Kind = r.URL.Query().Get("kind")
	if query.Kind != "" && !supervision.Kind(query.Kind).Valid() {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}
	query.ID = r.URL.Query().Get("id")

	rows, err := h.reader.SupervisionHistory(r.Context(), query)
	if err != nil {
		http.Error(w, "query supervision history error", http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("format") != "csv" {
		writeJSON(w, http.StatusOK, nonNil(rows))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"kind", "entity_id", "status", "status_time", "description", "recorded_at"})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.Kind,
			row.EntityID,
			row.Status,
			formatTime(row.StatusTime),
			row.Description,
			formatTime(row.RecordedAt),
		})
	}
	writer.Flush()
}

func parseHistoryQuery(r *http.Request) (archive.HistoryQuery, error) {
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		return archive.HistoryQuery{}, err
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		return archive.HistoryQuery{}, err
	}
	if !to.After(from) {
		return archive.HistoryQuery{}, errors.New("to must be after from")
	}
	return archive.HistoryQuery{From: from, To: to}, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
