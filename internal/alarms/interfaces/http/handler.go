package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	alarms "plantwatch/internal/alarms/domain"
)

// AlarmReader lists alarms.
type AlarmReader interface {
	List() []alarms.Alarm
	Get(id string) (alarms.Alarm, error)
}

// Handler provides alarm HTTP endpoints.
type Handler struct {
	alarms AlarmReader
	broker *SSEBroker
}

// NewHandler constructs a handler.
func NewHandler(reader AlarmReader, broker *SSEBroker) (*Handler, error) {
	if reader == nil {
		return nil, errors.New("alarms handler: nil reader")
	}
	if broker == nil {
		return nil, errors.New("alarms handler: nil broker")
	}
	return &Handler{alarms: reader, broker: broker}, nil
}

// RegisterRoutes mounts the alarm routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/alarms", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/stream", h.broker.ServeStream)
		r.Get("/{id}", h.handleGet)
	})
}

// handleList serves the published view. Query filters: state, tag_id, oscillating.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := alarms.State(query.Get("state"))
	if state != "" && !state.Valid() {
		http.Error(w, "state must be ACTIVE or TERMINATE", http.StatusBadRequest)
		return
	}
	tagID := query.Get("tag_id")
	oscillatingOnly := query.Get("oscillating") == "true"

	list := make([]alarms.Alarm, 0)
	for _, alarm := range h.alarms.List() {
		if state != "" && alarm.Published.State != state {
			continue
		}
		if tagID != "" && alarm.TagID != tagID {
			continue
		}
		if oscillatingOnly && !alarm.Oscillating() {
			continue
		}
		list = append(list, alarm)
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	alarm, err := h.alarms.Get(chi.URLParam(r, "id"))
	if errors.Is(err, alarms.ErrNotFound) {
		http.Error(w, "alarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alarm)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
