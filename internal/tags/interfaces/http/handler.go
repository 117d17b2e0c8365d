package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	tags "plantwatch/internal/tags/domain"
)

// TagService reads and updates tags.
type TagService interface {
	Get(id string) (tags.Tag, error)
	List() []tags.Tag
	Update(ctx context.Context, update tags.Update) error
}

// Handler provides tag HTTP endpoints.
type Handler struct {
	service TagService
}

// NewHandler constructs a handler.
func NewHandler(service TagService) (*Handler, error) {
	if service == nil {
		return nil, errors.New("tags handler: nil service")
	}
	return &Handler{service: service}, nil
}

// RegisterRoutes mounts the tag routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/tags", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/updates", h.handleUpdates)
		r.Get("/{id}", h.handleGet)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	kind := tags.Kind(r.URL.Query().Get("kind"))
	invalidOnly := r.URL.Query().Get("invalid") == "true"
	list := make([]tags.Tag, 0)
	for _, tag := range h.service.List() {
		if kind != "" && tag.Kind != kind {
			continue
		}
		if invalidOnly && tag.Valid() {
			continue
		}
		list = append(list, tag)
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tag, err := h.service.Get(chi.URLParam(r, "id"))
	if errors.Is(err, tags.ErrNotFound) {
		http.Error(w, "tag not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

type updateResult struct {
	TagID string `json:"tag_id"`
	Error string `json:"error,omitempty"`
}

// handleUpdates ingests a batch of acquisition updates. Each update is applied
// independently; the response lists per-update failures.
func (h *Handler) handleUpdates(w http.ResponseWriter, r *http.Request) {
	var updates []tags.Update
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	results := make([]updateResult, 0, len(updates))
	failed := 0
	for _, update := range updates {
		result := updateResult{TagID: update.TagID}
		if err := h.service.Update(r.Context(), update); err != nil {
			result.Error = err.Error()
			failed++
		}
		results = append(results, result)
	}
	status := http.StatusOK
	if failed > 0 && failed == len(updates) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, results)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
