package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	supervision "plantwatch/internal/supervision/domain"
)

// Supervisor is the slice of the supervision facade served over HTTP.
type Supervisor interface {
	List() []supervision.Record
	Get(ref supervision.Ref) (supervision.Record, error)
	ConnectProcess(ctx context.Context, processID, host string) (int64, error)
	DisconnectProcess(ctx context.Context, processID string, pik int64) error
}

// Handler provides supervision HTTP endpoints.
type Handler struct {
	supervisor Supervisor
}

// NewHandler constructs a handler.
func NewHandler(supervisor Supervisor) (*Handler, error) {
	if supervisor == nil {
		return nil, errors.New("supervision handler: nil supervisor")
	}
	return &Handler{supervisor: supervisor}, nil
}

// RegisterRoutes mounts the supervision routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/supervision", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{kind}/{id}", h.handleGet)
	})
	r.Route("/api/v1/processes/{id}", func(r chi.Router) {
		r.Post("/connect", h.handleConnect)
		r.Post("/disconnect", h.handleDisconnect)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	kind := supervision.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}
	list := make([]supervision.Record, 0)
	for _, record := range h.supervisor.List() {
		if kind != "" && record.Kind != kind {
			continue
		}
		list = append(list, record)
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	kind := supervision.Kind(strings.ToLower(chi.URLParam(r, "kind")))
	if !kind.Valid() {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}
	record, err := h.supervisor.Get(supervision.Ref{Kind: kind, ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type connectRequest struct {
	Host string `json:"host"`
}

type connectResponse struct {
	ProcessID string `json:"process_id"`
	PIK       int64  `json:"pik"`
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Host) == "" {
		http.Error(w, "host is required", http.StatusBadRequest)
		return
	}
	processID := chi.URLParam(r, "id")
	pik, err := h.supervisor.ConnectProcess(r.Context(), processID, req.Host)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{ProcessID: processID, PIK: pik})
}

type disconnectRequest struct {
	PIK json.Number `json:"pik"`
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	pik, err := strconv.ParseInt(req.PIK.String(), 10, 64)
	if err != nil {
		http.Error(w, "pik must be an integer", http.StatusBadRequest)
		return
	}
	if err := h.supervisor.DisconnectProcess(r.Context(), chi.URLParam(r, "id"), pik); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervision.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, supervision.ErrProcessConnected), errors.Is(err, supervision.ErrPIKMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
