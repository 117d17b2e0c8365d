package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"plantwatch/internal/auth"
	commands "plantwatch/internal/commands/domain"
)

// Executor runs commands.
type Executor interface {
	Definitions() []commands.CommandTag
	ProcessRequest(ctx context.Context, ids []string) []commands.Handle
	Execute(ctx context.Context, req commands.Request) commands.Report
}

// Handler provides command HTTP endpoints.
type Handler struct {
	executor Executor
}

// NewHandler constructs a handler.
func NewHandler(executor Executor) (*Handler, error) {
	if executor == nil {
		return nil, errors.New("commands handler: nil executor")
	}
	return &Handler{executor: executor}, nil
}

// RegisterRoutes mounts the command routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/commands", h.handleList)
	r.Post("/api/v1/commands", h.handleExecute)
	r.Post("/api/v1/commands/lookup", h.handleLookup)
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.executor.Definitions())
}

type lookupRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.executor.ProcessRequest(r.Context(), req.IDs))
}

// handleExecute answers 200 with the report for every execution outcome; only
// malformed requests are rejected.
func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req commands.Request
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.CommandID) == "" {
		http.Error(w, "command_id is required", http.StatusBadRequest)
		return
	}
	req.Value = normalizeNumber(req.Value)
	if subject := auth.SubjectFromContext(r.Context()); subject != "" {
		req.User = subject
	}
	writeJSON(w, http.StatusOK, h.executor.Execute(r.Context(), req))
}

// normalizeNumber keeps integral JSON numbers integral.
func normalizeNumber(value any) any {
	number, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := number.Int64(); err == nil {
		return i
	}
	if f, err := number.Float64(); err == nil {
		return f
	}
	return number.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
