package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch/internal/auth"
	commands "plantwatch/internal/commands/domain"
)

type recordingExecutor struct {
	requests []commands.Request
}

func (e *recordingExecutor) Definitions() []commands.CommandTag {
	return []commands.CommandTag{{ID: "C1", ProcessID: "P1", EquipmentID: "E1"}}
}

func (e *recordingExecutor) ProcessRequest(_ context.Context, ids []string) []commands.Handle {
	handles := make([]commands.Handle, 0, len(ids))
	for _, id := range ids {
		handle := commands.Handle{ID: id}
		if id == "C1" {
			handle.Definition = &commands.CommandTag{ID: "C1"}
		}
		handles = append(handles, handle)
	}
	return handles
}

func (e *recordingExecutor) Execute(_ context.Context, req commands.Request) commands.Report {
	e.requests = append(e.requests, req)
	return commands.Report{RequestID: "R1", CommandID: req.CommandID, Status: commands.StatusProcessDown, Message: "process:P1 is DOWN"}
}

func newRouter(t *testing.T) (http.Handler, *recordingExecutor) {
	t.Helper()
	executor := &recordingExecutor{}
	handler, err := NewHandler(executor)
	require.NoError(t, err)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, executor
}

func TestExecuteReturnsReportAndStampsUser(t *testing.T) {
	router, executor := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(`{"command_id":"C1","value":42,"user":"spoofed"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleOperator, "alice"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var report commands.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, commands.StatusProcessDown, report.Status)

	require.Len(t, executor.requests, 1)
	assert.Equal(t, "alice", executor.requests[0].User)
	assert.Equal(t, int64(42), executor.requests[0].Value)
}

func TestExecuteRejectsMalformedRequests(t *testing.T) {
	router, executor := newRouter(t)

	for _, body := range []string{`{`, `{"value":1}`} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, resp.Code, body)
	}
	assert.Empty(t, executor.requests)
}

func TestLookupKeepsRequestOrder(t *testing.T) {
	router, _ := newRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/commands/lookup", strings.NewReader(`{"ids":["C9","C1"]}`)))
	require.Equal(t, http.StatusOK, resp.Code)

	var handles []commands.Handle
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&handles))
	require.Len(t, handles, 2)
	assert.Equal(t, "C9", handles[0].ID)
	assert.Nil(t, handles[0].Definition)
	require.NotNil(t, handles[1].Definition)
	assert.Equal(t, "C1", handles[1].Definition.ID)
}
