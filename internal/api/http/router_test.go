package apihttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch/internal/archive"
	"plantwatch/internal/auth"
)

type stubHistory struct {
	last archive.HistoryQuery
}

func (s *stubHistory) AlarmHistory(_ context.Context, q archive.HistoryQuery) ([]archive.AlarmHistoryRow, error) {
	s.last = q
	return []archive.AlarmHistoryRow{{
		AlarmID:   "A1",
		TagID:     "T1",
		Event:     "ACTIVE",
		State:     "ACTIVE",
		AlarmTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}}, nil
}

func (s *stubHistory) SupervisionHistory(_ context.Context, q archive.HistoryQuery) ([]archive.SupervisionHistoryRow, error) {
	s.last = q
	return nil, nil
}

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(auth.SubjectFromContext(r.Context())))
	})
}

func TestHealthAndReadiness(t *testing.T) {
	ready := false
	router := NewRouter(RouterConfig{Ready: func() bool { return ready }})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	ready = true
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAlarmHistoryJSONAndCSV(t *testing.T) {
	history := &stubHistory{}
	router := NewRouter(RouterConfig{History: NewHistoryHandler(history)})

	url := "/api/v1/history/alarms?alarm_id=A1&from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z"
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var rows []archive.AlarmHistoryRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "A1", history.last.ID)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), history.last.To)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, url+"&format=csv", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alarm_id", records[0][0])
	assert.Equal(t, "2026-03-01T10:00:00Z", records[1][6])
}

func TestHistoryValidation(t *testing.T) {
	router := NewRouter(RouterConfig{History: NewHistoryHandler(&stubHistory{})})

	cases := map[string]int{
		"/api/v1/history/supervision?from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z":         http.StatusBadRequest,
		"/api/v1/history/supervision?from=yesterday&to=2026-03-01T00:00:00Z":                    http.StatusBadRequest,
		"/api/v1/history/supervision?kind=plant&from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z": http.StatusBadRequest,
		"/api/v1/history/supervision?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z":         http.StatusOK,
	}
	for url, want := range cases {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, want, resp.Code, url)
	}

	unconfigured := NewRouter(RouterConfig{})
	resp := httptest.NewRecorder()
	unconfigured.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/history/alarms", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestAuthAppliesToAPIRoutesOnly(t *testing.T) {
	secret := []byte("router-secret")
	verifier, err := auth.NewVerifier(secret, "", "")
	require.NoError(t, err)
	router := NewRouter(RouterConfig{
		Routes: []RouteRegistrar{pingRoutes{}},
		Auth:   auth.NewMiddleware(verifier, auth.NewDefaultPolicy("/healthz"), nil),
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bob",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "bob", resp.Body.String())
}
