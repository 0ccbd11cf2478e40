package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/fencewatch/internal/adapter/http"
	"github.com/couchcryptid/fencewatch/internal/alert"
	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockTracking struct {
	saved []domain.TrackingPoint
	err   error
}

func (m *mockTracking) SaveTracking(_ context.Context, p domain.TrackingPoint) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, p)
	return "trk-1", nil
}

type mockAlerts struct {
	events []domain.AlertEvent
	result alert.Result
	err    error
}

func (m *mockAlerts) Record(_ context.Context, e domain.AlertEvent) (alert.Result, error) {
	m.events = append(m.events, e)
	return m.result, m.err
}

type fixture struct {
	srv      *httpadapter.Server
	tracking *mockTracking
	alerts   *mockAlerts
}

func newFixture(readyErr error) *fixture {
	f := &fixture{
		tracking: &mockTracking{},
		alerts:   &mockAlerts{result: alert.Result{ID: "evt-1", Notified: true}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.srv = httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, f.tracking, f.alerts, logger)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthzReturns200(t *testing.T) {
	for _, path := range []string{"/healthz", "/health"} {
		rec := newFixture(nil).do(http.MethodGet, path, "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decode(t, rec)["status"])
	}
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := newFixture(fmt.Errorf("no evaluation pass has completed yet")).do(http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no evaluation pass has completed yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIndexListsEndpoints(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Contains(t, body["endpoints"], "/save-tracking (POST)")
}

func TestSaveTracking(t *testing.T) {
	f := newFixture(nil)
	rec := f.do(http.MethodPost, "/save-tracking",
		`{"type":"Feature","properties":{"userId":"u-1","accuracy":12},"geometry":{"type":"Point","coordinates":[123.73,13.14]}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "trk-1", body["id"])

	require.Len(t, f.tracking.saved, 1)
	assert.Equal(t, orb.Point{123.73, 13.14}, f.tracking.saved[0].Geometry)
	assert.Equal(t, "u-1", f.tracking.saved[0].Properties["userId"])
}

func TestSaveTracking_BadRequests(t *testing.T) {
	tests := map[string]string{
		"not json":    `{"type":`,
		"not feature": `{"type":"Point","coordinates":[1,2]}`,
		"no geometry": `{"type":"Feature","properties":{},"geometry":null}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(nil)
			rec := f.do(http.MethodPost, "/save-tracking", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, decode(t, rec)["success"])
			assert.Empty(t, f.tracking.saved)
		})
	}
}

func TestSaveTracking_StoreFailure(t *testing.T) {
	f := newFixture(nil)
	f.tracking.err = errors.New("connection reset")

	rec := f.do(http.MethodPost, "/save-tracking",
		`{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLogAlertEvent(t *testing.T) {
	f := newFixture(nil)
	rec := f.do(http.MethodPost, "/log-alert-event",
		`{"userId":"u-1","timestamp":"2026-07-14T09:30:00.000Z","fenceName":"Legazpi port","email":"rider@example.com"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "evt-1", body["id"])
	assert.Equal(t, true, body["notified"])

	require.Len(t, f.alerts.events, 1)
	assert.Equal(t, domain.AlertEvent{
		UserID:     "u-1",
		FenceName:  "Legazpi port",
		Email:      "rider@example.com",
		OccurredAt: time.Date(2026, 7, 14, 9, 30, 0, 0, time.UTC),
	}, f.alerts.events[0])
}

func TestLogAlertEvent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"invalid json", `{"userId":`, nil, http.StatusBadRequest},
		{"bad timestamp", `{"userId":"u","fenceName":"f","timestamp":"yesterday"}`, nil, http.StatusBadRequest},
		{"invalid event", `{"userId":"","fenceName":"f"}`, fmt.Errorf("%w: userId is required", alert.ErrInvalidEvent), http.StatusBadRequest},
		{"storage failure", `{"userId":"u","fenceName":"f"}`, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			f.alerts.err = tt.err

			rec := f.do(http.MethodPost, "/log-alert-event", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, false, decode(t, rec)["success"])
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := newFixture(nil).do(http.MethodOptions, "/save-tracking", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAllReady(t *testing.T) {
	ok := &mockReadiness{}
	bad := &mockReadiness{err: errors.New("db unreachable")}

	assert.NoError(t, httpadapter.AllReady(ok, ok).CheckReadiness(context.Background()))
	err := httpadapter.AllReady(ok, bad).CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db unreachable")
}
