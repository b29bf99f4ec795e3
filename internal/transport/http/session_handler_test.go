package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/middleware"
	"tickerpulse/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDirectory struct {
	summaries []session.Summary
	cancelErr error
	cancelled []string
}

func (f *fakeDirectory) Sessions() []session.Summary {
	return f.summaries
}

func (f *fakeDirectory) CancelSession(ctx context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func sessionRouter(h *SessionHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/api/sessions", h.ListSessions)
	r.Delete("/api/sessions/{id}", h.CancelSession)
	return r
}

func TestListSessions(t *testing.T) {
	dir := &fakeDirectory{
		summaries: []session.Summary{
			{ID: "sess-1", Subject: "AAPL", CreatedAt: time.Now(), Terminal: true, LastSeq: 11},
			{ID: "sess-2", Subject: "MSFT", CreatedAt: time.Now()},
		},
	}
	router := sessionRouter(NewSessionHandler(dir, testLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, "sess-1", resp.Sessions[0].ID)
	assert.True(t, resp.Sessions[0].Terminal)
}

func TestListSessionsEmpty(t *testing.T) {
	router := sessionRouter(NewSessionHandler(&fakeDirectory{}, testLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
}

func TestCancelSessionAccepted(t *testing.T) {
	dir := &fakeDirectory{}
	router := sessionRouter(NewSessionHandler(dir, testLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/sess-9", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"sess-9"}, dir.cancelled)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sess-9", body["session_id"])
	assert.Equal(t, "cancelling", body["status"])
}

func TestCancelSessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "unknown session",
			err:        fmt.Errorf("session x: %w", session.ErrSessionNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "already concluded",
			err:        fmt.Errorf("session x: %w", session.ErrSessionTerminal),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unexpected failure",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{cancelErr: tt.err}
			router := sessionRouter(NewSessionHandler(dir, testLogger()))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/sess-9", nil))

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var problem middleware.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tt.wantStatus, problem.Status)
		})
	}
}

func TestNewSessionHandlerRequiresService(t *testing.T) {
	assert.Panics(t, func() {
		NewSessionHandler(nil, testLogger())
	})
}
