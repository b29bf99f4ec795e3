package middleware

import (
	"bytes"
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
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/infrastructure"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDGeneratesUUID(t *testing.T) {
	var gotID, gotTrace string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
		gotTrace = infrastructure.GetTraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	headerID := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, headerID)
	_, err := uuid.Parse(headerID)
	assert.NoError(t, err, "generated request ID should be a UUID")
	assert.Equal(t, headerID, gotID)
	assert.Equal(t, headerID, gotTrace, "request ID doubles as trace_id")
}

func TestRequestIDHonoursClientHeader(t *testing.T) {
	var gotID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", gotID)
	assert.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-ID"))
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestStructuredLoggerRecordsCompletion(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestID(StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))

	out := buf.String()
	assert.Contains(t, out, "request completed")
	assert.Contains(t, out, `"status":201`)
	assert.Contains(t, out, `"path":"/api/sessions"`)
	assert.Contains(t, out, "trace_id")
}

func TestRecovererRendersProblem(t *testing.T) {
	handler := Recoverer(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Internal Server Error", problem.Title)
	assert.Equal(t, http.StatusInternalServerError, problem.Status)
}

func TestRateLimiterEnforcesBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, testLogger())
	handler := rl.Handler(okHandler())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestRateLimiterRejectionShape(t *testing.T) {
	rl := NewRateLimiter(1, 0, testLogger())
	handler := rl.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var problem Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/rate-limit-exceeded", problem.Type)
}

func TestTimeoutPassesFastRequests(t *testing.T) {
	handler := Timeout(time.Second, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTimeoutRendersGatewayTimeout(t *testing.T) {
	handler := Timeout(20*time.Millisecond, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		// Linger so the timeout branch always wins the select.
		time.Sleep(30 * time.Millisecond)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	var problem Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Gateway Timeout", problem.Title)
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", rec.Header().Get("Content-Security-Policy"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "HSTS only applies over TLS")
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		config     CORSConfig
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{
			name:       "open config echoes origin",
			config:     CORSConfig{},
			method:     http.MethodGet,
			origin:     "https://dash.example",
			wantStatus: http.StatusOK,
			wantOrigin: "https://dash.example",
		},
		{
			name:       "preflight short-circuits",
			config:     CORSConfig{},
			method:     http.MethodOptions,
			origin:     "https://dash.example",
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://dash.example",
		},
		{
			name:       "unlisted origin gets no allow header",
			config:     CORSConfig{AllowedOrigins: []string{"https://good.example"}},
			method:     http.MethodGet,
			origin:     "https://evil.example",
			wantStatus: http.StatusOK,
			wantOrigin: "",
		},
		{
			name:       "listed origin allowed case-insensitively",
			config:     CORSConfig{AllowedOrigins: []string{"https://Good.Example"}},
			method:     http.MethodGet,
			origin:     "https://good.example",
			wantStatus: http.StatusOK,
			wantOrigin: "https://good.example",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.config)(okHandler())

			req := httptest.NewRequest(tt.method, "/api/sessions", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
		})
	}
}

func TestCORSCredentials(t *testing.T) {
	handler := CORS(CORSConfig{AllowCredentials: true})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name       string
		tokens     []string
		header     string
		wantStatus int
	}{
		{
			name:       "no tokens configured leaves endpoint open",
			tokens:     nil,
			header:     "",
			wantStatus: http.StatusOK,
		},
		{
			name:       "valid token",
			tokens:     []string{"s3cret", "other"},
			header:     "Bearer s3cret",
			wantStatus: http.StatusOK,
		},
		{
			name:       "second token also valid",
			tokens:     []string{"s3cret", "other"},
			header:     "Bearer other",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong token",
			tokens:     []string{"s3cret"},
			header:     "Bearer nope",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing header",
			tokens:     []string{"s3cret"},
			header:     "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			tokens:     []string{"s3cret"},
			header:     "Basic s3cret",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := BearerAuth(testLogger(), tt.tokens)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

				var problem Problem
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
				assert.Equal(t, "/errors/unauthorized", problem.Type)
			}
		})
	}
}

func TestMapErrorToProblem(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{
			name:       "not found",
			err:        fmt.Errorf("session abc: %w", ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantType:   "/errors/not-found",
		},
		{
			name:       "unauthorized",
			err:        ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantType:   "/errors/unauthorized",
		},
		{
			name:       "rate limit",
			err:        ErrRateLimitExceeded,
			wantStatus: http.StatusTooManyRequests,
			wantType:   "/errors/rate-limit-exceeded",
		},
		{
			name:       "timeout maps to gateway timeout",
			err:        ErrRequestTimeout,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   "/errors/request-timeout",
		},
		{
			name:       "validation by message",
			err:        errors.New("validation failed on field symbol"),
			wantStatus: http.StatusBadRequest,
			wantType:   "/errors/validation-failed",
		},
		{
			name:       "unknown defaults to internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantType:   "/errors/internal-server-error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := mapErrorToProblem(tt.err, "trace-1")
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, "trace-1", problem.Trace)
		})
	}
}

func TestProblemFromStatusUnknownCode(t *testing.T) {
	problem := ProblemFromStatus(http.StatusTeapot, "short and stout", "")
	assert.Equal(t, http.StatusText(http.StatusTeapot), problem.Title)
	assert.Equal(t, "/errors/unknown", problem.Type)
	assert.Equal(t, "short and stout", problem.Detail)
}

func TestProblemRender(t *testing.T) {
	rec := httptest.NewRecorder()
	problem := ProblemFromStatus(http.StatusConflict, "already exists", "trace-9")
	require.NoError(t, problem.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var decoded Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, problem, decoded)
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		realIP    string
		remote    string
		want      string
	}{
		{name: "forwarded wins", forwarded: "10.0.0.1", realIP: "10.0.0.2", remote: "10.0.0.3:123", want: "10.0.0.1"},
		{name: "real ip second", realIP: "10.0.0.2", remote: "10.0.0.3:123", want: "10.0.0.2"},
		{name: "remote addr fallback", remote: "10.0.0.3:123", want: "10.0.0.3:123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, GetRealIP(req))
		})
	}
}

func TestGetRoutePattern(t *testing.T) {
	var pattern string
	router := chi.NewRouter()
	router.Get("/api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		pattern = getRoutePattern(r)
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil))

	assert.Equal(t, "/api/sessions/{id}", pattern)

	// Outside chi the raw path is the best available label.
	plain := httptest.NewRequest(http.MethodGet, "/plain", nil)
	assert.Equal(t, "/plain", getRoutePattern(plain))
}

func TestBusinessMetricsContext(t *testing.T) {
	assert.Nil(t, GetBusinessMetricsFromContext(context.Background()))

	metrics := &infrastructure.BusinessMetrics{}
	var got *infrastructure.BusinessMetrics
	handler := BusinessMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetBusinessMetricsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Same(t, metrics, got)

	// Recording against an empty context is a no-op, not a panic.
	RecordSystemError(context.Background(), "test", "middleware")
}
