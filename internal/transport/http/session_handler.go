package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tickerpulse/internal/infrastructure"
	"tickerpulse/internal/middleware"
	"tickerpulse/internal/session"
)

// SessionHandler handles session introspection and cancellation.
type SessionHandler struct {
	service SessionDirectory
	logger  *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(service SessionDirectory, logger *slog.Logger) *SessionHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "sessions")),
	}
}

// SessionListResponse is the GET /api/sessions body.
type SessionListResponse struct {
	Sessions []session.Summary `json:"sessions"`
	Count    int               `json:"count"`
}

// ListSessions handles GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	summaries := h.service.Sessions()

	h.logger.DebugContext(r.Context(), "sessions listed",
		slog.Int("count", len(summaries)))

	render.JSON(w, r, SessionListResponse{
		Sessions: summaries,
		Count:    len(summaries),
	})
}

// CancelSession handles DELETE /api/sessions/{id}. Cancellation is
// cooperative: the response confirms the request was delivered, the
// run's own cancelled event confirms the end.
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	tracer := otel.Tracer("session-handler")
	ctx, span := tracer.Start(ctx, "session_handler.cancel_session",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/sessions/{id}"),
			attribute.String("session.id", sessionID),
		),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "session cancel request",
		slog.String("session_id", sessionID),
		slog.String("trace_id", infrastructure.GetTraceID(ctx)))

	cancelCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := h.service.CancelSession(cancelCtx, sessionID); err != nil {
		span.RecordError(err)
		h.renderCancelError(w, r, sessionID, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{
		"session_id": sessionID,
		"status":     "cancelling",
	})
}

func (h *SessionHandler) renderCancelError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	traceID := infrastructure.GetTraceID(r.Context())

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		problem := middleware.ProblemFromStatus(http.StatusNotFound,
			"session "+sessionID+" not found", traceID)
		problem.Render(w, r)

	case errors.Is(err, session.ErrSessionTerminal):
		problem := middleware.ProblemFromStatus(http.StatusConflict,
			"session "+sessionID+" already concluded", traceID)
		problem.Render(w, r)

	default:
		h.logger.ErrorContext(r.Context(), "session cancel failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		problem := middleware.ProblemFromStatus(http.StatusInternalServerError,
			"cancel failed", traceID)
		problem.Render(w, r)
	}
}
