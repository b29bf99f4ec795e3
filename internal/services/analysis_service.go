package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"tickerpulse/internal/compare"
	"tickerpulse/internal/pipeline"
	"tickerpulse/internal/session"
	"tickerpulse/internal/stream"
	"tickerpulse/pkg/contracts/domain"
)

// AnalysisService binds the session registry, the stream hub and the
// pipeline into the command surface the stream layer drives. Every
// submission becomes exactly one session; the subscriber is attached
// before the run starts so the first event is never lost.
type AnalysisService struct {
	registry   *session.Registry
	hub        *stream.Hub
	orch       *pipeline.Orchestrator
	comparator *compare.Comparator
	logger     *slog.Logger
}

// NewAnalysisService creates the analysis service with injected
// collaborators.
func NewAnalysisService(registry *session.Registry, hub *stream.Hub, orch *pipeline.Orchestrator, comparator *compare.Comparator, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{
		registry:   registry,
		hub:        hub,
		orch:       orch,
		comparator: comparator,
		logger:     logger.With(slog.String("component", "services.analysis")),
	}
}

// Submit starts a single-subject run for the client and returns its
// session id. A prior active session for the same client is superseded
// by the registry. The run executes on the session's context, so it
// survives the subscriber disconnecting and ends on supersede, cancel
// or shutdown.
func (s *AnalysisService) Submit(ctx context.Context, clientKey string, job domain.Job, sub *stream.Client) (string, error) {
	if sub == nil {
		return "", ErrNoSubscriber
	}
	if err := s.orch.Registry().ValidateShape(); err != nil {
		return "", err
	}

	sess, err := s.registry.Create(clientKey, job)
	if err != nil {
		return "", err
	}

	s.hub.Attach(sess.ID, sub)

	go s.run(sess)

	s.logger.InfoContext(ctx, "job_accepted",
		slog.String("session_id", sess.ID),
		slog.String("subject", job.Subject),
		slog.String("mode", string(job.Mode)))
	return sess.ID, nil
}

// Compare starts a fan-out comparison for the client and returns its
// session id. Requests failing the subject-count or duplicate checks
// are rejected before any session exists.
func (s *AnalysisService) Compare(ctx context.Context, clientKey string, req domain.CompareJob, sub *stream.Client) (string, error) {
	if sub == nil {
		return "", ErrNoSubscriber
	}
	if err := s.orch.Registry().ValidateShape(); err != nil {
		return "", err
	}
	if err := s.comparator.Validate(req); err != nil {
		return "", err
	}

	sess, err := s.registry.Create(clientKey, comparisonJob(req))
	if err != nil {
		return "", err
	}

	s.hub.Attach(sess.ID, sub)

	go s.runComparison(sess, req)

	s.logger.InfoContext(ctx, "comparison_accepted",
		slog.String("session_id", sess.ID),
		slog.Int("subjects", len(req.Subjects)))
	return sess.ID, nil
}

// Cancel cooperatively ends the client's active session. The run
// publishes its own cancelled event on the way out.
func (s *AnalysisService) Cancel(ctx context.Context, clientKey string) error {
	sess, ok := s.registry.ActiveForClient(clientKey)
	if !ok {
		return ErrNoActiveSession
	}
	return s.registry.Cancel(sess.ID)
}

// Sessions returns summaries of all resident sessions, oldest first.
func (s *AnalysisService) Sessions() []session.Summary {
	return s.registry.List()
}

// CancelSession cancels a session by id, for the REST surface.
func (s *AnalysisService) CancelSession(ctx context.Context, id string) error {
	err := s.registry.Cancel(id)
	if err != nil {
		s.logger.WarnContext(ctx, "session_cancel_failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
	return err
}

// run executes one job to its terminal event on the session's context.
func (s *AnalysisService) run(sess *session.Session) {
	state, err := s.orch.Run(sess.Context(), sess.ID, sess.Job, sess.Publisher())
	if err != nil {
		if errors.Is(sess.Context().Err(), context.Canceled) {
			s.logger.Info("run_ended_by_cancel",
				slog.String("session_id", sess.ID),
				slog.String("subject", sess.Job.Subject))
			return
		}
		s.logger.Error("run_failed",
			slog.String("session_id", sess.ID),
			slog.String("subject", sess.Job.Subject),
			slog.String("error", err.Error()))
		return
	}

	s.logger.Info("run_concluded",
		slog.String("session_id", sess.ID),
		slog.String("subject", sess.Job.Subject),
		slog.String("status", string(state.GetStatus())))
}

// runComparison executes one comparison to its terminal event.
func (s *AnalysisService) runComparison(sess *session.Session, req domain.CompareJob) {
	result, err := s.comparator.Run(sess.Context(), sess.ID, req, sess.Publisher())
	if err != nil {
		if errors.Is(sess.Context().Err(), context.Canceled) {
			s.logger.Info("comparison_ended_by_cancel",
				slog.String("session_id", sess.ID))
			return
		}
		s.logger.Error("comparison_failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		return
	}

	s.logger.Info("comparison_concluded",
		slog.String("session_id", sess.ID),
		slog.Int("subjects", len(result.Subjects)),
		slog.Int("incomplete", result.Incomplete))
}

// comparisonJob shapes the registry's view of a comparison session. The
// joined subject list is what introspection and supersede logs show.
func comparisonJob(req domain.CompareJob) domain.Job {
	return domain.Job{
		Subject:    strings.Join(req.Subjects, ","),
		Mode:       req.Mode,
		Parameters: req.Parameters,
	}
}
