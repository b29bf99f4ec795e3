// Package compare fans a multi-subject request out to one pipeline run
// per subject and reduces the terminal states into a single ranking.
package compare

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"tickerpulse/internal/infrastructure"
	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

// Comparator runs comparisons on top of a shared Orchestrator. Legs run
// concurrently and are isolated: one leg ending in fatal_error or timing
// out is flagged incomplete and ranked last, never aborting its siblings.
type Comparator struct {
	orch    *pipeline.Orchestrator
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics
}

// NewComparator creates a comparator over the given orchestrator.
func NewComparator(orch *pipeline.Orchestrator, logger *slog.Logger) *Comparator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{
		orch:   orch,
		logger: logger.With(slog.String("component", "compare.comparator")),
	}
}

// BindMetrics attaches business metrics.
func (c *Comparator) BindMetrics(m *infrastructure.BusinessMetrics) {
	c.metrics = m
}

// Validate checks a comparison request against the configured limits
// without starting a run.
func (c *Comparator) Validate(req domain.CompareJob) error {
	return validateRequest(req, c.orch.Config().MaxSubjects)
}

// leg is one subject's run within a comparison.
type leg struct {
	subject string
	id      string
	state   *pipeline.JobState
	err     error
}

// Run executes the comparison to its terminal event and returns the
// ranking. It blocks until every leg resolves or the comparison deadline
// passes; a cancelled parent context ends the stream with cancelled
// instead of a ranking.
func (c *Comparator) Run(ctx context.Context, sessionID string, req domain.CompareJob, pub pipeline.Publisher) (*domain.ComparisonResult, error) {
	cfg := c.orch.Config()
	if err := validateRequest(req, cfg.MaxSubjects); err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, pipeline.NewValidationError("comparison requires a publisher")
	}

	started := time.Now()

	analysts := c.orch.Registry().Analysts()
	roster := make([]string, len(analysts))
	for i, w := range analysts {
		roster[i] = w.ID()
	}

	pub.Publish(ctx, events.EventTypeJobStarted, "", events.JobStartedPayload{
		Subject:  strings.Join(req.Subjects, ","),
		Mode:     string(req.Mode),
		Analysts: roster,
	})

	c.logger.InfoContext(ctx, "comparison_started",
		slog.String("session_id", sessionID),
		slog.Int("subjects", len(req.Subjects)))

	runCtx, cancel := context.WithTimeout(ctx, cfg.ComparisonTimeout)
	defer cancel()

	legs := make([]*leg, len(req.Subjects))
	g := new(errgroup.Group)
	g.SetLimit(cfg.MaxSubjects)

	for i, subject := range req.Subjects {
		legID := sessionID + "/" + subject
		legPub := newLegPublisher(subject, pub, cfg.ForwardComparisonEvents)
		g.Go(func() error {
			// Leg outcomes land in the result slice, never in the
			// group error: a failed leg must not cancel its siblings.
			state, err := c.orch.Run(runCtx, legID, req.JobFor(subject), legPub)
			legs[i] = &leg{subject: subject, id: legID, state: state, err: err}
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		c.logger.InfoContext(ctx, "comparison_cancelled",
			slog.String("session_id", sessionID))
		pub.Publish(ctx, events.EventTypeCancelled, "", events.CancelledPayload{})
		return nil, pipeline.NewCancellationError("comparison")
	}

	timedOut := runCtx.Err() == context.DeadlineExceeded
	if timedOut {
		c.logger.WarnContext(ctx, "comparison_deadline_exceeded",
			slog.String("session_id", sessionID),
			slog.Duration("timeout", cfg.ComparisonTimeout))
	}

	result := c.reduce(req, legs, started, timedOut)
	pub.Publish(ctx, events.EventTypeComparisonResult, "", result)

	c.logger.InfoContext(ctx, "comparison_completed",
		slog.String("session_id", sessionID),
		slog.Int("subjects", len(result.Subjects)),
		slog.Int("incomplete", result.Incomplete),
		slog.Duration("duration", result.Duration))

	c.recordMetrics(ctx, result)
	return result, nil
}

// reduce folds leg outcomes into the ranked result.
func (c *Comparator) reduce(req domain.CompareJob, legs []*leg, started time.Time, timedOut bool) *domain.ComparisonResult {
	rankings := make([]domain.RankedSubject, 0, len(legs))
	incomplete := 0
	for _, l := range legs {
		ranked := rankSubject(l, timedOut)
		if ranked.Incomplete {
			incomplete++
		}
		rankings = append(rankings, ranked)
	}
	sortRankings(rankings)

	return &domain.ComparisonResult{
		Subjects:   req.Subjects,
		Rankings:   rankings,
		StartedAt:  started,
		Duration:   time.Since(started),
		Incomplete: incomplete,
	}
}

// rankSubject reduces one leg's terminal state to a ranking row. A veto
// is a concluded outcome and ranks by negated severity; only fatal
// errors, timeouts and missing terminal states are incomplete.
func rankSubject(l *leg, timedOut bool) domain.RankedSubject {
	ranked := domain.RankedSubject{Subject: l.subject, SessionID: l.id}

	if l.state != nil {
		if d := l.state.GetDecision(); d != nil {
			ranked.Score = d.Score
			ranked.Confidence = d.Confidence
			ranked.Action = string(d.Action)
			ranked.DecidedAt = d.DecidedAt
			return ranked
		}
		if l.state.GetStatus() == pipeline.JobStatusVetoed {
			if a := l.state.GetAssessment(); a != nil {
				ranked.Score = -a.Severity
				ranked.Reason = "vetoed: " + a.Reason
			} else {
				ranked.Reason = "vetoed"
			}
			return ranked
		}
	}

	ranked.Incomplete = true
	ranked.Reason = failReason(l.err, timedOut)
	return ranked
}

func failReason(err error, timedOut bool) string {
	if timedOut && pipeline.KindOf(err) == pipeline.ErrorKindCancellation {
		return "comparison deadline exceeded"
	}
	if err == nil {
		return "no terminal state"
	}
	return err.Error()
}

// sortRankings orders complete results by score, then confidence, then
// subject for determinism, with incomplete legs after all complete ones.
func sortRankings(rankings []domain.RankedSubject) {
	sort.SliceStable(rankings, func(i, j int) bool {
		a, b := rankings[i], rankings[j]
		if a.Incomplete != b.Incomplete {
			return !a.Incomplete
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Subject < b.Subject
	})
	for i := range rankings {
		rankings[i].Rank = i + 1
	}
}

func validateRequest(req domain.CompareJob, maxSubjects int) error {
	if len(req.Subjects) < 2 {
		return pipeline.NewValidationError("comparison requires at least 2 subjects")
	}
	if maxSubjects >= 2 && len(req.Subjects) > maxSubjects {
		return pipeline.NewValidationError(
			fmt.Sprintf("comparison limited to %d subjects, got %d", maxSubjects, len(req.Subjects)))
	}
	seen := make(map[string]bool, len(req.Subjects))
	for _, s := range req.Subjects {
		if s == "" {
			return pipeline.NewValidationError("comparison subject cannot be empty")
		}
		if seen[s] {
			return pipeline.NewValidationError(fmt.Sprintf("duplicate comparison subject %q", s))
		}
		seen[s] = true
	}
	return nil
}

func (c *Comparator) recordMetrics(ctx context.Context, result *domain.ComparisonResult) {
	if c.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Int("subjects", len(result.Subjects)),
		attribute.Int("incomplete", result.Incomplete),
	)
	if c.metrics.ComparisonsTotal != nil {
		c.metrics.ComparisonsTotal.Add(ctx, 1, attrs)
	}
	if c.metrics.ComparisonDuration != nil {
		c.metrics.ComparisonDuration.Record(ctx, result.Duration.Seconds(), attrs)
	}
}
