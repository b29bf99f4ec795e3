package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tickerpulse/internal/infrastructure"
	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

// Orchestrator runs submitted jobs through the three pipeline stages and
// emits progress on a Publisher. One Orchestrator serves many concurrent
// runs; all per-run state lives in the JobState it returns.
type Orchestrator struct {
	registry *Registry
	config   *Config
	archive  ArchiveSink
	tracer   *RunTracer
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator with dependency injection.
func NewOrchestrator(registry *Registry, config *Config, archive ArchiveSink, logger *slog.Logger) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if archive == nil {
		archive = NopArchiveSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "pipeline.orchestrator"))

	return &Orchestrator{
		registry: registry,
		config:   config,
		archive:  archive,
		tracer:   NewRunTracer(),
		logger:   logger,
	}
}

// Registry returns the worker registry backing this orchestrator.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Config returns the current configuration.
func (o *Orchestrator) Config() *Config {
	return o.config
}

// BindMetrics attaches business metrics to the run tracer.
func (o *Orchestrator) BindMetrics(m *infrastructure.BusinessMetrics) {
	o.tracer.BindMetrics(m)
}

// Run executes one job to its terminal event. It blocks until the run
// concludes and returns the final state. The returned error is non-nil
// only for fatal_error and cancelled outcomes; a veto is a concluded run,
// not an error.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, job domain.Job, pub Publisher) (*JobState, error) {
	if err := o.registry.ValidateShape(); err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, NewValidationError("run requires a publisher")
	}

	state := NewJobState(sessionID, job)

	runCtx, cancel := context.WithTimeout(ctx, o.config.JobTimeout)
	defer cancel()

	runCtx, span := o.tracer.StartRun(runCtx, sessionID, job)
	defer func() {
		o.tracer.RecordRunCompletion(runCtx, span, state)
		span.End()
	}()

	analysts := o.registry.Analysts()
	roster := make([]string, len(analysts))
	for i, w := range analysts {
		roster[i] = w.ID()
	}

	state.Start()
	pub.Publish(ctx, events.EventTypeJobStarted, "", events.JobStartedPayload{
		Subject:  job.Subject,
		Mode:     string(job.Mode),
		Analysts: roster,
	})

	o.logger.InfoContext(runCtx, "run_started",
		slog.String("session_id", sessionID),
		slog.String("subject", job.Subject),
		slog.Int("analyst_count", len(analysts)))

	// Stage 1: concurrent analyst fan-out with barrier.
	succeeded := o.runAnalysts(runCtx, ctx, state, analysts, pub)

	if interrupted := o.checkInterrupted(runCtx, ctx, state, pub, StageAnalysts); interrupted != nil {
		return state, interrupted
	}

	if succeeded == 0 {
		abort := NewStageAbortError(StageAnalysts, "all analyst workers failed", nil)
		o.logger.ErrorContext(runCtx, "analyst_stage_aborted",
			slog.String("session_id", sessionID),
			slog.Int("analyst_count", len(analysts)))
		o.publishFatal(ctx, state, pub, abort)
		return state, abort
	}

	if succeeded < len(analysts) {
		pub.Publish(ctx, events.EventTypeNotification, "", events.NotificationPayload{
			Level:   events.LevelWarning,
			Message: fmt.Sprintf("proceeding with %d of %d analyst reports", succeeded, len(analysts)),
		})
	}

	// Stage 2: sequential risk check.
	assessment, err := o.runRisk(runCtx, ctx, state, pub)
	if err != nil {
		if interrupted := o.checkInterrupted(runCtx, ctx, state, pub, StageRisk); interrupted != nil {
			return state, interrupted
		}
		abort := NewStageAbortError(StageRisk, "risk check failed", err)
		o.publishFatal(ctx, state, pub, abort)
		return state, abort
	}

	if !assessment.Approved {
		o.logger.InfoContext(runCtx, "run_vetoed",
			slog.String("session_id", sessionID),
			slog.String("subject", job.Subject),
			slog.String("reason", assessment.Reason))
		state.Veto(assessment)
		pub.Publish(ctx, events.EventTypeVeto, "", events.VetoPayload{
			Reason:   assessment.Reason,
			Severity: assessment.Severity,
		})
		o.archiveResult(state)
		return state, nil
	}
	state.Approve(assessment)

	if interrupted := o.checkInterrupted(runCtx, ctx, state, pub, StageDecision); interrupted != nil {
		return state, interrupted
	}

	// Stage 3: sequential decision synthesis.
	decision, producer, err := o.runDecision(runCtx, ctx, state, pub)
	if err != nil {
		if interrupted := o.checkInterrupted(runCtx, ctx, state, pub, StageDecision); interrupted != nil {
			return state, interrupted
		}
		abort := NewStageAbortError(StageDecision, "decision synthesis failed", err)
		o.publishFatal(ctx, state, pub, abort)
		return state, abort
	}

	state.Decide(decision)
	pub.Publish(ctx, events.EventTypeDecision, producer, decision)

	o.logger.InfoContext(runCtx, "run_decided",
		slog.String("session_id", sessionID),
		slog.String("subject", job.Subject),
		slog.String("action", string(decision.Action)),
		slog.Float64("confidence", decision.Confidence),
		slog.Duration("duration", state.Duration()))

	o.archiveResult(state)
	return state, nil
}

type analystResult struct {
	worker Worker
	report *domain.Report
	err    error
}

// runAnalysts launches every analyst concurrently and collects results as
// they resolve, publishing per-worker events immediately rather than
// waiting for siblings. Returns the number of successful analysts once
// all have resolved; the return itself is the stage barrier.
func (o *Orchestrator) runAnalysts(runCtx, pubCtx context.Context, state *JobState, analysts []Worker, pub Publisher) int {
	results := make(chan analystResult, len(analysts))

	for _, w := range analysts {
		state.SetWorker(w.ID(), NewWorkerState(w.ID(), w.Name(), RoleAnalyst))
	}

	for _, w := range analysts {
		ws := state.GetWorker(w.ID())
		ws.Start()
		pub.Publish(pubCtx, events.EventTypeWorkerStarted, w.ID(), events.WorkerStartedPayload{
			Role: string(RoleAnalyst),
		})

		go func(w Worker) {
			report, err := o.produce(runCtx, w, state.Job, nil)
			results <- analystResult{worker: w, report: report, err: err}
		}(w)
	}

	succeeded := 0
	for i := 0; i < len(analysts); i++ {
		res := <-results
		ws := state.GetWorker(res.worker.ID())

		if res.err != nil {
			pErr := WrapWorkerError(res.err, res.worker.ID())
			ws.Fail(pErr)

			// Suppress per-worker noise once the run itself is being
			// torn down; the terminal event covers it.
			if runCtx.Err() == nil {
				o.logger.WarnContext(runCtx, "analyst_failed",
					slog.String("session_id", state.SessionID),
					slog.String("worker", res.worker.ID()),
					slog.String("kind", string(pErr.Kind)),
					slog.String("error", pErr.Message))
				pub.Publish(pubCtx, events.EventTypeWorkerFailed, res.worker.ID(), events.WorkerFailedPayload{
					Role:      string(RoleAnalyst),
					Reason:    pErr.Message,
					Kind:      string(pErr.Kind),
					Retryable: pErr.Retryable,
				})
			}
			continue
		}

		ws.Complete()
		state.Reports.Add(res.report)
		succeeded++

		o.logger.InfoContext(runCtx, "analyst_completed",
			slog.String("session_id", state.SessionID),
			slog.String("worker", res.worker.ID()),
			slog.Duration("duration", ws.Duration()))

		if runCtx.Err() == nil {
			pub.Publish(pubCtx, events.EventTypeWorkerCompleted, res.worker.ID(), res.report)
		}
	}

	return succeeded
}

// runRisk executes the risk worker against the surviving analyst reports.
func (o *Orchestrator) runRisk(runCtx, pubCtx context.Context, state *JobState, pub Publisher) (*domain.RiskAssessment, error) {
	w, err := o.registry.Risk()
	if err != nil {
		return nil, err
	}

	ws := NewWorkerState(w.ID(), w.Name(), RoleRisk)
	state.SetWorker(w.ID(), ws)
	ws.Start()
	pub.Publish(pubCtx, events.EventTypeWorkerStarted, w.ID(), events.WorkerStartedPayload{
		Role: string(RoleRisk),
	})

	report, err := o.produce(runCtx, w, state.Job, state.Reports)
	if err != nil {
		pErr := WrapWorkerError(err, w.ID())
		ws.Fail(pErr)
		if runCtx.Err() == nil {
			pub.Publish(pubCtx, events.EventTypeWorkerFailed, w.ID(), events.WorkerFailedPayload{
				Role:      string(RoleRisk),
				Reason:    pErr.Message,
				Kind:      string(pErr.Kind),
				Retryable: pErr.Retryable,
			})
		}
		return nil, pErr
	}

	var assessment domain.RiskAssessment
	if err := report.DecodeData(&assessment); err != nil {
		pErr := NewWorkerError(w.ID(), fmt.Errorf("decoding risk assessment: %w", err))
		ws.Fail(pErr)
		return nil, pErr
	}
	ws.Complete()

	// A veto is a successful risk check; worker_completed is only
	// published on the approving path, the veto event speaks for itself.
	if assessment.Approved {
		state.Reports.Add(report)
		pub.Publish(pubCtx, events.EventTypeWorkerCompleted, w.ID(), report)
	}

	return &assessment, nil
}

// runDecision executes the decision worker against all prior reports. The
// second return value names the producing worker for the decision event.
func (o *Orchestrator) runDecision(runCtx, pubCtx context.Context, state *JobState, pub Publisher) (*domain.Decision, string, error) {
	w, err := o.registry.Decision()
	if err != nil {
		return nil, "", err
	}

	ws := NewWorkerState(w.ID(), w.Name(), RoleDecision)
	state.SetWorker(w.ID(), ws)
	ws.Start()
	pub.Publish(pubCtx, events.EventTypeWorkerStarted, w.ID(), events.WorkerStartedPayload{
		Role: string(RoleDecision),
	})

	report, err := o.produce(runCtx, w, state.Job, state.Reports)
	if err != nil {
		pErr := WrapWorkerError(err, w.ID())
		ws.Fail(pErr)
		if runCtx.Err() == nil {
			pub.Publish(pubCtx, events.EventTypeWorkerFailed, w.ID(), events.WorkerFailedPayload{
				Role:      string(RoleDecision),
				Reason:    pErr.Message,
				Kind:      string(pErr.Kind),
				Retryable: pErr.Retryable,
			})
		}
		return nil, "", pErr
	}

	var decision domain.Decision
	if err := report.DecodeData(&decision); err != nil {
		pErr := NewWorkerError(w.ID(), fmt.Errorf("decoding decision: %w", err))
		ws.Fail(pErr)
		return nil, "", pErr
	}
	if decision.Subject == "" {
		decision.Subject = state.Job.Subject
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now()
	}

	ws.Complete()
	return &decision, w.ID(), nil
}

// produce runs one worker with its per-call deadline and classifies the
// failure modes.
func (o *Orchestrator) produce(ctx context.Context, w Worker, job domain.Job, prior *ReportSet) (*domain.Report, error) {
	timeout := o.config.WorkerTimeout(w)
	workerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workerCtx, span := o.tracer.StartWorker(workerCtx, w)

	start := time.Now()
	report, err := w.Produce(workerCtx, job, prior)
	duration := time.Since(start)

	o.tracer.RecordWorkerCompletion(workerCtx, span, w, duration, err)
	span.End()

	if err != nil {
		switch {
		case ctx.Err() != nil:
			// The run itself ended; the worker failure is incidental.
			return nil, NewCancellationError("")
		case workerCtx.Err() == context.DeadlineExceeded:
			return nil, NewTimeoutError(w.ID(), timeout.String())
		}
		return nil, WrapWorkerError(err, w.ID())
	}

	if report == nil {
		return nil, NewWorkerError(w.ID(), fmt.Errorf("worker returned no report"))
	}
	if report.Producer == "" {
		report.Producer = w.ID()
	}
	if report.Subject == "" {
		report.Subject = job.Subject
	}
	if report.ProducedAt.IsZero() {
		report.ProducedAt = time.Now()
	}

	return report, nil
}

// checkInterrupted ends the run with a single terminal event when the run
// context expired: cancelled on cooperative cancellation, fatal_error on
// job deadline. Returns nil when the run may continue.
func (o *Orchestrator) checkInterrupted(runCtx, pubCtx context.Context, state *JobState, pub Publisher, stage string) error {
	select {
	case <-runCtx.Done():
	default:
		return nil
	}

	if runCtx.Err() == context.DeadlineExceeded && pubCtx.Err() == nil {
		abort := NewStageAbortError(stage, "job deadline exceeded", runCtx.Err())
		o.logger.WarnContext(pubCtx, "run_deadline_exceeded",
			slog.String("session_id", state.SessionID),
			slog.String("stage", stage),
			slog.Duration("job_timeout", o.config.JobTimeout))
		o.publishFatal(pubCtx, state, pub, abort)
		return abort
	}

	o.logger.InfoContext(pubCtx, "run_cancelled",
		slog.String("session_id", state.SessionID),
		slog.String("stage", stage))
	state.Cancel()
	pub.Publish(pubCtx, events.EventTypeCancelled, "", events.CancelledPayload{})
	o.archiveResult(state)
	return NewCancellationError(stage)
}

// publishFatal marks the run failed and emits the single fatal_error
// terminal event.
func (o *Orchestrator) publishFatal(pubCtx context.Context, state *JobState, pub Publisher, abort *PipelineError) {
	state.Fail(abort)
	pub.Publish(pubCtx, events.EventTypeFatalError, "", events.FatalErrorPayload{
		Reason: abort.Message,
		Stage:  abort.Stage,
	})
	o.archiveResult(state)
}

// archiveResult hands a snapshot of the terminal state to the archive
// sink without blocking the run or the event stream.
func (o *Orchestrator) archiveResult(state *JobState) {
	snapshot := state.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := o.archive.StoreResult(ctx, snapshot); err != nil {
			o.logger.Warn("archive_store_failed",
				slog.String("session_id", snapshot.SessionID),
				slog.String("subject", snapshot.Job.Subject),
				slog.String("error", err.Error()))
		}
	}()
}
