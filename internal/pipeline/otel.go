package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickerpulse/internal/infrastructure"
	"tickerpulse/pkg/contracts/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "tickerpulse.pipeline"
)

// RunTracer provides OpenTelemetry instrumentation for pipeline runs.
// Spans come from the global tracer provider, so a tracer built before
// InitializeOTel simply produces no-op spans. Business metrics are
// attached later via BindMetrics once providers exist.
type RunTracer struct {
	tracer trace.Tracer

	mu      sync.RWMutex
	metrics *infrastructure.BusinessMetrics
}

// NewRunTracer creates a run tracer backed by the global tracer provider.
func NewRunTracer() *RunTracer {
	return &RunTracer{tracer: otel.Tracer(TracerName)}
}

// BindMetrics attaches business metrics recorded alongside spans.
func (rt *RunTracer) BindMetrics(m *infrastructure.BusinessMetrics) {
	rt.mu.Lock()
	rt.metrics = m
	rt.mu.Unlock()
}

func (rt *RunTracer) businessMetrics() *infrastructure.BusinessMetrics {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.metrics
}

// StartRun creates the span covering an entire pipeline run.
func (rt *RunTracer) StartRun(ctx context.Context, sessionID string, job domain.Job) (context.Context, trace.Span) {
	spanName := fmt.Sprintf("pipeline.run.%s", job.Mode)
	ctx, span := rt.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.session_id", sessionID),
			attribute.String("run.subject", job.Subject),
			attribute.String("run.mode", string(job.Mode)),
		),
	)

	if bm := rt.businessMetrics(); bm != nil {
		bm.RunsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("run_mode", string(job.Mode)),
			),
		)
		bm.ActiveRuns.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("run_mode", string(job.Mode)),
			),
		)
	}

	return ctx, span
}

// StartWorker creates a span for a single worker invocation.
func (rt *RunTracer) StartWorker(ctx context.Context, w Worker) (context.Context, trace.Span) {
	spanName := fmt.Sprintf("pipeline.worker.%s", w.Role())
	ctx, span := rt.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("worker.id", w.ID()),
			attribute.String("worker.name", w.Name()),
			attribute.String("worker.role", string(w.Role())),
		),
	)

	if bm := rt.businessMetrics(); bm != nil {
		bm.WorkerExecutions.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("worker_role", string(w.Role())),
			),
		)
	}

	return ctx, span
}

// RecordWorkerCompletion records a worker result on its span and metrics.
func (rt *RunTracer) RecordWorkerCompletion(ctx context.Context, span trace.Span, w Worker, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	span.SetAttributes(
		attribute.String("worker.status", status),
		attribute.Float64("worker.duration_seconds", duration.Seconds()),
	)

	if bm := rt.businessMetrics(); bm != nil {
		bm.WorkerDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("worker_role", string(w.Role())),
				attribute.String("status", status),
			),
		)
	}

	if err != nil {
		span.RecordError(err,
			trace.WithAttributes(
				attribute.String("error.kind", string(KindOf(err))),
			),
		)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "worker completed")
}

// RecordRunCompletion closes out the run span with the terminal state.
func (rt *RunTracer) RecordRunCompletion(ctx context.Context, span trace.Span, state *JobState) {
	status := state.GetStatus()
	duration := state.Duration()

	span.SetAttributes(
		attribute.String("run.status", string(status)),
		attribute.Float64("run.duration_seconds", duration.Seconds()),
		attribute.Int("run.reports", state.Reports.Len()),
		attribute.Int("run.failed_workers", state.FailedWorkers()),
	)

	if bm := rt.businessMetrics(); bm != nil {
		bm.RunDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("status", string(status)),
			),
		)
		bm.ActiveRuns.Add(ctx, -1)
		switch status {
		case JobStatusFailed:
			bm.RunErrors.Add(ctx, 1)
		case JobStatusCancelled:
			bm.RunCancellations.Add(ctx, 1)
		}
	}

	switch status {
	case JobStatusDecided, JobStatusVetoed:
		span.SetStatus(codes.Ok, fmt.Sprintf("run finished with status %s", status))
	default:
		span.SetStatus(codes.Error, fmt.Sprintf("run finished with status %s", status))
	}
}
