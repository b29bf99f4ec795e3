package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickerpulse/pkg/contracts/domain"
)

// Worker represents a single analysis unit in the pipeline.
//
// Analysts receive a nil prior set and run concurrently. The risk worker
// receives the surviving analyst reports; the decision worker receives
// those plus the risk report. Produce must honour ctx cancellation and
// return promptly when the deadline passes.
type Worker interface {
	// ID returns the unique identifier for this worker
	ID() string

	// Name returns the human-readable name for this worker
	Name() string

	// Role returns the stage this worker belongs to
	Role() Role

	// Timeout returns the per-call deadline for Produce. Zero means the
	// configured default applies.
	Timeout() time.Duration

	// Produce runs the worker against the job and any prior reports
	Produce(ctx context.Context, job domain.Job, prior *ReportSet) (*domain.Report, error)
}

// WorkerState represents the runtime state of a worker within one run.
type WorkerState struct {
	mu        sync.RWMutex
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Role      Role         `json:"role"`
	Status    WorkerStatus `json:"status"`
	StartTime *time.Time   `json:"start_time,omitempty"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	Error     error        `json:"error,omitempty"`
}

// NewWorkerState creates a worker state with default values.
func NewWorkerState(id, name string, role Role) *WorkerState {
	return &WorkerState{
		ID:     id,
		Name:   name,
		Role:   role,
		Status: WorkerStatusPending,
	}
}

// Start marks the worker as active and sets the start time.
func (s *WorkerState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.StartTime = &now
	s.Status = WorkerStatusActive
}

// Complete marks the worker as completed and sets the end time.
func (s *WorkerState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.EndTime = &now
	s.Status = WorkerStatusCompleted
}

// Fail marks the worker as failed with the given error.
func (s *WorkerState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.EndTime = &now
	s.Status = WorkerStatusFailed
	s.Error = err
}

// Duration returns how long the worker ran.
func (s *WorkerState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.StartTime == nil {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(*s.StartTime)
	}
	return time.Since(*s.StartTime)
}

// ReportSet is an ordered, producer-keyed collection of reports. It is
// safe for concurrent use during the analyst fan-out.
type ReportSet struct {
	mu      sync.RWMutex
	order   []string
	reports map[string]*domain.Report
}

// NewReportSet creates an empty report set.
func NewReportSet() *ReportSet {
	return &ReportSet{
		reports: make(map[string]*domain.Report),
	}
}

// Add inserts a report, keeping insertion order. A second report from the
// same producer replaces the first without changing its position.
func (s *ReportSet) Add(r *domain.Report) {
	if r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reports[r.Producer]; !exists {
		s.order = append(s.order, r.Producer)
	}
	s.reports[r.Producer] = r
}

// Get retrieves the report from a specific producer.
func (s *ReportSet) Get(producer string) (*domain.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[producer]
	return r, ok
}

// List returns all reports in insertion order.
func (s *ReportSet) List() []*domain.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Report, 0, len(s.order))
	for _, producer := range s.order {
		if r, ok := s.reports[producer]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Producers returns the producer ids in insertion order.
func (s *ReportSet) Producers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of reports in the set.
func (s *ReportSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// BaseWorker provides common functionality for Worker implementations.
type BaseWorker struct {
	id      string
	name    string
	role    Role
	timeout time.Duration
}

// NewBaseWorker creates a base worker with the given identity.
func NewBaseWorker(id, name string, role Role, timeout time.Duration) BaseWorker {
	return BaseWorker{
		id:      id,
		name:    name,
		role:    role,
		timeout: timeout,
	}
}

// ID returns the worker ID.
func (b *BaseWorker) ID() string {
	if b == nil {
		return ""
	}
	return b.id
}

// Name returns the worker name.
func (b *BaseWorker) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

// Role returns the worker role.
func (b *BaseWorker) Role() Role {
	if b == nil {
		return ""
	}
	return b.role
}

// Timeout returns the per-call deadline for this worker.
func (b *BaseWorker) Timeout() time.Duration {
	if b == nil {
		return 0
	}
	return b.timeout
}

// WorkerFunc adapts a plain function into a Worker. Used by tests and by
// small inline workers that need no state of their own.
type WorkerFunc struct {
	BaseWorker
	Fn func(ctx context.Context, job domain.Job, prior *ReportSet) (*domain.Report, error)
}

// NewWorkerFunc wraps fn as a Worker with the given identity.
func NewWorkerFunc(id, name string, role Role, fn func(ctx context.Context, job domain.Job, prior *ReportSet) (*domain.Report, error)) *WorkerFunc {
	return &WorkerFunc{
		BaseWorker: NewBaseWorker(id, name, role, 0),
		Fn:         fn,
	}
}

// Produce invokes the wrapped function.
func (w *WorkerFunc) Produce(ctx context.Context, job domain.Job, prior *ReportSet) (*domain.Report, error) {
	if w.Fn == nil {
		return nil, fmt.Errorf("worker %s has no produce function", w.ID())
	}
	return w.Fn(ctx, job, prior)
}
