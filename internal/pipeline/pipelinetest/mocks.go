// Package pipelinetest provides fakes for exercising the pipeline without
// real analysts, streams, or archives behind it.
package pipelinetest

import (
	"context"
	"sync"
	"time"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

// MockWorker is a configurable Worker implementation.
type MockWorker struct {
	IDValue      string
	NameValue    string
	RoleValue    pipeline.Role
	TimeoutValue time.Duration

	ProduceFunc func(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error)

	mu           sync.Mutex
	produceCalls int
	produceArgs  []ProduceCall
}

// ProduceCall tracks arguments passed to Produce.
type ProduceCall struct {
	Job   domain.Job
	Prior *pipeline.ReportSet
	Time  time.Time
}

// ID returns the worker ID.
func (m *MockWorker) ID() string { return m.IDValue }

// Name returns the worker name.
func (m *MockWorker) Name() string {
	if m.NameValue == "" {
		return m.IDValue
	}
	return m.NameValue
}

// Role returns the worker role.
func (m *MockWorker) Role() pipeline.Role { return m.RoleValue }

// Timeout returns the configured per-call deadline.
func (m *MockWorker) Timeout() time.Duration { return m.TimeoutValue }

// Produce records the call and delegates to ProduceFunc.
func (m *MockWorker) Produce(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
	m.mu.Lock()
	m.produceCalls++
	m.produceArgs = append(m.produceArgs, ProduceCall{Job: job, Prior: snapshotReportSet(prior), Time: time.Now()})
	m.mu.Unlock()

	if m.ProduceFunc != nil {
		return m.ProduceFunc(ctx, job, prior)
	}
	return MakeReport(m.IDValue, domain.ReportKindTechnical, job.Subject, 0.5), nil
}

// snapshotReportSet copies the set's contents at call time; the
// orchestrator keeps mutating the live set across stages, so recording
// the pointer itself would not preserve what the worker saw.
func snapshotReportSet(prior *pipeline.ReportSet) *pipeline.ReportSet {
	if prior == nil {
		return nil
	}
	out := pipeline.NewReportSet()
	for _, r := range prior.List() {
		out.Add(r)
	}
	return out
}

// ProduceCalls returns the number of Produce invocations.
func (m *MockWorker) ProduceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.produceCalls
}

// ProduceArgs returns a copy of the recorded call arguments.
func (m *MockWorker) ProduceArgs() []ProduceCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ProduceCall, len(m.produceArgs))
	copy(out, m.produceArgs)
	return out
}

// PublishedEvent is one event captured by CapturePublisher.
type PublishedEvent struct {
	Type     events.EventType
	Producer string
	Payload  interface{}
	Time     time.Time
}

// CapturePublisher records published events for assertions.
type CapturePublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

// Publish captures the event.
func (p *CapturePublisher) Publish(ctx context.Context, evType events.EventType, producer string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, PublishedEvent{
		Type:     evType,
		Producer: producer,
		Payload:  payload,
		Time:     time.Now(),
	})
}

// Events returns all captured events in publish order.
func (p *CapturePublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}

// EventsByType returns captured events of one type.
func (p *CapturePublisher) EventsByType(evType events.EventType) []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []PublishedEvent
	for _, ev := range p.events {
		if ev.Type == evType {
			out = append(out, ev)
		}
	}
	return out
}

// Types returns the captured event types in publish order.
func (p *CapturePublisher) Types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// Last returns the most recently captured event.
func (p *CapturePublisher) Last() (PublishedEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.events) == 0 {
		return PublishedEvent{}, false
	}
	return p.events[len(p.events)-1], true
}

// Clear removes all captured events.
func (p *CapturePublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// MockArchive captures archived job states. StoreResult runs on a
// background goroutine in the orchestrator, so assertions go through
// WaitForStore.
type MockArchive struct {
	StoreFunc func(ctx context.Context, state *pipeline.JobState) error

	mu     sync.Mutex
	stored []*pipeline.JobState
	signal chan struct{}
}

// NewMockArchive creates an archive capture.
func NewMockArchive() *MockArchive {
	return &MockArchive{signal: make(chan struct{}, 16)}
}

// StoreResult records the state and signals any waiter.
func (a *MockArchive) StoreResult(ctx context.Context, state *pipeline.JobState) error {
	a.mu.Lock()
	a.stored = append(a.stored, state)
	a.mu.Unlock()

	select {
	case a.signal <- struct{}{}:
	default:
	}

	if a.StoreFunc != nil {
		return a.StoreFunc(ctx, state)
	}
	return nil
}

// Stored returns a copy of the archived states.
func (a *MockArchive) Stored() []*pipeline.JobState {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*pipeline.JobState, len(a.stored))
	copy(out, a.stored)
	return out
}

// WaitForStore blocks until at least one StoreResult call lands or the
// timeout passes.
func (a *MockArchive) WaitForStore(timeout time.Duration) bool {
	a.mu.Lock()
	n := len(a.stored)
	a.mu.Unlock()
	if n > 0 {
		return true
	}

	select {
	case <-a.signal:
		return true
	case <-time.After(timeout):
		return false
	}
}
