package pipeline

import (
	"sync"
	"time"

	"tickerpulse/pkg/contracts/domain"
)

// JobState represents the complete state of one pipeline run. It is owned
// by a single session and never shared across runs; the client keeps its
// own fold of the event stream instead of reading this.
type JobState struct {
	mu sync.RWMutex

	// Identity of the run
	SessionID string     `json:"session_id"`
	Job       domain.Job `json:"job"`

	Status    JobStatus  `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Worker states keyed by worker ID
	Workers map[string]*WorkerState `json:"workers"`

	// Accumulated analyst output, available to later stages
	Reports *ReportSet `json:"-"`

	// Stage outcomes
	Assessment *domain.RiskAssessment `json:"assessment,omitempty"`
	Decision   *domain.Decision       `json:"decision,omitempty"`
	VetoReason string                 `json:"veto_reason,omitempty"`

	// Error if the run ended with fatal_error
	Err error `json:"error,omitempty"`
}

// NewJobState creates state for a fresh run.
func NewJobState(sessionID string, job domain.Job) *JobState {
	return &JobState{
		SessionID: sessionID,
		Job:       job,
		Status:    JobStatusPending,
		StartTime: time.Now(),
		Workers:   make(map[string]*WorkerState),
		Reports:   NewReportSet(),
	}
}

// Start marks the run as running.
func (s *JobState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = JobStatusRunning
	s.StartTime = time.Now()
}

// Decide records the final decision and marks the run terminal.
func (s *JobState) Decide(d *domain.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = JobStatusDecided
	s.Decision = d
}

// Veto records a risk veto and marks the run terminal.
func (s *JobState) Veto(assessment *domain.RiskAssessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = JobStatusVetoed
	s.Assessment = assessment
	if assessment != nil {
		s.VetoReason = assessment.Reason
	}
}

// Approve records a passing risk assessment without ending the run.
func (s *JobState) Approve(assessment *domain.RiskAssessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Assessment = assessment
}

// Fail marks the run as failed.
func (s *JobState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = JobStatusFailed
	s.Err = err
}

// Cancel marks the run as cancelled.
func (s *JobState) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = JobStatusCancelled
}

// GetWorker returns the state of a specific worker.
func (s *JobState) GetWorker(id string) *WorkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Workers[id]
}

// SetWorker stores the state of a specific worker.
func (s *JobState) SetWorker(id string, state *WorkerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Workers[id] = state
}

// GetStatus returns the current run status.
func (s *JobState) GetStatus() JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// GetDecision returns the final decision, if the run reached one.
func (s *JobState) GetDecision() *domain.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Decision
}

// GetAssessment returns the risk assessment, if stage 2 completed.
func (s *JobState) GetAssessment() *domain.RiskAssessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Assessment
}

// Duration returns how long the run took, or has been running.
func (s *JobState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// CompletedWorkers returns the count of workers that completed.
func (s *JobState) CompletedWorkers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, w := range s.Workers {
		if w.Status == WorkerStatusCompleted {
			n++
		}
	}
	return n
}

// FailedWorkers returns the count of workers that failed.
func (s *JobState) FailedWorkers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, w := range s.Workers {
		if w.Status == WorkerStatusFailed {
			n++
		}
	}
	return n
}

// Clone creates a deep copy of the run state for handoff to collaborators
// such as the archive sink.
func (s *JobState) Clone() *JobState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &JobState{
		SessionID:  s.SessionID,
		Job:        s.Job,
		Status:     s.Status,
		StartTime:  s.StartTime,
		Workers:    make(map[string]*WorkerState),
		Reports:    NewReportSet(),
		VetoReason: s.VetoReason,
		Err:        s.Err,
	}

	if s.EndTime != nil {
		endTime := *s.EndTime
		clone.EndTime = &endTime
	}

	for id, w := range s.Workers {
		w.mu.RLock()
		workerCopy := &WorkerState{
			ID:        w.ID,
			Name:      w.Name,
			Role:      w.Role,
			Status:    w.Status,
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
			Error:     w.Error,
		}
		w.mu.RUnlock()
		clone.Workers[id] = workerCopy
	}

	for _, r := range s.Reports.List() {
		reportCopy := *r
		clone.Reports.Add(&reportCopy)
	}

	if s.Assessment != nil {
		assessment := *s.Assessment
		clone.Assessment = &assessment
	}
	if s.Decision != nil {
		decision := *s.Decision
		clone.Decision = &decision
	}

	return clone
}
