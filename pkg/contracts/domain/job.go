// Package domain contains the core domain contracts shared between the
// TickerPulse service, its workers, and client SDKs.
package domain

// AnalysisMode selects how thorough a pipeline run should be.
type AnalysisMode string

const (
	ModeStandard AnalysisMode = "standard"
	ModeFast     AnalysisMode = "fast"
	ModeThorough AnalysisMode = "thorough"
)

// Job describes a single analysis request for one subject.
// A Job is immutable once submitted; reruns reuse the same Job value.
type Job struct {
	Subject    string                 `json:"subject" validate:"required,min=1,max=12,uppercase"`
	Mode       AnalysisMode           `json:"mode,omitempty" validate:"omitempty,oneof=standard fast thorough"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// CompareJob describes a fan-out request analysing several subjects
// concurrently and ranking the outcomes.
type CompareJob struct {
	Subjects   []string               `json:"subjects" validate:"required,min=2,dive,required,min=1,max=12"`
	Mode       AnalysisMode           `json:"mode,omitempty" validate:"omitempty,oneof=standard fast thorough"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// JobFor derives the per-subject Job for one leg of a comparison.
func (c CompareJob) JobFor(subject string) Job {
	return Job{
		Subject:    subject,
		Mode:       c.Mode,
		Parameters: c.Parameters,
	}
}
