package pipelinetest

import (
	"context"
	"fmt"
	"time"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

// MakeReport builds a minimal report for tests.
func MakeReport(producer string, kind domain.ReportKind, subject string, confidence float64) *domain.Report {
	return &domain.Report{
		Producer:   producer,
		Kind:       kind,
		Subject:    subject,
		Summary:    "test report",
		Confidence: confidence,
		ProducedAt: time.Now(),
	}
}

// NewAnalyst returns an analyst that always succeeds with the given
// confidence.
func NewAnalyst(id string, confidence float64) *MockWorker {
	return &MockWorker{
		IDValue:   id,
		RoleValue: pipeline.RoleAnalyst,
		ProduceFunc: func(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
			return MakeReport(id, domain.ReportKindTechnical, job.Subject, confidence), nil
		},
	}
}

// NewFailingWorker returns a worker that always fails with err.
func NewFailingWorker(id string, role pipeline.Role, err error) *MockWorker {
	return &MockWorker{
		IDValue:   id,
		RoleValue: role,
		ProduceFunc: func(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
			return nil, err
		},
	}
}

// NewSlowWorker returns a worker that waits for delay before producing,
// honouring ctx cancellation.
func NewSlowWorker(id string, role pipeline.Role, delay time.Duration) *MockWorker {
	return &MockWorker{
		IDValue:   id,
		RoleValue: role,
		ProduceFunc: func(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
			select {
			case <-time.After(delay):
				return MakeReport(id, domain.ReportKindTechnical, job.Subject, 0.5), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// NewRiskApprover returns a risk worker that approves every job.
func NewRiskApprover(id string) *MockWorker {
	return &MockWorker{
		IDValue:   id,
		RoleValue: pipeline.RoleRisk,
		ProduceFunc: func(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
			report := MakeReport(id, domain.ReportKindRisk, job.Subject, 1)
			if err := report.EncodeData(domain.RiskAssessment{
				Subject:   job.Subject,
				Approved:  true,
				CheckedAt: time.Now(),
			}); err != nil {
				return nil, err
			}
			return report, nil
		},
	}
}

// NewRiskVetoer returns a risk worker that vetoes every job.
func NewRiskVetoer(id, reason string, severity float64) *MockWorker {
	return &MockWorker{
		IDValue:   id,
		RoleValue: pipeline.RoleRisk,
		ProduceFunc: func(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
			report := MakeReport(id, domain.ReportKindRisk, job.Subject, 1)
			if err := report.EncodeData(domain.RiskAssessment{
				Subject:   job.Subject,
				Approved:  false,
				Reason:    reason,
				Severity:  severity,
				CheckedAt: time.Now(),
			}); err != nil {
				return nil, err
			}
			return report, nil
		},
	}
}

// NewDecider returns a decision worker with a fixed action.
func NewDecider(id string, action domain.DecisionAction, confidence float64) *MockWorker {
	return &MockWorker{
		IDValue:   id,
		RoleValue: pipeline.RoleDecision,
		ProduceFunc: func(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
			report := MakeReport(id, domain.ReportKindDecision, job.Subject, confidence)
			inputs := []string{}
			if prior != nil {
				inputs = prior.Producers()
			}
			if err := report.EncodeData(domain.Decision{
				Subject:    job.Subject,
				Action:     action,
				Confidence: confidence,
				Score:      confidence,
				Rationale:  "test decision",
				Inputs:     inputs,
				DecidedAt:  time.Now(),
			}); err != nil {
				return nil, err
			}
			return report, nil
		},
	}
}

// RegisterTriple registers n analysts plus an approving risk worker and a
// hold decider, the smallest registry shape that passes validation.
func RegisterTriple(registry *pipeline.Registry, analystCount int) error {
	for i := 0; i < analystCount; i++ {
		if err := registry.Register(NewAnalyst(analystName(i), 0.5)); err != nil {
			return err
		}
	}
	if err := registry.Register(NewRiskApprover("risk")); err != nil {
		return err
	}
	return registry.Register(NewDecider("decider", domain.ActionHold, 0.5))
}

func analystName(i int) string {
	names := []string{"technical", "fundamentals", "sentiment", "momentum"}
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("analyst-%d", i)
}
