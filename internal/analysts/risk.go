package analysts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

// RiskPolicy holds the exposure caps the risk checker enforces. Any
// breach vetoes the run.
type RiskPolicy struct {
	MaxPortfolioPct float64 `json:"max_portfolio_pct"`
	MaxSectorPct    float64 `json:"max_sector_pct"`
	MaxOpenOrders   int     `json:"max_open_orders"`
}

// DefaultRiskPolicy returns the standard exposure caps.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		MaxPortfolioPct: 0.10,
		MaxSectorPct:    0.25,
		MaxOpenOrders:   5,
	}
}

// RiskChecker is the stage-2 worker. It reads current exposure from the
// read-only source and approves or vetoes; a veto carries the reason and
// a severity scaled by how far past the cap the exposure sits.
type RiskChecker struct {
	pipeline.BaseWorker
	exposure pipeline.ExposureSource
	policy   RiskPolicy
}

// NewRiskChecker creates the risk checker.
func NewRiskChecker(exposure pipeline.ExposureSource, policy RiskPolicy) *RiskChecker {
	return &RiskChecker{
		BaseWorker: pipeline.NewBaseWorker("risk-checker", "Risk Checker", pipeline.RoleRisk, 0),
		exposure:   exposure,
		policy:     policy,
	}
}

// Produce implements pipeline.Worker.
func (r *RiskChecker) Produce(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
	exposure, err := r.exposure.CurrentExposure(ctx, job.Subject)
	if err != nil {
		return nil, fmt.Errorf("reading exposure: %w", err)
	}

	assessment := r.assess(job.Subject, exposure)

	report := &domain.Report{
		Producer:   r.ID(),
		Kind:       domain.ReportKindRisk,
		Subject:    job.Subject,
		Summary:    riskSummary(assessment),
		Confidence: 1,
	}
	if err := report.EncodeData(assessment); err != nil {
		return nil, fmt.Errorf("encoding risk assessment: %w", err)
	}
	return report, nil
}

// assess applies each cap in turn. Severity is the worst single breach.
func (r *RiskChecker) assess(subject string, exposure domain.Exposure) domain.RiskAssessment {
	var reasons []string
	var severity float64

	check := func(value, limit float64, reason string) {
		if limit <= 0 || value <= limit {
			return
		}
		reasons = append(reasons, reason)
		if s := clamp((value-limit)/limit, 0, 1); s > severity {
			severity = s
		}
	}

	check(exposure.PortfolioPct, r.policy.MaxPortfolioPct,
		fmt.Sprintf("portfolio exposure %.1f%% exceeds cap %.1f%%", exposure.PortfolioPct*100, r.policy.MaxPortfolioPct*100))
	check(exposure.SectorPct, r.policy.MaxSectorPct,
		fmt.Sprintf("sector exposure %.1f%% exceeds cap %.1f%%", exposure.SectorPct*100, r.policy.MaxSectorPct*100))
	if r.policy.MaxOpenOrders > 0 && exposure.OpenOrders > r.policy.MaxOpenOrders {
		reasons = append(reasons, fmt.Sprintf("%d open orders exceed cap %d", exposure.OpenOrders, r.policy.MaxOpenOrders))
		if s := clamp(float64(exposure.OpenOrders-r.policy.MaxOpenOrders)/float64(r.policy.MaxOpenOrders), 0, 1); s > severity {
			severity = s
		}
	}

	return domain.RiskAssessment{
		Subject:   subject,
		Approved:  len(reasons) == 0,
		Reason:    strings.Join(reasons, "; "),
		Severity:  severity,
		Exposure:  exposure,
		CheckedAt: time.Now(),
	}
}

func riskSummary(a domain.RiskAssessment) string {
	if a.Approved {
		return fmt.Sprintf("approved at %.1f%% portfolio exposure", a.Exposure.PortfolioPct*100)
	}
	return "vetoed: " + a.Reason
}
