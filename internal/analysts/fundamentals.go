package analysts

import (
	"context"
	"fmt"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

// Sector baselines for valuation scoring.
const (
	baselinePE       = 18.0
	baselineROE      = 0.25
	baselineGrowth   = 0.20
	baselineLeverage = 1.5
)

// FundamentalsSnapshot is the payload of a fundamentals analyst report.
type FundamentalsSnapshot struct {
	Fundamentals domain.Fundamentals `json:"fundamentals"`
	Valuation    float64             `json:"valuation"`
	Quality      float64             `json:"quality"`
	Growth       float64             `json:"growth"`
	Leverage     float64             `json:"leverage"`
	Score        float64             `json:"score"`
	Signal       string              `json:"signal"`
}

// FundamentalsAnalyst scores valuation, quality, growth and leverage
// against fixed sector baselines.
type FundamentalsAnalyst struct {
	pipeline.BaseWorker
	provider FundamentalsProvider
}

// NewFundamentalsAnalyst creates the fundamentals analyst.
func NewFundamentalsAnalyst(provider FundamentalsProvider) *FundamentalsAnalyst {
	return &FundamentalsAnalyst{
		BaseWorker: pipeline.NewBaseWorker("analyst-fundamentals", "Fundamentals Analyst", pipeline.RoleAnalyst, 0),
		provider:   provider,
	}
}

// Produce implements pipeline.Worker.
func (a *FundamentalsAnalyst) Produce(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
	fundamentals, err := a.provider.Fundamentals(ctx, job.Subject)
	if err != nil {
		return nil, mapProviderError(a.ID(), "fetching fundamentals", err)
	}

	snapshot := scoreFundamentals(fundamentals)

	report := &domain.Report{
		Producer:   a.ID(),
		Kind:       domain.ReportKindFundamentals,
		Subject:    job.Subject,
		Summary:    fmt.Sprintf("%s at PE %.1f, ROE %.0f%%, growth %.0f%%", snapshot.Signal, fundamentals.PE, fundamentals.ROE*100, fundamentals.RevenueGrowth*100),
		Confidence: fundamentalsConfidence(fundamentals),
	}
	if err := report.EncodeData(snapshot); err != nil {
		return nil, fmt.Errorf("encoding fundamentals snapshot: %w", err)
	}
	return report, nil
}

func scoreFundamentals(f domain.Fundamentals) FundamentalsSnapshot {
	valuation := -0.3 // loss-making default
	if f.PE > 0 {
		valuation = clamp((baselinePE-f.PE)/baselinePE, -1, 1)
	}
	quality := clamp(f.ROE/baselineROE, -1, 1)
	growth := clamp(f.RevenueGrowth/baselineGrowth, -1, 1)
	leverage := clamp((baselineLeverage-f.DebtToEquity)/baselineLeverage, -1, 1)

	score := 0.35*valuation + 0.25*quality + 0.25*growth + 0.15*leverage
	return FundamentalsSnapshot{
		Fundamentals: f,
		Valuation:    valuation,
		Quality:      quality,
		Growth:       growth,
		Leverage:     leverage,
		Score:        score,
		Signal:       signalFor(score),
	}
}

func fundamentalsConfidence(f domain.Fundamentals) float64 {
	fields := 0
	if f.PE != 0 {
		fields++
	}
	if f.ROE != 0 {
		fields++
	}
	if f.RevenueGrowth != 0 {
		fields++
	}
	if f.DebtToEquity != 0 {
		fields++
	}
	return 0.5 + 0.1*float64(fields)
}
