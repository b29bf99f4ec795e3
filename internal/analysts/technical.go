package analysts

import (
	"context"
	"fmt"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

// Signal labels on analyst snapshots.
const (
	SignalBullish = "bullish"
	SignalBearish = "bearish"
	SignalNeutral = "neutral"
)

// TechnicalSnapshot is the payload of a technical analyst report.
type TechnicalSnapshot struct {
	Quote         domain.Quote `json:"quote"`
	Momentum      float64      `json:"momentum"`
	RangePosition float64      `json:"range_position"`
	GapPercent    float64      `json:"gap_percent"`
	Score         float64      `json:"score"`
	Signal        string       `json:"signal"`
}

// TechnicalAnalyst scores intraday price action from a current quote.
type TechnicalAnalyst struct {
	pipeline.BaseWorker
	quotes QuoteProvider
}

// NewTechnicalAnalyst creates the technical analyst over a quote provider.
func NewTechnicalAnalyst(quotes QuoteProvider) *TechnicalAnalyst {
	return &TechnicalAnalyst{
		BaseWorker: pipeline.NewBaseWorker("analyst-technical", "Technical Analyst", pipeline.RoleAnalyst, 0),
		quotes:     quotes,
	}
}

// Produce implements pipeline.Worker.
func (a *TechnicalAnalyst) Produce(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
	quote, err := a.quotes.Quote(ctx, job.Subject)
	if err != nil {
		return nil, mapProviderError(a.ID(), "fetching quote", err)
	}

	snapshot := scoreQuote(quote)

	report := &domain.Report{
		Producer:   a.ID(),
		Kind:       domain.ReportKindTechnical,
		Subject:    job.Subject,
		Summary:    fmt.Sprintf("%s on %.1f%% day move, range position %.2f", snapshot.Signal, quote.ChangePercent, snapshot.RangePosition),
		Confidence: quoteConfidence(quote),
	}
	if err := report.EncodeData(snapshot); err != nil {
		return nil, fmt.Errorf("encoding technical snapshot: %w", err)
	}
	return report, nil
}

// scoreQuote reduces a quote to a composite score in [-1, 1].
func scoreQuote(q domain.Quote) TechnicalSnapshot {
	momentum := clamp(q.ChangePercent/5, -1, 1)

	rangePos := 0.5
	if q.High > q.Low {
		rangePos = clamp((q.Last-q.Low)/(q.High-q.Low), 0, 1)
	}

	gap := 0.0
	if q.PreviousClose > 0 {
		gap = (q.Open - q.PreviousClose) / q.PreviousClose * 100
	}

	score := 0.5*momentum + 0.3*(rangePos-0.5)*2 + 0.2*clamp(gap/3, -1, 1)
	return TechnicalSnapshot{
		Quote:         q,
		Momentum:      momentum,
		RangePosition: rangePos,
		GapPercent:    gap,
		Score:         score,
		Signal:        signalFor(score),
	}
}

func signalFor(score float64) string {
	switch {
	case score >= 0.15:
		return SignalBullish
	case score <= -0.15:
		return SignalBearish
	}
	return SignalNeutral
}

func quoteConfidence(q domain.Quote) float64 {
	confidence := 0.55
	if q.Volume > 0 {
		confidence += 0.15
	}
	if q.High > q.Low {
		confidence += 0.2
	}
	return confidence
}
