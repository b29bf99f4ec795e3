package analysts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

func fullReportSet(t *testing.T, technical, fundamentals, sentiment float64) *pipeline.ReportSet {
	t.Helper()
	set := pipeline.NewReportSet()
	set.Add(makeScored(t, domain.ReportKindTechnical, "analyst-technical", technical, 0.9))
	set.Add(makeScored(t, domain.ReportKindFundamentals, "analyst-fundamentals", fundamentals, 0.8))
	set.Add(makeScored(t, domain.ReportKindSentiment, "analyst-sentiment", sentiment, 0.7))
	return set
}

func TestDecisionMakerActions(t *testing.T) {
	tests := []struct {
		name                               string
		technical, fundamentals, sentiment float64
		action                             domain.DecisionAction
	}{
		{"strong composite buys", 0.6, 0.4, 0.2, domain.ActionBuy},
		{"weak composite avoids", -0.6, -0.4, -0.2, domain.ActionAvoid},
		{"mixed composite holds", 0.1, 0.0, -0.1, domain.ActionHold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker := NewDecisionMaker()
			prior := fullReportSet(t, tt.technical, tt.fundamentals, tt.sentiment)

			report, err := maker.Produce(context.Background(), domain.Job{Subject: "AAPL"}, prior)
			require.NoError(t, err)

			assert.Equal(t, "decision-maker", report.Producer)
			assert.Equal(t, domain.ReportKindDecision, report.Kind)

			var decision domain.Decision
			require.NoError(t, report.DecodeData(&decision))
			assert.Equal(t, tt.action, decision.Action)
			assert.Equal(t, "AAPL", decision.Subject)
		})
	}
}

func TestDecisionMakerCompositeMath(t *testing.T) {
	maker := NewDecisionMaker()
	prior := fullReportSet(t, 0.6, 0.4, 0.2)

	report, err := maker.Produce(context.Background(), domain.Job{Subject: "AAPL"}, prior)
	require.NoError(t, err)

	var decision domain.Decision
	require.NoError(t, report.DecodeData(&decision))
	// 0.6*0.35 + 0.4*0.35 + 0.2*0.30 with full coverage.
	assert.InDelta(t, 0.41, decision.Score, 1e-9)
	assert.InDelta(t, 0.805, decision.Confidence, 1e-9)
	assert.ElementsMatch(t, []string{"analyst-technical", "analyst-fundamentals", "analyst-sentiment"}, decision.Inputs)
	assert.Contains(t, decision.Rationale, "technical +0.60")
	assert.Contains(t, decision.Rationale, "sentiment +0.20")
}

func TestDecisionMakerRenormalizesMissingAnalysts(t *testing.T) {
	maker := NewDecisionMaker()
	prior := pipeline.NewReportSet()
	prior.Add(makeScored(t, domain.ReportKindTechnical, "analyst-technical", 0.3, 0.8))

	report, err := maker.Produce(context.Background(), domain.Job{Subject: "AAPL"}, prior)
	require.NoError(t, err)

	var decision domain.Decision
	require.NoError(t, report.DecodeData(&decision))
	// The lone score carries full weight, but confidence discounts for
	// the two missing analysts.
	assert.InDelta(t, 0.3, decision.Score, 1e-9)
	assert.Equal(t, domain.ActionBuy, decision.Action)
	assert.InDelta(t, 0.28, decision.Confidence, 1e-9) // 0.8 * 0.35 coverage
}

func TestDecisionMakerIgnoresRiskReport(t *testing.T) {
	maker := NewDecisionMaker()
	prior := fullReportSet(t, 0.2, 0.2, 0.2)

	risk := &domain.Report{Producer: "risk-checker", Kind: domain.ReportKindRisk, Subject: "AAPL", Confidence: 1}
	require.NoError(t, risk.EncodeData(domain.RiskAssessment{Subject: "AAPL", Approved: true}))
	prior.Add(risk)

	report, err := maker.Produce(context.Background(), domain.Job{Subject: "AAPL"}, prior)
	require.NoError(t, err)

	var decision domain.Decision
	require.NoError(t, report.DecodeData(&decision))
	assert.InDelta(t, 0.2, decision.Score, 1e-9)
	assert.NotContains(t, decision.Inputs, "risk-checker")
}

func TestDecisionMakerNoInputs(t *testing.T) {
	maker := NewDecisionMaker()

	_, err := maker.Produce(context.Background(), domain.Job{Subject: "AAPL"}, pipeline.NewReportSet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no analyst reports")
}

func TestDecisionMakerBadPayload(t *testing.T) {
	maker := NewDecisionMaker()
	prior := pipeline.NewReportSet()
	prior.Add(&domain.Report{
		Producer: "analyst-technical",
		Kind:     domain.ReportKindTechnical,
		Subject:  "AAPL",
		Data:     []byte(`{"score":"high"}`),
	})

	_, err := maker.Produce(context.Background(), domain.Job{Subject: "AAPL"}, prior)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyst-technical")
}
