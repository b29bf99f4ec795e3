package analysts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

func TestTechnicalAnalystProduce(t *testing.T) {
	providers := &stubProviders{quote: upQuote()}
	analyst := NewTechnicalAnalyst(providers)

	report, err := analyst.Produce(context.Background(), domain.Job{Subject: "AAPL"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "analyst-technical", report.Producer)
	assert.Equal(t, domain.ReportKindTechnical, report.Kind)
	assert.Equal(t, "AAPL", report.Subject)
	assert.InDelta(t, 0.9, report.Confidence, 1e-9)
	assert.Contains(t, report.Summary, SignalBullish)

	var snapshot TechnicalSnapshot
	require.NoError(t, report.DecodeData(&snapshot))
	assert.Equal(t, SignalBullish, snapshot.Signal)
	assert.Greater(t, snapshot.Score, 0.15)
	assert.Equal(t, "AAPL", snapshot.Quote.Symbol)
}

func TestScoreQuoteSignals(t *testing.T) {
	flat := domain.Quote{
		Symbol: "AAPL", Last: 100, Open: 100, High: 101, Low: 99,
		PreviousClose: 100, Volume: 1_000_000,
	}

	tests := []struct {
		name   string
		quote  domain.Quote
		signal string
	}{
		{"strong up day", upQuote(), SignalBullish},
		{"strong down day", downQuote(), SignalBearish},
		{"flat mid-range", flat, SignalNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := scoreQuote(tt.quote)
			assert.Equal(t, tt.signal, snapshot.Signal)
			assert.GreaterOrEqual(t, snapshot.Score, -1.0)
			assert.LessOrEqual(t, snapshot.Score, 1.0)
		})
	}
}

func TestScoreQuoteDegenerateRange(t *testing.T) {
	q := domain.Quote{Symbol: "HALT", Last: 50, Open: 50, High: 50, Low: 50, PreviousClose: 50}

	snapshot := scoreQuote(q)

	assert.False(t, math.IsNaN(snapshot.Score))
	assert.InDelta(t, 0.5, snapshot.RangePosition, 1e-9)
	assert.Equal(t, SignalNeutral, snapshot.Signal)
}

func TestQuoteConfidenceDegradesOnThinData(t *testing.T) {
	full := upQuote()
	assert.InDelta(t, 0.9, quoteConfidence(full), 1e-9)

	thin := full
	thin.Volume = 0
	thin.High = thin.Low
	assert.InDelta(t, 0.55, quoteConfidence(thin), 1e-9)
}

func TestTechnicalAnalystRateLimited(t *testing.T) {
	providers := &stubProviders{quoteErr: fmt.Errorf("quota exhausted: %w", ErrRateLimited)}
	analyst := NewTechnicalAnalyst(providers)

	_, err := analyst.Produce(context.Background(), domain.Job{Subject: "AAPL"}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.ErrorKindRateLimit, pipeline.KindOf(err))
	assert.True(t, pipeline.IsRetryable(err))
}

func TestTechnicalAnalystProviderFailure(t *testing.T) {
	providers := &stubProviders{quoteErr: errors.New("feed down")}
	analyst := NewTechnicalAnalyst(providers)

	_, err := analyst.Produce(context.Background(), domain.Job{Subject: "AAPL"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching quote")
	assert.Equal(t, pipeline.ErrorKindWorker, pipeline.KindOf(err))
}
