package analysts

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tickerpulse/pkg/contracts/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubProviders answers every provider interface from fixed values.
type stubProviders struct {
	quote           domain.Quote
	quoteErr        error
	fundamentals    domain.Fundamentals
	fundamentalsErr error
	headlines       []domain.Headline
	headlinesErr    error
	exposure        domain.Exposure
	exposureErr     error
}

func (s *stubProviders) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if s.quoteErr != nil {
		return domain.Quote{}, s.quoteErr
	}
	return s.quote, nil
}

func (s *stubProviders) Fundamentals(ctx context.Context, symbol string) (domain.Fundamentals, error) {
	if s.fundamentalsErr != nil {
		return domain.Fundamentals{}, s.fundamentalsErr
	}
	return s.fundamentals, nil
}

func (s *stubProviders) Search(ctx context.Context, symbol string, limit int) ([]domain.Headline, error) {
	if s.headlinesErr != nil {
		return nil, s.headlinesErr
	}
	if limit > 0 && len(s.headlines) > limit {
		return s.headlines[:limit], nil
	}
	return s.headlines, nil
}

func (s *stubProviders) CurrentExposure(ctx context.Context, subject string) (domain.Exposure, error) {
	if s.exposureErr != nil {
		return domain.Exposure{}, s.exposureErr
	}
	return s.exposure, nil
}

// upQuote is a strongly bullish quote fixture.
func upQuote() domain.Quote {
	return domain.Quote{
		Symbol:        "AAPL",
		Last:          104.5,
		Open:          101,
		High:          105,
		Low:           100,
		PreviousClose: 100,
		Volume:        5_000_000,
		Change:        4.5,
		ChangePercent: 4.5,
		AsOf:          time.Now(),
	}
}

// downQuote is a strongly bearish quote fixture.
func downQuote() domain.Quote {
	return domain.Quote{
		Symbol:        "AAPL",
		Last:          95.2,
		Open:          99,
		High:          100,
		Low:           95,
		PreviousClose: 100,
		Volume:        5_000_000,
		Change:        -4.8,
		ChangePercent: -4.8,
		AsOf:          time.Now(),
	}
}

func makeScored(t *testing.T, kind domain.ReportKind, producer string, score, confidence float64) *domain.Report {
	t.Helper()
	report := &domain.Report{
		Producer:   producer,
		Kind:       kind,
		Subject:    "AAPL",
		Confidence: confidence,
		ProducedAt: time.Now(),
	}
	require.NoError(t, report.EncodeData(struct {
		Score float64 `json:"score"`
	}{score}))
	return report
}
