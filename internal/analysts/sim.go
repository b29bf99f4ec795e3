package analysts

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"tickerpulse/pkg/contracts/domain"
)

// Sim is a deterministic in-process stand-in for the market data vendor.
// Every read for a given symbol yields the same figures, so runs are
// reproducible; a shared rate limiter makes quota refusals reachable in
// tests and demos without a real upstream.
//
// Sim implements QuoteProvider, FundamentalsProvider, HeadlineProvider
// and pipeline.ExposureSource.
type Sim struct {
	limiter *rate.Limiter
	latency time.Duration
}

// NewSim creates a simulator gated at limit requests per second with the
// given burst. A non-positive limit disables gating.
func NewSim(limit rate.Limit, burst int) *Sim {
	if limit <= 0 {
		limit = rate.Inf
		burst = 1
	}
	return &Sim{limiter: rate.NewLimiter(limit, burst)}
}

// NewDefaultSim returns a simulator with a generous quota.
func NewDefaultSim() *Sim {
	return NewSim(rate.Limit(50), 100)
}

// WithLatency makes every call wait for d before answering, honouring
// context cancellation.
func (s *Sim) WithLatency(d time.Duration) *Sim {
	s.latency = d
	return s
}

// Quote implements QuoteProvider.
func (s *Sim) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := s.gate(ctx, "quote"); err != nil {
		return domain.Quote{}, err
	}

	r := symbolRand("quote", symbol)
	previous := 20 + r.Float64()*480
	changePct := (r.Float64() - 0.48) * 6 // slight upward drift
	last := previous * (1 + changePct/100)
	low := last * (1 - 0.005 - r.Float64()*0.02)
	high := last * (1 + 0.005 + r.Float64()*0.02)

	return domain.Quote{
		Symbol:        symbol,
		Last:          round2(last),
		Open:          round2(previous * (1 + (r.Float64()-0.5)/100)),
		High:          round2(high),
		Low:           round2(low),
		PreviousClose: round2(previous),
		Volume:        int64(1+r.Intn(40)) * 1_000_000,
		Change:        round2(last - previous),
		ChangePercent: round2(changePct),
		AsOf:          time.Now(),
	}, nil
}

// Fundamentals implements FundamentalsProvider.
func (s *Sim) Fundamentals(ctx context.Context, symbol string) (domain.Fundamentals, error) {
	if err := s.gate(ctx, "fundamentals"); err != nil {
		return domain.Fundamentals{}, err
	}

	r := symbolRand("fundamentals", symbol)
	pe := 5 + r.Float64()*45
	if r.Float64() < 0.1 {
		pe = -1 // loss-making
	}

	return domain.Fundamentals{
		Symbol:        symbol,
		PE:            round2(pe),
		EPS:           round2((r.Float64() - 0.2) * 12),
		DividendYield: round2(r.Float64() * 0.04),
		ROE:           round2((r.Float64() - 0.15) * 0.5),
		DebtToEquity:  round2(r.Float64() * 2.5),
		RevenueGrowth: round2((r.Float64() - 0.35) * 0.5),
		MarketCap:     round2(r.Float64() * 2e12),
	}, nil
}

var headlineTemplates = []struct {
	title     string
	sentiment float64
}{
	{"%s beats quarterly revenue estimates", 0.6},
	{"Analysts raise price target on %s", 0.7},
	{"%s announces expanded share buyback", 0.5},
	{"%s unveils new product line", 0.4},
	{"%s guidance disappoints investors", -0.7},
	{"%s faces regulatory inquiry", -0.6},
	{"Supply chain concerns weigh on %s", -0.4},
	{"Insider selling reported at %s", -0.3},
}

// Search implements HeadlineProvider.
func (s *Sim) Search(ctx context.Context, symbol string, limit int) ([]domain.Headline, error) {
	if err := s.gate(ctx, "headlines"); err != nil {
		return nil, err
	}

	r := symbolRand("headlines", symbol)
	count := 3 + r.Intn(4)
	if limit > 0 && count > limit {
		count = limit
	}

	headlines := make([]domain.Headline, 0, count)
	perm := r.Perm(len(headlineTemplates))
	for i := 0; i < count; i++ {
		tpl := headlineTemplates[perm[i%len(perm)]]
		headlines = append(headlines, domain.Headline{
			Title:       fmt.Sprintf(tpl.title, symbol),
			Source:      "simwire",
			Sentiment:   clamp(tpl.sentiment+(r.Float64()-0.5)*0.3, -1, 1),
			PublishedAt: time.Now().Add(-time.Duration(1+r.Intn(72)) * time.Hour),
		})
	}
	return headlines, nil
}

// CurrentExposure implements pipeline.ExposureSource. Exposure varies by
// symbol, so some subjects naturally trip the risk caps.
func (s *Sim) CurrentExposure(ctx context.Context, subject string) (domain.Exposure, error) {
	if err := s.gate(ctx, "exposure"); err != nil {
		return domain.Exposure{}, err
	}

	r := symbolRand("exposure", subject)
	portfolioPct := r.Float64() * 0.15
	return domain.Exposure{
		Subject:       subject,
		PositionValue: round2(portfolioPct * 1_000_000),
		PortfolioPct:  round4(portfolioPct),
		SectorPct:     round4(r.Float64() * 0.35),
		OpenOrders:    r.Intn(7),
	}, nil
}

func (s *Sim) gate(ctx context.Context, op string) error {
	if !s.limiter.Allow() {
		return fmt.Errorf("sim %s: %w", op, ErrRateLimited)
	}
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// symbolRand returns a generator seeded from the salt and symbol, so each
// provider reads decorrelated but stable figures per symbol.
func symbolRand(salt, symbol string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(salt))
	h.Write([]byte(symbol))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
