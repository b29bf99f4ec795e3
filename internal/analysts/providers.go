// Package analysts contains the production workers: three stage-1
// analysts over external data providers, the risk checker and the
// decision maker. Workers are thin adapters; everything they know about
// the outside world comes in through the provider interfaces.
package analysts

import (
	"context"
	"errors"
	"fmt"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

// ErrRateLimited is wrapped by providers refusing a call for quota
// reasons. Adapters surface it as a retryable rate_limit worker error.
var ErrRateLimited = errors.New("provider rate limited")

// QuoteProvider serves current market quotes.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// FundamentalsProvider serves valuation metrics.
type FundamentalsProvider interface {
	Fundamentals(ctx context.Context, symbol string) (domain.Fundamentals, error)
}

// HeadlineProvider searches recent news for a symbol. Implementations
// return at most limit headlines, newest first.
type HeadlineProvider interface {
	Search(ctx context.Context, symbol string, limit int) ([]domain.Headline, error)
}

// mapProviderError classifies a provider failure for the pipeline: quota
// refusals become retryable rate_limit errors attributed to the worker,
// anything else stays a plain worker failure.
func mapProviderError(workerID, op string, err error) error {
	if errors.Is(err, ErrRateLimited) {
		return pipeline.NewRateLimitError(workerID, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
