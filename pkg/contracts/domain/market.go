package domain

import (
	"time"
)

// Quote represents a current market quote for a subject.
type Quote struct {
	Symbol        string    `json:"symbol" validate:"required"`
	Last          float64   `json:"last" validate:"min=0"`
	Open          float64   `json:"open" validate:"min=0"`
	High          float64   `json:"high" validate:"min=0"`
	Low           float64   `json:"low" validate:"min=0"`
	PreviousClose float64   `json:"previous_close" validate:"min=0"`
	Volume        int64     `json:"volume" validate:"min=0"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	AsOf          time.Time `json:"as_of"`
}

// Fundamentals represents the valuation metrics consumed by the
// fundamentals analyst.
type Fundamentals struct {
	Symbol        string  `json:"symbol" validate:"required"`
	PE            float64 `json:"pe_ratio"`
	EPS           float64 `json:"eps"`
	DividendYield float64 `json:"dividend_yield"`
	ROE           float64 `json:"roe"`
	DebtToEquity  float64 `json:"debt_to_equity"`
	RevenueGrowth float64 `json:"revenue_growth"`
	MarketCap     float64 `json:"market_cap"`
}

// Headline is a single news item scored by the sentiment analyst.
type Headline struct {
	Title       string    `json:"title"`
	Source      string    `json:"source,omitempty"`
	Sentiment   float64   `json:"sentiment" validate:"min=-1,max=1"`
	PublishedAt time.Time `json:"published_at"`
}
