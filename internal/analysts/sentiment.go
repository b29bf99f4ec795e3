package analysts

import (
	"context"
	"fmt"
	"math"
	"time"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

const defaultHeadlineLimit = 8

// SentimentSnapshot is the payload of a sentiment analyst report.
type SentimentSnapshot struct {
	HeadlineCount int     `json:"headline_count"`
	Positive      int     `json:"positive"`
	Negative      int     `json:"negative"`
	Mean          float64 `json:"mean_sentiment"`
	Score         float64 `json:"score"`
	Signal        string  `json:"signal"`
	TopHeadline   string  `json:"top_headline,omitempty"`
}

// SentimentAnalyst aggregates recent headline sentiment, weighting newer
// items more heavily. No coverage is a low-confidence neutral report, not
// a failure.
type SentimentAnalyst struct {
	pipeline.BaseWorker
	headlines HeadlineProvider
	limit     int
}

// NewSentimentAnalyst creates the sentiment analyst.
func NewSentimentAnalyst(headlines HeadlineProvider) *SentimentAnalyst {
	return &SentimentAnalyst{
		BaseWorker: pipeline.NewBaseWorker("analyst-sentiment", "Sentiment Analyst", pipeline.RoleAnalyst, 0),
		headlines:  headlines,
		limit:      defaultHeadlineLimit,
	}
}

// Produce implements pipeline.Worker.
func (a *SentimentAnalyst) Produce(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
	headlines, err := a.headlines.Search(ctx, job.Subject, a.limit)
	if err != nil {
		return nil, mapProviderError(a.ID(), "searching headlines", err)
	}

	snapshot := scoreHeadlines(headlines, time.Now())

	summary := fmt.Sprintf("%s across %d headlines", snapshot.Signal, snapshot.HeadlineCount)
	if snapshot.HeadlineCount == 0 {
		summary = "no recent coverage"
	}

	report := &domain.Report{
		Producer:   a.ID(),
		Kind:       domain.ReportKindSentiment,
		Subject:    job.Subject,
		Summary:    summary,
		Confidence: sentimentConfidence(snapshot.HeadlineCount),
	}
	if err := report.EncodeData(snapshot); err != nil {
		return nil, fmt.Errorf("encoding sentiment snapshot: %w", err)
	}
	return report, nil
}

// scoreHeadlines computes a recency-weighted mean sentiment. A headline
// loses half its weight roughly every 24 hours.
func scoreHeadlines(headlines []domain.Headline, now time.Time) SentimentSnapshot {
	snapshot := SentimentSnapshot{HeadlineCount: len(headlines), Signal: SignalNeutral}
	if len(headlines) == 0 {
		return snapshot
	}

	var weighted, weights, strongest float64
	for _, h := range headlines {
		age := now.Sub(h.PublishedAt).Hours()
		if age < 0 {
			age = 0
		}
		w := math.Exp2(-age / 24)
		weighted += h.Sentiment * w
		weights += w

		if h.Sentiment > 0 {
			snapshot.Positive++
		} else if h.Sentiment < 0 {
			snapshot.Negative++
		}
		if math.Abs(h.Sentiment) > math.Abs(strongest) {
			strongest = h.Sentiment
			snapshot.TopHeadline = h.Title
		}
	}

	snapshot.Mean = weighted / weights
	snapshot.Score = clamp(snapshot.Mean, -1, 1)
	snapshot.Signal = signalFor(snapshot.Score)
	return snapshot
}

func sentimentConfidence(count int) float64 {
	if count == 0 {
		return 0.2
	}
	return math.Min(0.3+0.08*float64(count), 0.85)
}
