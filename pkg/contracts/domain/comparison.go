package domain

import (
	"time"
)

// RankedSubject is one row of a comparison outcome. Subjects whose pipeline
// did not reach a decision are flagged Incomplete and ranked after all
// complete results rather than dropped.
type RankedSubject struct {
	Subject    string    `json:"subject"`
	Rank       int       `json:"rank"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Action     string    `json:"action,omitempty"`
	Incomplete bool      `json:"incomplete"`
	Reason     string    `json:"reason,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	DecidedAt  time.Time `json:"decided_at,omitempty"`
}

// ComparisonResult aggregates the terminal states of a fan-out comparison.
type ComparisonResult struct {
	Subjects   []string        `json:"subjects"`
	Rankings   []RankedSubject `json:"rankings"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Incomplete int             `json:"incomplete_count"`
}

// Winner returns the top-ranked complete subject, if any.
func (c *ComparisonResult) Winner() (RankedSubject, bool) {
	for _, r := range c.Rankings {
		if !r.Incomplete {
			return r, true
		}
	}
	return RankedSubject{}, false
}
