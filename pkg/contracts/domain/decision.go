package domain

import (
	"time"
)

// DecisionAction is the recommendation produced at the end of a pipeline run.
type DecisionAction string

const (
	ActionBuy   DecisionAction = "buy"
	ActionHold  DecisionAction = "hold"
	ActionAvoid DecisionAction = "avoid"
)

// RiskAssessment is the output of the risk check that runs between the
// analyst stage and the final decision. Approved=false vetoes the run.
type RiskAssessment struct {
	Subject   string    `json:"subject"`
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason,omitempty"`
	Severity  float64   `json:"severity" validate:"min=0,max=1"`
	Exposure  Exposure  `json:"exposure"`
	CheckedAt time.Time `json:"checked_at"`
}

// Exposure describes current portfolio exposure relevant to a subject.
// It is supplied by an external read-only collaborator.
type Exposure struct {
	Subject       string  `json:"subject"`
	PositionValue float64 `json:"position_value"`
	PortfolioPct  float64 `json:"portfolio_pct"`
	SectorPct     float64 `json:"sector_pct"`
	OpenOrders    int     `json:"open_orders"`
}

// Decision is the final synthesized recommendation for one subject.
type Decision struct {
	Subject    string         `json:"subject"`
	Action     DecisionAction `json:"action" validate:"required,oneof=buy hold avoid"`
	Confidence float64        `json:"confidence" validate:"min=0,max=1"`
	Score      float64        `json:"score"`
	Rationale  string         `json:"rationale,omitempty"`
	Inputs     []string       `json:"inputs,omitempty"`
	DecidedAt  time.Time      `json:"decided_at"`
}
