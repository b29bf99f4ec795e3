package domain

import (
	"encoding/json"
	"time"
)

// ReportKind identifies the shape of a report's Data payload.
type ReportKind string

const (
	ReportKindTechnical    ReportKind = "technical"
	ReportKindFundamentals ReportKind = "fundamentals"
	ReportKindSentiment    ReportKind = "sentiment"
	ReportKindRisk         ReportKind = "risk"
	ReportKindDecision     ReportKind = "decision"
)

// Report is the partial result produced by a single worker.
// Reports are immutable once produced.
type Report struct {
	Producer   string          `json:"producer" validate:"required"`
	Kind       ReportKind      `json:"kind" validate:"required"`
	Subject    string          `json:"subject" validate:"required"`
	Summary    string          `json:"summary,omitempty"`
	Confidence float64         `json:"confidence" validate:"min=0,max=1"`
	Data       json.RawMessage `json:"data,omitempty"`
	ProducedAt time.Time       `json:"produced_at"`
}

// EncodeData marshals v into the report payload.
func (r *Report) EncodeData(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Data = data
	return nil
}

// DecodeData unmarshals the report payload into v.
func (r *Report) DecodeData(v interface{}) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}
