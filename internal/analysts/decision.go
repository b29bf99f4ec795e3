package analysts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
)

// Composite weights per analyst kind, renormalized over the reports that
// actually survived stage 1.
var decisionWeights = map[domain.ReportKind]float64{
	domain.ReportKindTechnical:    0.35,
	domain.ReportKindFundamentals: 0.35,
	domain.ReportKindSentiment:    0.30,
}

// Action thresholds on the composite score.
const (
	buyThreshold   = 0.25
	avoidThreshold = -0.25
)

// DecisionMaker is the stage-3 worker. It folds the surviving analyst
// scores into one composite and maps it to buy, hold or avoid.
type DecisionMaker struct {
	pipeline.BaseWorker
}

// NewDecisionMaker creates the decision maker.
func NewDecisionMaker() *DecisionMaker {
	return &DecisionMaker{
		BaseWorker: pipeline.NewBaseWorker("decision-maker", "Decision Maker", pipeline.RoleDecision, 0),
	}
}

// scoredInput is one analyst contribution to the composite.
type scoredInput struct {
	producer   string
	kind       domain.ReportKind
	score      float64
	confidence float64
	weight     float64
}

// Produce implements pipeline.Worker.
func (d *DecisionMaker) Produce(ctx context.Context, job domain.Job, prior *pipeline.ReportSet) (*domain.Report, error) {
	inputs, err := collectInputs(prior)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no analyst reports to decide on")
	}

	decision := synthesize(job.Subject, inputs)

	report := &domain.Report{
		Producer:   d.ID(),
		Kind:       domain.ReportKindDecision,
		Subject:    job.Subject,
		Summary:    fmt.Sprintf("%s at score %+.2f", decision.Action, decision.Score),
		Confidence: decision.Confidence,
	}
	if err := report.EncodeData(decision); err != nil {
		return nil, fmt.Errorf("encoding decision: %w", err)
	}
	return report, nil
}

// collectInputs decodes the score out of each weighted analyst report.
func collectInputs(prior *pipeline.ReportSet) ([]scoredInput, error) {
	if prior == nil {
		return nil, nil
	}

	var inputs []scoredInput
	for _, r := range prior.List() {
		weight, ok := decisionWeights[r.Kind]
		if !ok {
			continue
		}
		var payload struct {
			Score float64 `json:"score"`
		}
		if err := r.DecodeData(&payload); err != nil {
			return nil, fmt.Errorf("decoding %s report from %s: %w", r.Kind, r.Producer, err)
		}
		inputs = append(inputs, scoredInput{
			producer:   r.Producer,
			kind:       r.Kind,
			score:      payload.Score,
			confidence: r.Confidence,
			weight:     weight,
		})
	}
	return inputs, nil
}

// synthesize renormalizes weights over the present inputs and maps the
// composite to an action. Confidence discounts for missing analysts.
func synthesize(subject string, inputs []scoredInput) domain.Decision {
	var totalWeight, composite, confidence float64
	for _, in := range inputs {
		totalWeight += in.weight
	}
	for _, in := range inputs {
		share := in.weight / totalWeight
		composite += in.score * share
		confidence += in.confidence * share
	}

	coverage := totalWeight // weights sum to 1 when all analysts reported
	confidence = clamp(confidence*coverage, 0, 1)

	action := domain.ActionHold
	switch {
	case composite >= buyThreshold:
		action = domain.ActionBuy
	case composite <= avoidThreshold:
		action = domain.ActionAvoid
	}

	return domain.Decision{
		Subject:    subject,
		Action:     action,
		Confidence: confidence,
		Score:      composite,
		Rationale:  rationale(inputs),
		Inputs:     producerIDs(inputs),
		DecidedAt:  time.Now(),
	}
}

func rationale(inputs []scoredInput) string {
	parts := make([]string, 0, len(inputs))
	for _, in := range inputs {
		parts = append(parts, fmt.Sprintf("%s %+.2f", in.kind, in.score))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func producerIDs(inputs []scoredInput) []string {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.producer)
	}
	return ids
}
