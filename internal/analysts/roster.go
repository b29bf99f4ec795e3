package analysts

import (
	"fmt"

	"tickerpulse/internal/pipeline"
)

// Roster bundles the collaborators behind the standard five-worker
// pipeline: three analysts, the risk checker and the decision maker.
type Roster struct {
	Quotes       QuoteProvider
	Fundamentals FundamentalsProvider
	Headlines    HeadlineProvider
	Exposure     pipeline.ExposureSource
	Risk         RiskPolicy
}

// SimRoster returns a roster backed entirely by the simulator.
func SimRoster(sim *Sim) Roster {
	return Roster{
		Quotes:       sim,
		Fundamentals: sim,
		Headlines:    sim,
		Exposure:     sim,
		Risk:         DefaultRiskPolicy(),
	}
}

// Register adds the full worker roster to the registry.
func (r Roster) Register(registry *pipeline.Registry) error {
	if r.Quotes == nil || r.Fundamentals == nil || r.Headlines == nil {
		return fmt.Errorf("roster requires all three analyst providers")
	}
	if r.Exposure == nil {
		return fmt.Errorf("roster requires an exposure source")
	}

	workers := []pipeline.Worker{
		NewTechnicalAnalyst(r.Quotes),
		NewFundamentalsAnalyst(r.Fundamentals),
		NewSentimentAnalyst(r.Headlines),
		NewRiskChecker(r.Exposure, r.Risk),
		NewDecisionMaker(),
	}
	for _, w := range workers {
		if err := registry.Register(w); err != nil {
			return fmt.Errorf("registering %s: %w", w.ID(), err)
		}
	}
	return nil
}
