// Package pipeline provides the multi-stage analysis engine that runs a
// submitted job through three stages: a concurrent analyst fan-out, a
// sequential risk check that may veto the run, and a final decision
// synthesis.
//
// Core components:
//
// Orchestrator: runs one job end to end, enforcing the stage barrier,
// per-worker and per-job timeouts, and the terminal-event guarantees of
// the stream protocol.
//
// Worker: the adapter interface every analysis unit implements. Workers
// are registered by role; analysts run concurrently while the risk and
// decision workers run alone in their stages.
//
// Registry: manages worker registration, buckets workers by role and
// validates the stage shape before a run is accepted.
//
// JobState: the mutable aggregate owned by a single run. It accumulates
// reports, the risk assessment and the final decision, and is never
// shared between sessions.
//
// Example usage:
//
//	registry := pipeline.NewRegistry()
//	registry.Register(analysts.NewTechnicalAnalyst(quotes))
//	registry.Register(analysts.NewRiskChecker(exposure))
//	registry.Register(analysts.NewDecisionMaker())
//
//	orch := pipeline.NewOrchestrator(registry, pipeline.NewConfig(), archive, logger)
//	state, err := orch.Run(ctx, sessionID, job, publisher)
//
// Progress is emitted through the Publisher as typed stream events; the
// session layer assigns sequence numbers and routes them to the sole
// subscriber.
package pipeline
