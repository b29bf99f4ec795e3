package pipeline

import (
	"context"

	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

// Publisher receives the events an orchestrator emits during a run. The
// session layer implements it, assigning sequence numbers and routing to
// the sole subscriber; tests use a capture fake.
//
// Publish must not block the pipeline: implementations buffer or drop.
type Publisher interface {
	Publish(ctx context.Context, evType events.EventType, producer string, payload interface{})
}

// ArchiveSink persists terminal run states. Calls are best-effort; the
// orchestrator invokes them asynchronously and an error never affects the
// event stream or the run outcome.
type ArchiveSink interface {
	StoreResult(ctx context.Context, state *JobState) error
}

// ExposureSource supplies current portfolio exposure to the risk stage.
type ExposureSource interface {
	CurrentExposure(ctx context.Context, subject string) (domain.Exposure, error)
}

// NopArchiveSink discards terminal states. Used when persistence is not
// configured.
type NopArchiveSink struct{}

// StoreResult implements ArchiveSink.
func (NopArchiveSink) StoreResult(ctx context.Context, state *JobState) error {
	return nil
}

// StaticExposureSource serves a fixed exposure for every subject. Used in
// tests and when no portfolio backend is configured.
type StaticExposureSource struct {
	Exposure domain.Exposure
}

// CurrentExposure implements ExposureSource.
func (s StaticExposureSource) CurrentExposure(ctx context.Context, subject string) (domain.Exposure, error) {
	exposure := s.Exposure
	exposure.Subject = subject
	return exposure, nil
}
