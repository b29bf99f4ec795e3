package compare

import (
	"context"
	"fmt"

	"tickerpulse/internal/pipeline"
	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

// legPublisher adapts one subject's pipeline events onto the parent
// comparison stream. The parent session must stay open until the ranking
// is published, so a leg's terminal events are reduced to notifications;
// comparison_result is the stream's single terminal event.
type legPublisher struct {
	subject string
	parent  pipeline.Publisher
	forward bool
}

func newLegPublisher(subject string, parent pipeline.Publisher, forward bool) *legPublisher {
	return &legPublisher{subject: subject, parent: parent, forward: forward}
}

// Publish implements pipeline.Publisher for one comparison leg.
func (p *legPublisher) Publish(ctx context.Context, evType events.EventType, producer string, payload interface{}) {
	if !p.forward {
		return
	}

	switch evType {
	case events.EventTypeJobStarted:
		// The parent stream already announced the comparison.
		return

	case events.EventTypeWorkerStarted,
		events.EventTypeWorkerCompleted,
		events.EventTypeWorkerFailed,
		events.EventTypeNotification:
		p.parent.Publish(ctx, evType, p.tag(producer), payload)

	case events.EventTypeDecision,
		events.EventTypeVeto,
		events.EventTypeFatalError,
		events.EventTypeCancelled:
		p.parent.Publish(ctx, events.EventTypeNotification, p.subject, events.NotificationPayload{
			Level:   legOutcomeLevel(evType),
			Message: legOutcomeMessage(p.subject, payload),
		})
	}
}

// tag scopes a producer id to this leg's subject.
func (p *legPublisher) tag(producer string) string {
	if producer == "" {
		return p.subject
	}
	return p.subject + "/" + producer
}

func legOutcomeLevel(evType events.EventType) string {
	switch evType {
	case events.EventTypeDecision:
		return events.LevelInfo
	case events.EventTypeFatalError:
		return events.LevelError
	}
	return events.LevelWarning
}

func legOutcomeMessage(subject string, payload interface{}) string {
	switch v := payload.(type) {
	case *domain.Decision:
		return fmt.Sprintf("%s: decision %s (confidence %.2f)", subject, v.Action, v.Confidence)
	case events.VetoPayload:
		return fmt.Sprintf("%s: vetoed: %s", subject, v.Reason)
	case events.FatalErrorPayload:
		return fmt.Sprintf("%s: failed: %s", subject, v.Reason)
	case events.CancelledPayload:
		return fmt.Sprintf("%s: cancelled", subject)
	}
	return fmt.Sprintf("%s: concluded", subject)
}
