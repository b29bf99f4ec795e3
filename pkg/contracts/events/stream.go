// Package events contains the wire contract for the TickerPulse event
// stream. Every message pushed over a session channel is an Event; clients
// fold events into their local view of the running job.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event on a session stream.
type EventType string

const (
	// Lifecycle events
	EventTypeJobStarted EventType = "job_started"
	EventTypeCancelled  EventType = "cancelled"
	EventTypeFatalError EventType = "fatal_error"

	// Worker events
	EventTypeWorkerStarted   EventType = "worker_started"
	EventTypeWorkerCompleted EventType = "worker_completed"
	EventTypeWorkerFailed    EventType = "worker_failed"

	// Outcome events
	EventTypeVeto             EventType = "veto"
	EventTypeDecision         EventType = "decision"
	EventTypeComparisonResult EventType = "comparison_result"

	// Out-of-band notices that do not affect the job state
	EventTypeNotification EventType = "notification"
)

// Event is the single envelope for all server-to-client stream messages.
// Seq is assigned by the session publisher and is strictly increasing per
// session; clients use it to detect reordering. Producer is empty for
// events not attributable to a single worker.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Producer  string          `json:"producer,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
}

// IsTerminal reports whether this event concludes its session. No further
// events are published for a session after a terminal event.
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case EventTypeDecision, EventTypeVeto, EventTypeComparisonResult,
		EventTypeFatalError, EventTypeCancelled:
		return true
	}
	return false
}

// DecodePayload unmarshals the event payload into v.
func (e *Event) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// JobStartedPayload announces the session and the analyst roster for a
// freshly accepted job. The session_id on the envelope is the id the
// client must track from this point on.
type JobStartedPayload struct {
	Subject  string   `json:"subject"`
	Mode     string   `json:"mode,omitempty"`
	Analysts []string `json:"analysts"`
}

// WorkerStartedPayload marks a worker entering execution.
type WorkerStartedPayload struct {
	Role string `json:"role"`
}

// WorkerFailedPayload carries the isolated failure of a single worker.
// The pipeline continues; siblings are unaffected.
type WorkerFailedPayload struct {
	Role      string `json:"role"`
	Reason    string `json:"reason"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// VetoPayload carries the risk worker's rejection. A veto terminates the
// session; the decision stage never runs.
type VetoPayload struct {
	Reason   string  `json:"reason"`
	Severity float64 `json:"severity,omitempty"`
}

// FatalErrorPayload is published when the pipeline cannot continue, for
// example when every analyst failed before the barrier.
type FatalErrorPayload struct {
	Reason string `json:"reason"`
	Stage  string `json:"stage,omitempty"`
}

// CancelledPayload acknowledges a cooperative cancellation.
type CancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NotificationPayload carries operator-facing notices such as a thinned
// analyst roster. Notifications never alter the folded job state.
type NotificationPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Notification levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)
