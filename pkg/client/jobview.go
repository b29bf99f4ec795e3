package client

import (
	"encoding/json"
	"fmt"
	"time"

	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

// Worker progress states as seen from the stream.
const (
	WorkerRunning   = "running"
	WorkerCompleted = "completed"
	WorkerFailed    = "failed"
)

// WorkerView is the folded progress of one worker. A failed worker is a
// per-component condition; the rest of the view stays usable.
type WorkerView struct {
	ID         string         `json:"id"`
	Role       string         `json:"role,omitempty"`
	Status     string         `json:"status"`
	Report     *domain.Report `json:"report,omitempty"`
	FailReason string         `json:"fail_reason,omitempty"`
	FailKind   string         `json:"fail_kind,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
}

// Notice is one notification folded from the stream.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// JobView is the client-side reduction of one session's event stream.
// Apply has one arm per event type; anything unrecognized is an error so
// protocol drift shows up loudly in tests.
type JobView struct {
	Job       domain.Job `json:"job"`
	SessionID string     `json:"session_id,omitempty"`

	Started  bool                   `json:"started"`
	Analysts []string               `json:"analysts,omitempty"`
	Workers  map[string]*WorkerView `json:"workers,omitempty"`
	Notices  []Notice               `json:"notices,omitempty"`

	Veto       *events.VetoPayload       `json:"veto,omitempty"`
	Decision   *domain.Decision          `json:"decision,omitempty"`
	Comparison *domain.ComparisonResult  `json:"comparison,omitempty"`
	Fatal      *events.FatalErrorPayload `json:"fatal,omitempty"`
	Cancelled  *events.CancelledPayload  `json:"cancelled,omitempty"`

	LastSeq   uint64    `json:"last_seq"`
	UpdatedAt time.Time `json:"updated_at"`

	terminal bool
}

// NewJobView starts an empty view for a submission.
func NewJobView(job domain.Job) *JobView {
	return &JobView{
		Job:     job,
		Workers: make(map[string]*WorkerView),
	}
}

// Terminal reports whether a terminal event has been folded.
func (v *JobView) Terminal() bool {
	return v.terminal
}

// Apply folds one event into the view. The caller has already filtered
// by session id; Apply only interprets.
func (v *JobView) Apply(ev *events.Event) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}

	switch ev.Type {
	case events.EventTypeJobStarted:
		var payload events.JobStartedPayload
		if err := decodePayload(ev, &payload); err != nil {
			return err
		}
		v.SessionID = ev.SessionID
		v.Started = true
		v.Analysts = payload.Analysts

	case events.EventTypeWorkerStarted:
		var payload events.WorkerStartedPayload
		if err := decodePayload(ev, &payload); err != nil {
			return err
		}
		v.Workers[ev.Producer] = &WorkerView{
			ID:     ev.Producer,
			Role:   payload.Role,
			Status: WorkerRunning,
		}

	case events.EventTypeWorkerCompleted:
		var report domain.Report
		if err := decodePayload(ev, &report); err != nil {
			return err
		}
		w := v.worker(ev.Producer)
		w.Status = WorkerCompleted
		w.Report = &report

	case events.EventTypeWorkerFailed:
		var payload events.WorkerFailedPayload
		if err := decodePayload(ev, &payload); err != nil {
			return err
		}
		w := v.worker(ev.Producer)
		w.Status = WorkerFailed
		w.Role = payload.Role
		w.FailReason = payload.Reason
		w.FailKind = payload.Kind
		w.Retryable = payload.Retryable

	case events.EventTypeVeto:
		var payload events.VetoPayload
		if err := decodePayload(ev, &payload); err != nil {
			return err
		}
		v.Veto = &payload
		v.terminal = true

	case events.EventTypeDecision:
		var decision domain.Decision
		if err := decodePayload(ev, &decision); err != nil {
			return err
		}
		v.Decision = &decision
		v.terminal = true

	case events.EventTypeComparisonResult:
		var result domain.ComparisonResult
		if err := decodePayload(ev, &result); err != nil {
			return err
		}
		v.Comparison = &result
		v.terminal = true

	case events.EventTypeFatalError:
		var payload events.FatalErrorPayload
		if err := decodePayload(ev, &payload); err != nil {
			return err
		}
		v.Fatal = &payload
		v.terminal = true

	case events.EventTypeCancelled:
		var payload events.CancelledPayload
		if err := decodePayload(ev, &payload); err != nil {
			return err
		}
		v.Cancelled = &payload
		v.terminal = true

	case events.EventTypeNotification:
		var payload events.NotificationPayload
		if err := decodePayload(ev, &payload); err != nil {
			return err
		}
		v.Notices = append(v.Notices, Notice{
			Level:   payload.Level,
			Message: payload.Message,
			At:      ev.Timestamp,
		})

	default:
		return fmt.Errorf("unhandled event type %q", ev.Type)
	}

	v.LastSeq = ev.Seq
	v.UpdatedAt = ev.Timestamp
	return nil
}

// Outcome summarizes the terminal state in one word for display.
func (v *JobView) Outcome() string {
	switch {
	case v.Decision != nil:
		return "decided"
	case v.Comparison != nil:
		return "compared"
	case v.Veto != nil:
		return "vetoed"
	case v.Fatal != nil:
		return "failed"
	case v.Cancelled != nil:
		return "cancelled"
	case v.Started:
		return "running"
	default:
		return "pending"
	}
}

// CompletedWorkers returns how many workers have reported a result.
func (v *JobView) CompletedWorkers() int {
	n := 0
	for _, w := range v.Workers {
		if w.Status == WorkerCompleted {
			n++
		}
	}
	return n
}

// FailedWorkers returns how many workers failed.
func (v *JobView) FailedWorkers() int {
	n := 0
	for _, w := range v.Workers {
		if w.Status == WorkerFailed {
			n++
		}
	}
	return n
}

// Clone returns an independent snapshot of the view.
func (v *JobView) Clone() JobView {
	out := *v
	out.Workers = make(map[string]*WorkerView, len(v.Workers))
	for id, w := range v.Workers {
		wc := *w
		if w.Report != nil {
			rc := *w.Report
			wc.Report = &rc
		}
		out.Workers[id] = &wc
	}
	out.Analysts = append([]string(nil), v.Analysts...)
	out.Notices = append([]Notice(nil), v.Notices...)
	return out
}

func (v *JobView) worker(id string) *WorkerView {
	w, ok := v.Workers[id]
	if !ok {
		w = &WorkerView{ID: id}
		v.Workers[id] = w
	}
	return w
}

func decodePayload(ev *events.Event, dst interface{}) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return nil
}
