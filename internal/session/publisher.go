package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"tickerpulse/internal/infrastructure"
	"tickerpulse/pkg/contracts/events"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives fully stamped events for delivery to the session's
// subscriber. Deliver must not block; the stream layer drops rather
// than stalls when nobody is listening.
type Sink interface {
	Deliver(ctx context.Context, ev *events.Event)
}

// NopSink discards all events.
type NopSink struct{}

// Deliver discards the event.
func (NopSink) Deliver(ctx context.Context, ev *events.Event) {}

// Publisher stamps events for one session: it assigns the strictly
// increasing sequence, the session id and the timestamp, and enforces
// that nothing follows a terminal event. It satisfies the pipeline's
// Publisher interface.
type Publisher struct {
	sessionID string
	sink      Sink
	logger    *slog.Logger
	activity  func()

	metricsMu sync.RWMutex
	metrics   *infrastructure.BusinessMetrics

	mu       sync.Mutex
	seq      uint64
	terminal bool
}

// NewPublisher creates a publisher for one session. activity may be nil.
func NewPublisher(sessionID string, sink Sink, logger *slog.Logger, activity func()) *Publisher {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sessionID: sessionID,
		sink:      sink,
		logger:    logger.With(slog.String("component", "session.publisher")),
		activity:  activity,
	}
}

// BindMetrics attaches business metrics.
func (p *Publisher) BindMetrics(m *infrastructure.BusinessMetrics) {
	p.metricsMu.Lock()
	p.metrics = m
	p.metricsMu.Unlock()
}

func (p *Publisher) businessMetrics() *infrastructure.BusinessMetrics {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return p.metrics
}

// Publish stamps and delivers one event. Events arriving after a
// terminal event are dropped; the stream contract promises subscribers
// that terminal means final.
func (p *Publisher) Publish(ctx context.Context, evType events.EventType, producer string, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			p.logger.ErrorContext(ctx, "payload_marshal_failed",
				slog.String("session_id", p.sessionID),
				slog.String("event_type", string(evType)),
				slog.String("error", err.Error()))
		} else {
			raw = data
		}
	}

	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		p.logger.WarnContext(ctx, "publish_after_terminal",
			slog.String("session_id", p.sessionID),
			slog.String("event_type", string(evType)))
		return
	}

	p.seq++
	ev := &events.Event{
		Type:      evType,
		SessionID: p.sessionID,
		Producer:  producer,
		Payload:   raw,
		Seq:       p.seq,
		Timestamp: time.Now().UTC(),
	}
	if ev.IsTerminal() {
		p.terminal = true
	}

	// Delivery happens under the lock so sequence order on the wire
	// matches sequence numbers. Sinks are non-blocking by contract.
	p.sink.Deliver(ctx, ev)
	p.mu.Unlock()

	if p.activity != nil {
		p.activity()
	}

	if bm := p.businessMetrics(); bm != nil {
		bm.EventsPublished.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("event_type", string(evType)),
			),
		)
	}
}

// Seq returns the sequence number of the last published event.
func (p *Publisher) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Terminated reports whether a terminal event has been published.
func (p *Publisher) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}
