package session_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/session"
	"tickerpulse/pkg/contracts/events"
)

// captureSink records every delivered event in arrival order.
type captureSink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (c *captureSink) Deliver(ctx context.Context, ev *events.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureSink) all() []*events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*events.Event, len(c.events))
	copy(out, c.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// TestPublisherStampsEvents tests that published events carry the
// session id, producer, sequence and timestamp.
func TestPublisherStampsEvents(t *testing.T) {
	sink := &captureSink{}
	pub := session.NewPublisher("sess-1", sink, testLogger(), nil)

	pub.Publish(context.Background(), events.EventTypeJobStarted, "orchestrator",
		&events.JobStartedPayload{Subject: "AAPL", Analysts: []string{"technical"}})

	evs := sink.all()
	require.Len(t, evs, 1)

	ev := evs[0]
	assert.Equal(t, events.EventTypeJobStarted, ev.Type)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "orchestrator", ev.Producer)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.False(t, ev.Timestamp.IsZero())

	var payload events.JobStartedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "AAPL", payload.Subject)
}

// TestPublisherSequenceMonotonic tests that sequence numbers increase
// by one per event with no gaps.
func TestPublisherSequenceMonotonic(t *testing.T) {
	sink := &captureSink{}
	pub := session.NewPublisher("sess-2", sink, testLogger(), nil)

	for i := 0; i < 5; i++ {
		pub.Publish(context.Background(), events.EventTypeNotification, "orchestrator",
			&events.NotificationPayload{Level: events.LevelInfo, Message: "tick"})
	}

	evs := sink.all()
	require.Len(t, evs, 5)
	for i, ev := range evs {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	assert.Equal(t, uint64(5), pub.Seq())
}

// TestPublisherTerminalLatch tests that nothing is delivered after a
// terminal event.
func TestPublisherTerminalLatch(t *testing.T) {
	sink := &captureSink{}
	pub := session.NewPublisher("sess-3", sink, testLogger(), nil)

	pub.Publish(context.Background(), events.EventTypeJobStarted, "orchestrator", nil)
	pub.Publish(context.Background(), events.EventTypeCancelled, "orchestrator",
		&events.CancelledPayload{Reason: "client cancelled"})
	require.True(t, pub.Terminated())

	pub.Publish(context.Background(), events.EventTypeNotification, "orchestrator",
		&events.NotificationPayload{Level: events.LevelInfo, Message: "late"})

	evs := sink.all()
	require.Len(t, evs, 2)
	assert.Equal(t, events.EventTypeCancelled, evs[1].Type)
	assert.Equal(t, uint64(2), pub.Seq())
}

// TestPublisherNilPayload tests that events without a payload are
// delivered with an empty payload.
func TestPublisherNilPayload(t *testing.T) {
	sink := &captureSink{}
	pub := session.NewPublisher("sess-4", sink, testLogger(), nil)

	pub.Publish(context.Background(), events.EventTypeWorkerStarted, "technical", nil)

	evs := sink.all()
	require.Len(t, evs, 1)
	assert.Empty(t, evs[0].Payload)
}

// TestPublisherMarshalFailure tests that an unmarshalable payload does
// not lose the event or its sequence slot.
func TestPublisherMarshalFailure(t *testing.T) {
	sink := &captureSink{}
	pub := session.NewPublisher("sess-5", sink, testLogger(), nil)

	pub.Publish(context.Background(), events.EventTypeNotification, "orchestrator", make(chan int))
	pub.Publish(context.Background(), events.EventTypeNotification, "orchestrator",
		&events.NotificationPayload{Level: events.LevelInfo, Message: "after"})

	evs := sink.all()
	require.Len(t, evs, 2)
	assert.Empty(t, evs[0].Payload)
	assert.Equal(t, uint64(1), evs[0].Seq)
	assert.Equal(t, uint64(2), evs[1].Seq)
}

// TestPublisherActivityCallback tests that each publish reports
// activity.
func TestPublisherActivityCallback(t *testing.T) {
	var mu sync.Mutex
	touches := 0

	sink := &captureSink{}
	pub := session.NewPublisher("sess-6", sink, testLogger(), func() {
		mu.Lock()
		touches++
		mu.Unlock()
	})

	pub.Publish(context.Background(), events.EventTypeJobStarted, "orchestrator", nil)
	pub.Publish(context.Background(), events.EventTypeWorkerStarted, "technical", nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, touches)
}

// TestPublisherConcurrentPublish tests that concurrent publishers get
// unique contiguous sequence numbers and that delivery order matches
// them.
func TestPublisherConcurrentPublish(t *testing.T) {
	sink := &captureSink{}
	pub := session.NewPublisher("sess-7", sink, testLogger(), nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Publish(context.Background(), events.EventTypeNotification, "orchestrator",
				&events.NotificationPayload{Level: events.LevelInfo, Message: "burst"})
		}()
	}
	wg.Wait()

	evs := sink.all()
	require.Len(t, evs, n)
	for i, ev := range evs {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}
