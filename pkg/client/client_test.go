package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/pkg/client"
	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

const waitTimeout = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tinyPolicy() client.RetryPolicy {
	return client.RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// scriptedChannel is a Channel the test drives by hand. drop simulates
// the transport dying; Close records that the client hung up.
type scriptedChannel struct {
	frames      chan client.Frame
	sent        chan events.ClientMessage
	closeCalled chan struct{}
	closeOnce   sync.Once
	dropOnce    sync.Once
	sendErr     error
}

func newScriptedChannel() *scriptedChannel {
	return &scriptedChannel{
		frames:      make(chan client.Frame, 32),
		sent:        make(chan events.ClientMessage, 32),
		closeCalled: make(chan struct{}),
	}
}

func (c *scriptedChannel) Frames() <-chan client.Frame { return c.frames }

func (c *scriptedChannel) Send(msg events.ClientMessage) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent <- msg
	return nil
}

func (c *scriptedChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closeCalled) })
	c.drop()
	return nil
}

// drop closes the frame stream the way a dead connection would.
func (c *scriptedChannel) drop() {
	c.dropOnce.Do(func() { close(c.frames) })
}

func (c *scriptedChannel) deliver(t *testing.T, f client.Frame) {
	t.Helper()
	select {
	case c.frames <- f:
	case <-time.After(waitTimeout):
		t.Fatal("timed out delivering frame")
	}
}

func (c *scriptedChannel) wasClosed() bool {
	select {
	case <-c.closeCalled:
		return true
	default:
		return false
	}
}

func (c *scriptedChannel) nextSent(t *testing.T) events.ClientMessage {
	t.Helper()
	select {
	case msg := <-c.sent:
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for sent message")
		return events.ClientMessage{}
	}
}

type dialResult struct {
	ch  *scriptedChannel
	err error
}

// scriptedDialer returns one scripted result per dial attempt.
type scriptedDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

func (d *scriptedDialer) Dial(ctx context.Context) (client.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.results) {
		d.dials++
		return nil, errors.New("dial script exhausted")
	}
	r := d.results[d.dials]
	d.dials++
	if r.err != nil {
		return nil, r.err
	}
	return r.ch, nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func eventFrame(t *testing.T, typ events.EventType, session string, seq uint64, producer string, payload interface{}) client.Frame {
	t.Helper()
	ev := &events.Event{
		Type:      typ,
		SessionID: session,
		Producer:  producer,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		ev.Payload = data
	}
	return client.Frame{Event: ev}
}

func nextUpdate(t *testing.T, c *client.Client) client.Update {
	t.Helper()
	select {
	case u, ok := <-c.Updates():
		require.True(t, ok, "updates channel closed")
		return u
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for update")
		return client.Update{}
	}
}

// waitStatus drains updates until the wanted status appears.
func waitStatus(t *testing.T, c *client.Client, want client.Status) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case u, ok := <-c.Updates():
			require.True(t, ok, "updates channel closed waiting for %s", want)
			if u.Kind == client.UpdateStatus && u.Status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s (last seen %s)", want, c.Status())
		}
	}
}

// waitEvent drains updates until an event of the wanted type appears.
func waitEvent(t *testing.T, c *client.Client, want events.EventType) *events.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case u, ok := <-c.Updates():
			require.True(t, ok, "updates channel closed waiting for %s", want)
			if u.Kind == client.UpdateEvent && u.Event.Type == want {
				return u.Event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
			return nil
		}
	}
}

// waitFailure drains updates until a failure appears.
func waitFailure(t *testing.T, c *client.Client) error {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case u, ok := <-c.Updates():
			require.True(t, ok, "updates channel closed waiting for failure")
			if u.Kind == client.UpdateFailure {
				return u.Err
			}
		case <-deadline:
			t.Fatal("timed out waiting for failure update")
			return nil
		}
	}
}

func TestSubmitConnectsAndFolds(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))

	msg := ch.nextSent(t)
	assert.Equal(t, events.ClientMessageSubmit, msg.Type)
	var job domain.Job
	require.NoError(t, json.Unmarshal(msg.Job, &job))
	assert.Equal(t, "AAPL", job.Subject)

	waitStatus(t, c, client.StatusConnected)

	ch.deliver(t, eventFrame(t, events.EventTypeJobStarted, "sess-1", 1, "", events.JobStartedPayload{
		Subject:  "AAPL",
		Analysts: []string{"technical", "fundamentals", "sentiment"},
	}))
	waitEvent(t, c, events.EventTypeJobStarted)
	assert.Equal(t, "sess-1", c.Session())

	ch.deliver(t, eventFrame(t, events.EventTypeWorkerCompleted, "sess-1", 2, "analyst-technical", domain.Report{
		Producer:   "analyst-technical",
		Kind:       domain.ReportKindTechnical,
		Subject:    "AAPL",
		Confidence: 0.8,
	}))
	ch.deliver(t, eventFrame(t, events.EventTypeDecision, "sess-1", 3, "decision-maker", domain.Decision{
		Subject: "AAPL",
		Action:  domain.ActionBuy,
		Score:   0.7,
	}))
	waitEvent(t, c, events.EventTypeDecision)

	view := c.View()
	assert.True(t, view.Terminal())
	assert.Equal(t, "decided", view.Outcome())
	assert.Equal(t, 1, view.CompletedWorkers())
	require.NotNil(t, view.Decision)
	assert.Equal(t, domain.ActionBuy, view.Decision.Action)

	// The channel stays open after the terminal event.
	assert.Equal(t, client.StatusConnected, c.Status())
	assert.False(t, ch.wasClosed())
}

func TestEventsBeforeBindingDiscarded(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "MSFT"}))
	ch.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	// A straggler from some earlier session arrives before job_started.
	ch.deliver(t, eventFrame(t, events.EventTypeWorkerCompleted, "sess-old", 9, "analyst-technical", nil))
	ch.deliver(t, eventFrame(t, events.EventTypeJobStarted, "sess-new", 1, "", events.JobStartedPayload{Subject: "MSFT"}))

	ev := waitEvent(t, c, events.EventTypeJobStarted)
	assert.Equal(t, "sess-new", ev.SessionID)
	assert.Empty(t, c.View().Workers, "pre-binding event must not fold")
}

func TestResubmitSupersedesSession(t *testing.T) {
	ch1 := newScriptedChannel()
	ch2 := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch1}, {ch: ch2}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	ch1.nextSent(t)
	waitStatus(t, c, client.StatusConnected)
	ch1.deliver(t, eventFrame(t, events.EventTypeJobStarted, "sess-1", 1, "", events.JobStartedPayload{Subject: "AAPL"}))
	waitEvent(t, c, events.EventTypeJobStarted)
	require.Equal(t, "sess-1", c.Session())

	// Second submission hangs up the first channel without reconnecting it.
	require.NoError(t, c.Submit(domain.Job{Subject: "TSLA"}))
	msg := ch2.nextSent(t)
	assert.Equal(t, events.ClientMessageSubmit, msg.Type)
	waitStatus(t, c, client.StatusConnected)
	assert.True(t, ch1.wasClosed())
	assert.Empty(t, c.Session(), "session binding resets until the next job_started")

	// Anything still tagged with the old session is noise now.
	ch2.deliver(t, eventFrame(t, events.EventTypeWorkerCompleted, "sess-1", 5, "analyst-technical", nil))
	ch2.deliver(t, eventFrame(t, events.EventTypeJobStarted, "sess-2", 1, "", events.JobStartedPayload{Subject: "TSLA"}))
	waitEvent(t, c, events.EventTypeJobStarted)

	assert.Equal(t, "sess-2", c.Session())
	view := c.View()
	assert.Equal(t, "TSLA", view.Job.Subject)
	assert.Empty(t, view.Workers)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestReconnectResendsSubmission(t *testing.T) {
	ch1 := newScriptedChannel()
	ch2 := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch1}, {ch: ch2}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "NVDA"}))
	first := ch1.nextSent(t)
	waitStatus(t, c, client.StatusConnected)
	ch1.deliver(t, eventFrame(t, events.EventTypeJobStarted, "sess-1", 1, "", events.JobStartedPayload{Subject: "NVDA"}))
	waitEvent(t, c, events.EventTypeJobStarted)

	// Transport dies mid-job.
	ch1.drop()
	waitStatus(t, c, client.StatusReconnecting)

	second := ch2.nextSent(t)
	assert.Equal(t, first, second, "reconnect resends the original submission verbatim")
	waitStatus(t, c, client.StatusConnected)

	// The old session is gone; the view starts over under the new one.
	assert.Empty(t, c.Session())
	ch2.deliver(t, eventFrame(t, events.EventTypeJobStarted, "sess-2", 1, "", events.JobStartedPayload{Subject: "NVDA"}))
	waitEvent(t, c, events.EventTypeJobStarted)
	assert.Equal(t, "sess-2", c.Session())
	assert.Equal(t, 2, dialer.dialCount())
}

func TestReconnectResetsBudget(t *testing.T) {
	ch1 := newScriptedChannel()
	ch2 := newScriptedChannel()
	ch3 := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch1}, {ch: ch2}, {ch: ch3}}}
	policy := tinyPolicy()
	policy.MaxRetries = 1
	c := client.NewWithDialer(dialer, policy, testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AMD"}))
	ch1.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	// Two separate outages. Each is within budget on its own because a
	// successful reconnect resets the attempt counter.
	ch1.drop()
	ch2.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	ch2.drop()
	ch3.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	assert.Equal(t, 3, dialer.dialCount())
}

func TestRetriesExhausted(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{
		{ch: ch},
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
	}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	ch.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	ch.drop()
	err := waitFailure(t, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRetriesExhausted)
	assert.Equal(t, client.StatusDisconnected, c.Status())
	assert.Equal(t, 3, dialer.dialCount())

	// Budget gone, nothing pending: the machine stays quiet.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, dialer.dialCount())
}

func TestAuthErrorNeverRetried(t *testing.T) {
	dialer := &scriptedDialer{results: []dialResult{
		{err: &client.AuthError{Status: 401, Message: "missing or invalid bearer credential"}},
	}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	err := waitFailure(t, c)
	require.True(t, client.IsAuthError(err))
	assert.Equal(t, client.StatusDisconnected, c.Status())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount(), "credential rejection must not be retried")
}

func TestSendFailureTriggersReconnect(t *testing.T) {
	ch1 := newScriptedChannel()
	ch1.sendErr = errors.New("broken pipe")
	ch2 := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch1}, {ch: ch2}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	msg := ch2.nextSent(t)
	assert.Equal(t, events.ClientMessageSubmit, msg.Type)
	waitStatus(t, c, client.StatusConnected)
	assert.True(t, ch1.wasClosed())
	assert.Equal(t, 2, dialer.dialCount())
}

func TestManualDisconnectStopsRetrying(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	ch.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	require.NoError(t, c.Disconnect())
	waitStatus(t, c, client.StatusDisconnected)
	assert.True(t, ch.wasClosed())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestTerminalThenDropStaysQuiet(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	ch.nextSent(t)
	waitStatus(t, c, client.StatusConnected)
	ch.deliver(t, eventFrame(t, events.EventTypeJobStarted, "sess-1", 1, "", events.JobStartedPayload{Subject: "AAPL"}))
	ch.deliver(t, eventFrame(t, events.EventTypeCancelled, "sess-1", 2, "", events.CancelledPayload{}))
	waitEvent(t, c, events.EventTypeCancelled)

	// A drop after the terminal event is not an outage worth retrying.
	ch.drop()
	waitStatus(t, c, client.StatusDisconnected)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestRejectFrameSurfacesError(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	ch.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	ch.deliver(t, client.Frame{Reject: &events.RejectMessage{
		Type:    events.RejectType,
		Code:    events.ErrCodeInvalidMessage,
		Message: "job failed validation",
	}})

	err := waitFailure(t, c)
	var rejectErr *client.RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, events.ErrCodeInvalidMessage, rejectErr.Code)
}

func TestCancelJobRequiresChannel(t *testing.T) {
	dialer := &scriptedDialer{}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.CancelJob())
	err := waitFailure(t, c)
	assert.ErrorIs(t, err, client.ErrNotConnected)
}

func TestCancelJobSendsCancel(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	ch.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	require.NoError(t, c.CancelJob())
	msg := ch.nextSent(t)
	assert.Equal(t, events.ClientMessageCancel, msg.Type)
}

func TestCompareSendsCompareMessage(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())
	defer c.Close()

	require.NoError(t, c.Compare(domain.CompareJob{Subjects: []string{"AAPL", "MSFT"}}))
	msg := ch.nextSent(t)
	assert.Equal(t, events.ClientMessageCompare, msg.Type)
	var req domain.CompareJob
	require.NoError(t, json.Unmarshal(msg.Compare, &req))
	assert.Equal(t, []string{"AAPL", "MSFT"}, req.Subjects)
}

func TestCloseShutsDownCleanly(t *testing.T) {
	ch := newScriptedChannel()
	dialer := &scriptedDialer{results: []dialResult{{ch: ch}}}
	c := client.NewWithDialer(dialer, tinyPolicy(), testLogger())

	require.NoError(t, c.Submit(domain.Job{Subject: "AAPL"}))
	ch.nextSent(t)
	waitStatus(t, c, client.StatusConnected)

	require.NoError(t, c.Close())

	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-c.Updates():
			if !ok {
				assert.True(t, ch.wasClosed())
				assert.ErrorIs(t, c.Submit(domain.Job{Subject: "MSFT"}), client.ErrClientClosed)
				return
			}
		case <-deadline:
			t.Fatal("updates channel never closed")
		}
	}
}
