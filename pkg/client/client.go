package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Update kinds published on the Updates channel.
type UpdateKind string

const (
	UpdateStatus  UpdateKind = "status"
	UpdateEvent   UpdateKind = "event"
	UpdateFailure UpdateKind = "failure"
)

// Update is one observation from the state machine: a status change, a
// folded event, or a transport-level failure.
type Update struct {
	Kind   UpdateKind
	Status Status
	Event  *events.Event
	Err    error
}

// Config configures a stream client.
type Config struct {
	URL         string
	Token       string
	Retry       RetryPolicy
	DialTimeout time.Duration
	Logger      *slog.Logger
}

const defaultDialTimeout = 10 * time.Second

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCompare
	cmdCancelJob
	cmdDisconnect
)

type command struct {
	kind    commandKind
	msg     events.ClientMessage
	viewJob domain.Job
}

// pendingSubmission is the wire message resent verbatim on reconnect.
// Resending always restarts the job from stage 1 under a new session.
type pendingSubmission struct {
	msg events.ClientMessage
	job domain.Job
}

// Client is the reconnecting stream client. All state below the mutex
// line is owned by the run loop and never locked.
type Client struct {
	dialer      Dialer
	policy      RetryPolicy
	dialTimeout time.Duration
	logger      *slog.Logger

	commands  chan command
	updates   chan Update
	closed    chan struct{}
	closeOnce sync.Once

	status     Status
	channel    Channel
	inbound    <-chan Frame
	view       *JobView
	pending    *pendingSubmission
	attempt    int
	retryTimer *time.Timer

	mu          sync.RWMutex
	snapStatus  Status
	snapSession string
	snapView    JobView
}

// New builds a client for the given endpoint and starts its run loop.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	dialer := &WSDialer{URL: cfg.URL, Token: cfg.Token}
	c := newClient(dialer, cfg.Retry, cfg.Logger)
	if cfg.DialTimeout > 0 {
		c.dialTimeout = cfg.DialTimeout
	}
	return c, nil
}

// NewWithDialer builds a client over a custom dialer.
func NewWithDialer(dialer Dialer, policy RetryPolicy, logger *slog.Logger) *Client {
	return newClient(dialer, policy, logger)
}

func newClient(dialer Dialer, policy RetryPolicy, logger *slog.Logger) *Client {
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		dialer:      dialer,
		policy:      policy,
		dialTimeout: defaultDialTimeout,
		logger:      logger.With(slog.String("component", "stream.sdk")),
		commands:    make(chan command, 16),
		updates:     make(chan Update, 64),
		closed:      make(chan struct{}),
		status:      StatusDisconnected,
		view:        NewJobView(domain.Job{}),
	}
	c.snapStatus = StatusDisconnected
	c.snapView = c.view.Clone()

	go c.run()
	return c
}

// Submit sends a single-subject job. Any open channel is superseded:
// closed without reconnection, replaced by a fresh one carrying the new
// submission.
func (c *Client) Submit(job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return c.dispatch(command{
		kind:    cmdSubmit,
		msg:     events.ClientMessage{Type: events.ClientMessageSubmit, Job: data},
		viewJob: job,
	})
}

// Compare sends a multi-subject comparison job.
func (c *Client) Compare(req domain.CompareJob) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode comparison: %w", err)
	}
	return c.dispatch(command{
		kind:    cmdCompare,
		msg:     events.ClientMessage{Type: events.ClientMessageCompare, Compare: data},
		viewJob: domain.Job{Mode: req.Mode},
	})
}

// CancelJob asks the server to cancel the active session. The session
// still concludes through its terminal event.
func (c *Client) CancelJob() error {
	return c.dispatch(command{kind: cmdCancelJob})
}

// Disconnect closes the channel cleanly and clears the retry budget. No
// reconnection is attempted.
func (c *Client) Disconnect() error {
	return c.dispatch(command{kind: cmdDisconnect})
}

// Close disposes the client. The Updates channel closes once the run
// loop has torn down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Updates returns the observation channel. Slow consumers lose updates
// rather than stalling the state machine.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapStatus
}

// Session returns the tracked session id, empty until job_started.
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapSession
}

// View returns a snapshot of the folded job state.
func (c *Client) View() JobView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapView
}

func (c *Client) dispatch(cmd command) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}
	select {
	case c.commands <- cmd:
		return nil
	case <-c.closed:
		return ErrClientClosed
	}
}

// run is the single reactive loop: commands, inbound frames and the
// retry timer are its only inputs.
func (c *Client) run() {
	defer c.teardown()
	for {
		select {
		case <-c.closed:
			return

		case cmd := <-c.commands:
			c.handleCommand(cmd)

		case f, ok := <-c.inbound:
			if !ok {
				c.handleChannelLost()
				continue
			}
			c.handleFrame(f)

		case <-c.timerC():
			c.handleRetryFire()
		}
	}
}

func (c *Client) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdSubmit, cmdCompare:
		// Explicit supersede: the old channel goes away without touching
		// the retry machinery.
		c.dropChannel()
		c.cancelRetry()
		c.pending = &pendingSubmission{msg: cmd.msg, job: cmd.viewJob}
		c.resetView(cmd.viewJob)
		c.attempt = 0
		c.setStatus(StatusConnecting)
		c.openAndSend()

	case cmdCancelJob:
		if c.channel == nil {
			c.publishFailure(ErrNotConnected)
			return
		}
		if err := c.channel.Send(events.ClientMessage{Type: events.ClientMessageCancel}); err != nil {
			c.publishFailure(fmt.Errorf("send cancel: %w", err))
		}

	case cmdDisconnect:
		c.cancelRetry()
		c.attempt = 0
		c.pending = nil
		c.dropChannel()
		c.setStatus(StatusDisconnected)
	}
}

// openAndSend dials and sends the pending submission. Every send resets
// the view: the job restarts from stage 1 and the old session's events
// no longer belong to us.
func (c *Client) openAndSend() {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	ch, err := c.dialer.Dial(ctx)
	cancel()
	if err != nil {
		c.handleDialFailure(err)
		return
	}

	c.channel = ch
	c.inbound = ch.Frames()

	if c.pending != nil {
		c.resetView(c.pending.job)
		if err := ch.Send(c.pending.msg); err != nil {
			c.logger.Warn("submission send failed",
				slog.String("error", err.Error()))
			c.dropChannel()
			c.handleDialFailure(err)
			return
		}
	}

	c.setStatus(StatusConnected)
	c.attempt = 0
}

func (c *Client) handleDialFailure(err error) {
	if IsAuthError(err) {
		c.logger.Error("handshake rejected",
			slog.String("error", err.Error()))
		c.cancelRetry()
		c.pending = nil
		c.setStatus(StatusDisconnected)
		c.publishFailure(err)
		return
	}
	c.scheduleReconnect(err)
}

func (c *Client) handleChannelLost() {
	c.channel = nil
	c.inbound = nil
	c.logger.Warn("channel lost")
	c.scheduleReconnect(errors.New("connection lost"))
}

// scheduleReconnect arms the retry timer if a job is still outstanding
// and budget remains; otherwise the machine goes quiet.
func (c *Client) scheduleReconnect(cause error) {
	if c.pending == nil {
		c.setStatus(StatusDisconnected)
		return
	}

	if c.attempt >= c.policy.MaxRetries {
		c.logger.Error("retry budget exhausted",
			slog.Int("attempts", c.attempt),
			slog.String("cause", cause.Error()))
		c.pending = nil
		c.setStatus(StatusDisconnected)
		c.publishFailure(fmt.Errorf("%w after %d attempts: %v",
			ErrRetriesExhausted, c.attempt, cause))
		return
	}

	delay := c.policy.DelayFor(c.attempt)
	c.attempt++
	c.setStatus(StatusReconnecting)
	c.logger.Info("reconnect scheduled",
		slog.Int("attempt", c.attempt),
		slog.Duration("delay", delay),
		slog.String("cause", cause.Error()))
	c.armRetry(delay)
}

func (c *Client) handleRetryFire() {
	c.retryTimer = nil
	if c.status != StatusReconnecting {
		return
	}
	c.setStatus(StatusConnecting)
	c.openAndSend()
}

func (c *Client) handleFrame(f Frame) {
	if f.Reject != nil {
		c.logger.Warn("server reject",
			slog.String("code", f.Reject.Code),
			slog.String("message", f.Reject.Message))
		c.publishFailure(&RejectError{Code: f.Reject.Code, Message: f.Reject.Message})
		return
	}
	ev := f.Event
	if ev == nil {
		return
	}

	if c.pending == nil {
		// Nothing outstanding; whatever this is, it is not ours.
		return
	}

	// The session id from our job_started is the sole discriminator.
	if c.view.SessionID == "" {
		if ev.Type != events.EventTypeJobStarted {
			c.logger.Debug("discarding event before session binding",
				slog.String("event_type", string(ev.Type)),
				slog.String("session_id", ev.SessionID))
			return
		}
	} else if ev.SessionID != c.view.SessionID {
		c.logger.Debug("discarding event for stale session",
			slog.String("event_type", string(ev.Type)),
			slog.String("session_id", ev.SessionID),
			slog.String("tracked", c.view.SessionID))
		return
	}

	if err := c.view.Apply(ev); err != nil {
		c.logger.Warn("event fold failed",
			slog.String("event_type", string(ev.Type)),
			slog.String("error", err.Error()))
		return
	}
	c.snapshotView()
	c.publish(Update{Kind: UpdateEvent, Status: c.status, Event: ev})

	if c.view.Terminal() {
		c.logger.Info("job concluded",
			slog.String("session_id", c.view.SessionID),
			slog.String("outcome", c.view.Outcome()))
		// The channel stays open for a future submission.
		c.pending = nil
	}
}

func (c *Client) timerC() <-chan time.Time {
	if c.retryTimer == nil {
		return nil
	}
	return c.retryTimer.C
}

func (c *Client) armRetry(delay time.Duration) {
	c.cancelRetry()
	c.retryTimer = time.NewTimer(delay)
}

func (c *Client) cancelRetry() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) dropChannel() {
	if c.channel == nil {
		return
	}
	c.channel.Close()
	c.channel = nil
	c.inbound = nil
}

func (c *Client) resetView(job domain.Job) {
	c.view = NewJobView(job)
	c.snapshotView()
}

func (c *Client) snapshotView() {
	c.mu.Lock()
	c.snapView = c.view.Clone()
	c.snapSession = c.view.SessionID
	c.mu.Unlock()
}

func (c *Client) setStatus(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.mu.Lock()
	c.snapStatus = s
	c.mu.Unlock()

	c.logger.Debug("status changed", slog.String("status", string(s)))
	c.publish(Update{Kind: UpdateStatus, Status: s})
}

func (c *Client) publish(u Update) {
	select {
	case c.updates <- u:
	default:
		c.logger.Debug("update dropped",
			slog.String("kind", string(u.Kind)))
	}
}

func (c *Client) publishFailure(err error) {
	c.publish(Update{Kind: UpdateFailure, Status: c.status, Err: err})
}

func (c *Client) teardown() {
	c.cancelRetry()
	c.dropChannel()
	c.setStatus(StatusDisconnected)
	close(c.updates)
}
