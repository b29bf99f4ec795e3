package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tickerpulse/internal/infrastructure"
	"tickerpulse/pkg/contracts/domain"
)

// Registry errors.
var (
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSessionTerminal = fmt.Errorf("session already terminal")
)

// Options tunes registry housekeeping.
type Options struct {
	// IdleTTL reaps sessions with no activity at all, terminal or not.
	IdleTTL time.Duration

	// TerminalLinger keeps finished sessions visible to introspection
	// before the janitor removes them.
	TerminalLinger time.Duration

	// SweepInterval is how often the janitor runs.
	SweepInterval time.Duration
}

// DefaultOptions returns the registry housekeeping defaults.
func DefaultOptions() *Options {
	return &Options{
		IdleTTL:        30 * time.Minute,
		TerminalLinger: 10 * time.Minute,
		SweepInterval:  time.Minute,
	}
}

// Registry owns every live session. Creation and supersede for a client
// key are serialized through the registry lock, so at most one session
// per key is ever active.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byClient map[string]*Session

	sink    Sink
	opts    *Options
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	quit     chan struct{}
	quitOnce sync.Once
}

// NewRegistry creates a session registry and starts its janitor.
func NewRegistry(sink Sink, opts *Options, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = NopSink{}
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		sessions: make(map[string]*Session),
		byClient: make(map[string]*Session),
		sink:     sink,
		opts:     opts,
		logger:   logger.With(slog.String("component", "session.registry")),
		quit:     make(chan struct{}),
	}

	go r.janitor()

	return r
}

// BindMetrics attaches business metrics to the registry and to every
// publisher it mints afterwards.
func (r *Registry) BindMetrics(m *infrastructure.BusinessMetrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// Create mints a session for the job. Any prior session for the same
// client key is superseded: its run is cancelled and its stream ends
// with that run's terminal event.
func (r *Registry) Create(clientKey string, job domain.Job) (*Session, error) {
	if clientKey == "" {
		return nil, fmt.Errorf("client key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.byClient[clientKey]; ok {
		prior.markSuperseded()
		prior.Cancel()
		delete(r.byClient, clientKey)

		r.logger.Info("session_superseded",
			slog.String("session_id", prior.ID),
			slog.String("subject", prior.Job.Subject))
		if r.metrics != nil {
			r.metrics.SessionsSuperseded.Add(context.Background(), 1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	sess := &Session{
		ID:         uuid.New().String(),
		ClientKey:  clientKey,
		Job:        job,
		CreatedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		lastActive: now,
	}
	sess.publisher = NewPublisher(sess.ID, r.sink, r.logger, sess.Touch)
	if r.metrics != nil {
		sess.publisher.BindMetrics(r.metrics)
	}

	r.sessions[sess.ID] = sess
	r.byClient[clientKey] = sess

	r.logger.Info("session_created",
		slog.String("session_id", sess.ID),
		slog.String("subject", job.Subject),
		slog.String("mode", string(job.Mode)))
	if r.metrics != nil {
		r.metrics.SessionsCreated.Add(ctx, 1)
		r.metrics.ActiveSessions.Add(ctx, 1)
	}

	return sess, nil
}

// Lookup retrieves a session by id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// ActiveForClient returns the session currently bound to a client key.
func (r *Registry) ActiveForClient(clientKey string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.byClient[clientKey]
	return sess, ok
}

// Cancel cooperatively ends a running session. The run publishes its own
// cancelled event on the way out.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if sess.Terminal() {
		return fmt.Errorf("session %s: %w", id, ErrSessionTerminal)
	}

	sess.Cancel()
	r.logger.Info("session_cancel_requested", slog.String("session_id", id))
	return nil
}

// Remove cancels a session and forgets it immediately.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	r.drop(sess)
	return nil
}

// drop removes a session from both maps. Callers hold the write lock.
func (r *Registry) drop(sess *Session) {
	sess.Cancel()
	delete(r.sessions, sess.ID)
	if current, ok := r.byClient[sess.ClientKey]; ok && current == sess {
		delete(r.byClient, sess.ClientKey)
	}
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// List returns summaries of all resident sessions, oldest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	summaries := make([]Summary, 0, len(r.sessions))
	for _, sess := range r.sessions {
		summaries = append(summaries, sess.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Count returns the number of resident sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops the janitor and cancels every session.
func (r *Registry) Close() {
	r.quitOnce.Do(func() { close(r.quit) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		r.drop(sess)
	}
}

// janitor reaps idle and lingering terminal sessions.
func (r *Registry) janitor() {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep removes sessions whose time is up: terminal ones past the
// linger window and anything idle past the hard TTL.
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, sess := range r.sessions {
		idle := now.Sub(sess.LastActive())

		reap := false
		switch {
		case sess.Terminal() && idle > r.opts.TerminalLinger:
			reap = true
		case idle > r.opts.IdleTTL:
			reap = true
		}
		if !reap {
			continue
		}

		r.drop(sess)
		r.logger.Info("session_reaped",
			slog.String("session_id", sess.ID),
			slog.String("subject", sess.Job.Subject),
			slog.Bool("terminal", sess.Terminal()),
			slog.Duration("idle", idle))
		if r.metrics != nil {
			r.metrics.SessionsReaped.Add(context.Background(), 1)
		}
	}
}
