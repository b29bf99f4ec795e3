package session

import (
	"context"
	"sync"
	"time"

	"tickerpulse/pkg/contracts/domain"
)

// Session is the runtime identity of one job execution. The context it
// carries governs the pipeline run; cancelling it is how supersede,
// client cancel and shutdown all end a run.
type Session struct {
	ID        string
	ClientKey string
	Job       domain.Job
	CreatedAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	publisher *Publisher

	mu         sync.RWMutex
	lastActive time.Time
	superseded bool
}

// Context returns the run context for this session.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Publisher returns the event publisher bound to this session.
func (s *Session) Publisher() *Publisher {
	return s.publisher
}

// Cancel ends the run cooperatively. Safe to call more than once.
func (s *Session) Cancel() {
	s.cancel()
}

// Touch records activity, deferring idle collection.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the most recent activity.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// IdleFor returns how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActive())
}

// Terminal reports whether a terminal event has been published.
func (s *Session) Terminal() bool {
	return s.publisher.Terminated()
}

// Superseded reports whether a newer session replaced this one.
func (s *Session) Superseded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.superseded
}

func (s *Session) markSuperseded() {
	s.mu.Lock()
	s.superseded = true
	s.mu.Unlock()
}

// Summary is the introspection view of a session. The client key stays
// private to the registry.
type Summary struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Mode       string    `json:"mode,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Terminal   bool      `json:"terminal"`
	Superseded bool      `json:"superseded"`
	LastSeq    uint64    `json:"last_seq"`
}

// Snapshot returns a point-in-time summary of the session.
func (s *Session) Snapshot() Summary {
	s.mu.RLock()
	lastActive := s.lastActive
	superseded := s.superseded
	s.mu.RUnlock()

	return Summary{
		ID:         s.ID,
		Subject:    s.Job.Subject,
		Mode:       string(s.Job.Mode),
		CreatedAt:  s.CreatedAt,
		LastActive: lastActive,
		Terminal:   s.publisher.Terminated(),
		Superseded: superseded,
		LastSeq:    s.publisher.Seq(),
	}
}
