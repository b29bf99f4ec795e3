package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"tickerpulse/internal/infrastructure"
	"tickerpulse/pkg/contracts/events"
)

// Drop reasons recorded when an event cannot reach a subscriber.
const (
	dropNoSubscriber = "no_subscriber"
	dropBacklogged   = "subscriber_backlogged"
)

// Hub routes session events to their single subscriber. It implements
// session.Sink, so the registry hands every publisher straight to it.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	sessions map[string]*Client

	register   chan *Client
	unregister chan *Client

	logger  *slog.Logger
	metrics *Metrics

	otelMu      sync.RWMutex
	otelMetrics *infrastructure.BusinessMetrics

	quit     chan struct{}
	quitOnce sync.Once
	running  bool
	runMu    sync.Mutex
}

// NewHub creates a hub. Call Start before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		sessions:   make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "stream.hub")),
		metrics:    NewMetrics(),
		quit:       make(chan struct{}),
	}
}

// BindMetrics attaches business metrics for drop counting.
func (h *Hub) BindMetrics(m *infrastructure.BusinessMetrics) {
	h.otelMu.Lock()
	h.otelMetrics = m
	h.otelMu.Unlock()
}

func (h *Hub) businessMetrics() *infrastructure.BusinessMetrics {
	h.otelMu.RLock()
	defer h.otelMu.RUnlock()
	return h.otelMetrics
}

// Start launches the hub loop and the periodic metrics report.
func (h *Hub) Start() {
	h.runMu.Lock()
	if h.running {
		h.runMu.Unlock()
		return
	}
	h.running = true
	h.runMu.Unlock()

	go h.run()
	go h.reportMetrics()
}

// run owns client membership. Attach/Deliver touch the maps directly
// under the mutex; this loop serializes joins and leaves.
func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub shutting down")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.RecordConnection()
			h.logger.Info("subscriber connected",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", count))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, c)
			h.detachAllLocked(c)
			count := len(h.clients)
			h.mu.Unlock()

			c.shutdown()
			h.metrics.RecordDisconnection(time.Since(c.connectedAt))
			h.logger.Info("subscriber disconnected",
				slog.String("client_id", c.id),
				slog.Duration("connection_duration", time.Since(c.connectedAt)),
				slog.Int("total_clients", count))
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

// Unregister removes a client and releases its session subscriptions.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Attach makes c the sole subscriber of a session. A prior subscriber
// for the same session loses the subscription immediately.
func (h *Hub) Attach(sessionID string, c *Client) {
	h.mu.Lock()
	prev := h.sessions[sessionID]
	h.sessions[sessionID] = c
	h.mu.Unlock()

	if prev != nil && prev != c {
		h.logger.Warn("session subscriber replaced",
			slog.String("session_id", sessionID),
			slog.String("old_client_id", prev.id),
			slog.String("new_client_id", c.id))
	}
}

// Detach drops c's subscription to a session if it still holds it.
func (h *Hub) Detach(sessionID string, c *Client) {
	h.mu.Lock()
	if h.sessions[sessionID] == c {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
}

// detachAllLocked removes every subscription held by c. Callers hold the
// write lock.
func (h *Hub) detachAllLocked(c *Client) {
	for id, sub := range h.sessions {
		if sub == c {
			delete(h.sessions, id)
		}
	}
}

// Deliver routes one event to its session's subscriber. It never blocks:
// publishers call this under their own lock, and a stalled socket must
// not stall the run. Terminal events release the session slot.
func (h *Hub) Deliver(ctx context.Context, ev *events.Event) {
	h.mu.RLock()
	c, ok := h.sessions[ev.SessionID]
	h.mu.RUnlock()

	if !ok {
		h.recordDrop(ctx, ev, dropNoSubscriber)
		return
	}

	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "event marshal failed",
			slog.String("session_id", ev.SessionID),
			slog.String("event_type", string(ev.Type)),
			slog.String("error", err.Error()))
		return
	}

	if c.enqueue(frame) {
		h.metrics.RecordDelivery(int64(len(frame)))
	} else {
		h.recordDrop(ctx, ev, dropBacklogged)
	}

	if ev.IsTerminal() {
		h.Detach(ev.SessionID, c)
	}
}

func (h *Hub) recordDrop(ctx context.Context, ev *events.Event, reason string) {
	h.metrics.RecordDrop(reason)
	h.logger.DebugContext(ctx, "event dropped",
		slog.String("session_id", ev.SessionID),
		slog.String("event_type", string(ev.Type)),
		slog.String("reason", reason))

	if bm := h.businessMetrics(); bm != nil {
		bm.EventsDropped.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("event_type", string(ev.Type)),
				attribute.String("reason", reason),
			),
		)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionCount returns the number of sessions with a live subscriber.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Metrics returns the hub's counter aggregate.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Stop shuts the hub down and releases every subscriber.
func (h *Hub) Stop() {
	h.runMu.Lock()
	if !h.running {
		h.runMu.Unlock()
		return
	}
	h.running = false
	h.runMu.Unlock()

	h.quitOnce.Do(func() { close(h.quit) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.shutdown()
		delete(h.clients, c)
	}
	for id := range h.sessions {
		delete(h.sessions, id)
	}
}

// reportMetrics logs hub health every 30 seconds.
func (h *Hub) reportMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return

		case <-ticker.C:
			h.mu.RLock()
			clients := len(h.clients)
			sessions := len(h.sessions)
			h.mu.RUnlock()

			snap := h.metrics.Snapshot()
			h.logger.Info("stream hub metrics",
				slog.Int("active_clients", clients),
				slog.Int("subscribed_sessions", sessions),
				slog.Any("events", snap["events"]))
		}
	}
}
