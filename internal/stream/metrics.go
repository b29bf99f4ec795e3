package stream

import (
	"sync"
	"time"
)

// Metrics aggregates hub counters for the periodic report and the
// diagnostics endpoint. One instance per hub.
type Metrics struct {
	mu sync.RWMutex

	TotalConnections  int64
	ActiveConnections int64
	MaxConcurrent     int64

	EventsDelivered int64
	EventsDropped   int64
	BytesDelivered  int64

	RejectsSent      int64
	MessagesReceived int64

	DropsByReason map[string]int64

	startedAt       time.Time
	connectionTimes []time.Duration
	avgConnection   time.Duration
}

// NewMetrics creates a zeroed metrics aggregate.
func NewMetrics() *Metrics {
	return &Metrics{
		DropsByReason:   make(map[string]int64),
		startedAt:       time.Now(),
		connectionTimes: make([]time.Duration, 0, 100),
	}
}

// RecordConnection counts a subscriber joining.
func (m *Metrics) RecordConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalConnections++
	m.ActiveConnections++
	if m.ActiveConnections > m.MaxConcurrent {
		m.MaxConcurrent = m.ActiveConnections
	}
}

// RecordDisconnection counts a subscriber leaving and folds its lifetime
// into the rolling connection-duration average.
func (m *Metrics) RecordDisconnection(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ActiveConnections--

	m.connectionTimes = append(m.connectionTimes, duration)
	if len(m.connectionTimes) > 100 {
		m.connectionTimes = m.connectionTimes[1:]
	}

	var total time.Duration
	for _, d := range m.connectionTimes {
		total += d
	}
	if len(m.connectionTimes) > 0 {
		m.avgConnection = total / time.Duration(len(m.connectionTimes))
	}
}

// RecordDelivery counts one event frame handed to a subscriber.
func (m *Metrics) RecordDelivery(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EventsDelivered++
	m.BytesDelivered += size
}

// RecordDrop counts an event that could not be delivered.
func (m *Metrics) RecordDrop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EventsDropped++
	m.DropsByReason[reason]++
}

// RecordReject counts a reject frame sent to a client.
func (m *Metrics) RecordReject() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RejectsSent++
}

// RecordReceived counts an inbound client message.
func (m *Metrics) RecordReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MessagesReceived++
}

// Snapshot returns the counters for the diagnostics endpoint.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	drops := make(map[string]int64, len(m.DropsByReason))
	for k, v := range m.DropsByReason {
		drops[k] = v
	}

	return map[string]interface{}{
		"connections": map[string]interface{}{
			"total":           m.TotalConnections,
			"active":          m.ActiveConnections,
			"max_concurrent":  m.MaxConcurrent,
			"avg_duration_ms": m.avgConnection.Milliseconds(),
		},
		"events": map[string]interface{}{
			"delivered":       m.EventsDelivered,
			"dropped":         m.EventsDropped,
			"bytes_delivered": m.BytesDelivered,
			"drops_by_reason": drops,
		},
		"messages": map[string]interface{}{
			"received":     m.MessagesReceived,
			"rejects_sent": m.RejectsSent,
		},
		"uptime_seconds": time.Since(m.startedAt).Seconds(),
	}
}

// Reset clears all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalConnections = 0
	m.ActiveConnections = 0
	m.MaxConcurrent = 0
	m.EventsDelivered = 0
	m.EventsDropped = 0
	m.BytesDelivered = 0
	m.RejectsSent = 0
	m.MessagesReceived = 0
	m.DropsByReason = make(map[string]int64)
	m.startedAt = time.Now()
	m.connectionTimes = m.connectionTimes[:0]
	m.avgConnection = 0
}
