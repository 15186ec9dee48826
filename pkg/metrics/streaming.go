package metrics

import (
	"sync"
	"time"
)

/*
StreamingMetrics tracks connection and event counters for task streams.
Both the SSE client and the server-side stream writer record into it, so a
single instance gives a full picture of one streaming session.
*/
type StreamingMetrics struct {
	mu sync.RWMutex

	// Connection metrics
	TotalConnections   int64
	FailedConnections  int64
	Reconnections      int64
	ConnectionDuration time.Duration

	// Event metrics
	TotalEvents   int64
	DroppedEvents int64
	EventLatency  time.Duration
}

func NewStreamingMetrics() *StreamingMetrics {
	return &StreamingMetrics{}
}

// RecordConnection records one connection attempt.
func (m *StreamingMetrics) RecordConnection(success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalConnections++
	if !success {
		m.FailedConnections++
	}
	m.ConnectionDuration += duration
}

// RecordReconnection records one reconnection attempt.
func (m *StreamingMetrics) RecordReconnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reconnections++
}

// RecordEvent records one delivered (or dropped) stream event.
func (m *StreamingMetrics) RecordEvent(dropped bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalEvents++
	if dropped {
		m.DroppedEvents++
	}
	m.EventLatency += latency
}

// Snapshot returns the current counters as a flat map for logging.
func (m *StreamingMetrics) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avgLatency := 0.0
	if m.TotalEvents > 0 {
		avgLatency = m.EventLatency.Seconds() / float64(m.TotalEvents)
	}

	return map[string]any{
		"total_connections":   m.TotalConnections,
		"failed_connections":  m.FailedConnections,
		"reconnections":       m.Reconnections,
		"connection_duration": m.ConnectionDuration.Seconds(),
		"total_events":        m.TotalEvents,
		"dropped_events":      m.DroppedEvents,
		"avg_event_latency":   avgLatency,
	}
}
