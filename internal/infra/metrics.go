package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsProcessed atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersRejected  atomic.Uint64
	lateDropped     atomic.Uint64
	inboxDropped    atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64
}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderRejected records a rejected intent.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordLateDropped records an event dropped for violating the lateness
// window in live mode.
func (m *Metrics) RecordLateDropped() {
	m.lateDropped.Add(1)
}

// RecordInboxDropped records an event dropped because the inbox was full.
func (m *Metrics) RecordInboxDropped() {
	m.inboxDropped.Add(1)
}

// LateDropped returns the count of lateness-window drops.
func (m *Metrics) LateDropped() uint64 { return m.lateDropped.Load() }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed uint64
	OrdersFilled    uint64
	OrdersRejected  uint64
	LateDropped     uint64
	InboxDropped    uint64
	ErrorsTotal     uint64
	AvgLatencyNs    int64
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsProcessed: m.eventsProcessed.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		LateDropped:     m.lateDropped.Load(),
		InboxDropped:    m.inboxDropped.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		AvgLatencyNs:    avgLatency,
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.ordersFilled.Store(0)
	m.ordersRejected.Store(0)
	m.lateDropped.Store(0)
	m.inboxDropped.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
}
