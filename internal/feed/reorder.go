package feed

import (
	"container/heap"
	"time"

	"quantsim/internal/domain"
)

// Reorder is a bounded-lateness buffer for live sources. Network producers
// deliver events slightly out of order; Reorder holds each event until the
// event-time watermark has passed it by the lateness window, then releases
// events in (timestamp, arrival) order. An event arriving later than the
// window, behind what has already been released, is an ordering error,
// never silently reordered after the fact.
type Reorder struct {
	windowUnixM int64
	buf         reorderHeap
	arrival     uint64
	released    int64 // highest released timestamp
	maxSeen     int64 // event-time watermark
}

type reorderEntry struct {
	ev      domain.MarketEvent
	arrival uint64
}

type reorderHeap []reorderEntry

func (h reorderHeap) Len() int { return len(h) }
func (h reorderHeap) Less(i, j int) bool {
	if h[i].ev.TsUnixM != h[j].ev.TsUnixM {
		return h[i].ev.TsUnixM < h[j].ev.TsUnixM
	}
	return h[i].arrival < h[j].arrival
}
func (h reorderHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *reorderHeap) Push(x any)   { *h = append(*h, x.(reorderEntry)) }
func (h *reorderHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// NewReorder creates a buffer with the given lateness window.
func NewReorder(window time.Duration) *Reorder {
	return &Reorder{windowUnixM: window.Microseconds(), released: -1 << 62}
}

// Push buffers an event and returns the events that have matured, in
// order. It returns a DataOrderingError when the event arrives behind the
// released watermark; the caller decides whether that halts the run
// (backtest) or is dropped and counted (live).
func (r *Reorder) Push(ev domain.MarketEvent) ([]domain.MarketEvent, error) {
	if ev.TsUnixM < r.released {
		return nil, &domain.DataOrderingError{Seq: ev.Seq, TsUnixM: ev.TsUnixM, WatermarkUnixM: r.released}
	}

	r.arrival++
	heap.Push(&r.buf, reorderEntry{ev: ev, arrival: r.arrival})
	if ev.TsUnixM > r.maxSeen {
		r.maxSeen = ev.TsUnixM
	}
	return r.release(r.maxSeen - r.windowUnixM), nil
}

// Tick releases events matured by wall-clock progress, for live mode where
// the watermark must advance even without new arrivals.
func (r *Reorder) Tick(nowUnixM int64) []domain.MarketEvent {
	if nowUnixM > r.maxSeen {
		r.maxSeen = nowUnixM
	}
	return r.release(r.maxSeen - r.windowUnixM)
}

// Flush drains everything still buffered, in order. Used at shutdown.
func (r *Reorder) Flush() []domain.MarketEvent {
	return r.release(1<<63 - 1)
}

// Buffered returns the number of events currently held.
func (r *Reorder) Buffered() int { return len(r.buf) }

func (r *Reorder) release(upToUnixM int64) []domain.MarketEvent {
	var out []domain.MarketEvent
	for len(r.buf) > 0 && r.buf[0].ev.TsUnixM <= upToUnixM {
		e := heap.Pop(&r.buf).(reorderEntry)
		if e.ev.TsUnixM > r.released {
			r.released = e.ev.TsUnixM
		}
		out = append(out, e.ev)
	}
	return out
}
