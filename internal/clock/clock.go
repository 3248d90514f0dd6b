// Package clock provides the engine's simulation time and timer
// scheduling. Time advances only when the runner tells it to: via feed
// events in historical mode, plus wall-clock ticks injected as inbox
// messages in live mode. Nothing in here reads time.Now().
package clock

import "container/heap"

// Clock is the current simulation timestamp in Unix microseconds. It is
// monotonic non-decreasing and owned by the runner's processing step.
type Clock struct {
	nowUnixM int64
}

// NowUnixM returns the current simulation time.
func (c *Clock) NowUnixM() int64 { return c.nowUnixM }

// Advance moves the clock forward. Regressions are ignored (the clock
// never moves backwards); it returns the resulting time.
func (c *Clock) Advance(tsUnixM int64) int64 {
	if tsUnixM > c.nowUnixM {
		c.nowUnixM = tsUnixM
	}
	return c.nowUnixM
}

// Timer is a scheduled callback. Fire receives the timer's due time, so
// callbacks observe the moment they were scheduled for, not the event
// timestamp that happened to flush them.
type timer struct {
	dueUnixM int64
	seq      uint64 // insertion order, breaks due-time ties deterministically
	fn       func(dueUnixM int64)
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].dueUnixM != h[j].dueUnixM {
		return h[i].dueUnixM < h[j].dueUnixM
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(*timer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler fires callbacks when the clock crosses their due time. It is
// not safe for concurrent use; like everything on the hotpath it belongs
// to the runner's single processing step.
type Scheduler struct {
	timers  timerHeap
	nextSeq uint64
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// ScheduleAt registers fn to fire when the clock reaches dueUnixM.
func (s *Scheduler) ScheduleAt(dueUnixM int64, fn func(dueUnixM int64)) {
	s.nextSeq++
	heap.Push(&s.timers, &timer{dueUnixM: dueUnixM, seq: s.nextSeq, fn: fn})
}

// FireDue fires every timer with due <= nowUnixM, in (due, insertion)
// order, and returns the number fired. Callbacks may schedule further
// timers; those fire too if already due.
func (s *Scheduler) FireDue(nowUnixM int64) int {
	fired := 0
	for len(s.timers) > 0 && s.timers[0].dueUnixM <= nowUnixM {
		t := heap.Pop(&s.timers).(*timer)
		t.fn(t.dueUnixM)
		fired++
	}
	return fired
}

// Pending returns the number of scheduled timers.
func (s *Scheduler) Pending() int { return len(s.timers) }

// NextDueUnixM returns the earliest due time, or ok=false when empty.
func (s *Scheduler) NextDueUnixM() (int64, bool) {
	if len(s.timers) == 0 {
		return 0, false
	}
	return s.timers[0].dueUnixM, true
}
