package feed

import (
	"context"
	"sort"

	"quantsim/internal/domain"
)

// MemoryFeed replays an in-memory slice of events. It is the workhorse of
// research runs and tests: fully deterministic, never blocks.
type MemoryFeed struct {
	events []domain.MarketEvent
	pos    int
}

// NewMemoryFeed copies the given events and sorts them by (timestamp,
// insertion order) so the ordering invariant holds regardless of input.
func NewMemoryFeed(events []domain.MarketEvent) *MemoryFeed {
	cp := make([]domain.MarketEvent, len(events))
	copy(cp, events)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].TsUnixM < cp[j].TsUnixM })
	return &MemoryFeed{events: cp}
}

// Next returns the next event or ErrEndOfStream.
func (f *MemoryFeed) Next(_ context.Context) (domain.MarketEvent, error) {
	if f.pos >= len(f.events) {
		return domain.MarketEvent{}, ErrEndOfStream
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, nil
}

// Reset repositions the feed at the beginning, for repeated runs over the
// same data.
func (f *MemoryFeed) Reset() { f.pos = 0 }

// Close implements Feed.
func (f *MemoryFeed) Close() error { return nil }
