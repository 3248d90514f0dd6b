package broker

import (
	"context"
	"sync"

	"quantsim/internal/domain"
	"quantsim/internal/sim"
)

// SimBroker adapts the execution simulator to the Broker interface for
// paper trading: intents route into the simulator and its reports are
// re-delivered asynchronously on the Reports channel, exercising the same
// inbox path a live venue would.
type SimBroker struct {
	mu      sync.Mutex
	sim     *sim.Simulator
	reports chan domain.ExecReport
	closed  bool
}

// NewSimBroker wraps a simulator. The simulator's report sink is taken
// over by the broker; buffer sizes the report channel.
func NewSimBroker(simulator *sim.Simulator, buffer int) *SimBroker {
	b := &SimBroker{
		sim:     simulator,
		reports: make(chan domain.ExecReport, buffer),
	}
	simulator.SetReportSink(b.deliver)
	return b
}

func (b *SimBroker) deliver(r domain.ExecReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.reports <- r
}

// Submit routes the intent into the simulator. A validation rejection is
// reported on the channel like any venue reject; the synchronous error is
// surfaced for the caller's accounting.
func (b *SimBroker) Submit(_ context.Context, intent domain.OrderIntent) (domain.Order, error) {
	return b.sim.Submit(intent)
}

// Cancel cancels an open simulated order.
func (b *SimBroker) Cancel(_ context.Context, orderID string) error {
	return b.sim.Cancel(orderID)
}

// Reports returns the execution report stream.
func (b *SimBroker) Reports() <-chan domain.ExecReport {
	return b.reports
}

// OnMarketEvent advances the wrapped simulator's matching.
func (b *SimBroker) OnMarketEvent(ev domain.MarketEvent) {
	b.sim.OnMarketEvent(ev)
}

// Close stops report delivery and closes the stream.
func (b *SimBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.reports)
	}
	return nil
}
