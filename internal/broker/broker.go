// Package broker defines the order routing boundary for paper and live
// runs. In backtest mode the runner talks to the execution simulator
// directly; in paper and live modes it talks to a Broker, and whatever
// reports come back flow through the same application path as simulated
// fills.
package broker

import (
	"context"

	"quantsim/internal/domain"
)

// Broker routes intents to a venue and streams execution reports back.
// Reports delivered on the channel are injected into the runner's inbox,
// so the strategy and portfolio never see a broker-shaped code path.
type Broker interface {
	// Submit routes an intent. The returned order reflects acknowledgment
	// only; fills arrive asynchronously on Reports.
	Submit(ctx context.Context, intent domain.OrderIntent) (domain.Order, error)

	// Cancel requests cancellation of an open order.
	Cancel(ctx context.Context, orderID string) error

	// Reports is the stream of execution reports. Closed when the broker
	// shuts down.
	Reports() <-chan domain.ExecReport

	// Close releases the venue connection.
	Close() error
}
