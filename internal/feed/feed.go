// Package feed abstracts ordered sources of market events. Historical
// sources are finite and never block; live sources block on Next until an
// event arrives, the context is canceled, or the connection dies. Next is
// the only suspension point in the engine's event flow.
package feed

import (
	"context"
	"errors"

	"quantsim/internal/domain"
)

// ErrEndOfStream signals a historical source is exhausted. It terminates
// a backtest run cleanly.
var ErrEndOfStream = errors.New("end of stream")

// Feed produces a lazy, ordered sequence of market events. Events must be
// non-decreasing in timestamp; the runner treats a violation as a
// DataOrderingError.
type Feed interface {
	Next(ctx context.Context) (domain.MarketEvent, error)
	Close() error
}
