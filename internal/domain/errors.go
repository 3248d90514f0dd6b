package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ValidationError reports a bad order intent. It is delivered to the
// strategy as a zero-quantity rejection report; the run continues.
type ValidationError struct {
	ClientID string
	Reason   RejectReason
	Detail   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("intent %s rejected [%s]: %s", e.ClientID, e.Reason, e.Detail)
}

func (e *ValidationError) IsRetriable() bool { return false }

// DataOrderingError reports an event that violates the monotonic
// timestamp / lateness invariant. Fatal in backtest mode; dropped and
// counted in live mode.
type DataOrderingError struct {
	Seq            uint64
	TsUnixM        int64
	WatermarkUnixM int64
}

func (e *DataOrderingError) Error() string {
	return fmt.Sprintf("event seq %d ts %d behind watermark %d", e.Seq, e.TsUnixM, e.WatermarkUnixM)
}

func (e *DataOrderingError) IsRetriable() bool { return false }

// InsufficientLiquidityError reports a partial fill forced by the
// liquidity cap. Never fatal; the remainder is handled per the configured
// policy.
type InsufficientLiquidityError struct {
	OrderID   string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("order %s requested %s, liquidity cap %s", e.OrderID, e.Requested, e.Available)
}

func (e *InsufficientLiquidityError) IsRetriable() bool { return true }

// CollaboratorFailure reports an unreachable feed or broker. Live mode
// degrades and surfaces it to the operator; backtest mode treats it as
// fatal, since no recovery is meaningful for a finished historical source.
type CollaboratorFailure struct {
	Collaborator string // "feed", "broker", "artifact"
	Err          error
	Retriable    bool
}

func (e *CollaboratorFailure) Error() string {
	return e.Collaborator + ": " + e.Err.Error()
}

func (e *CollaboratorFailure) IsRetriable() bool { return e.Retriable }

func (e *CollaboratorFailure) Unwrap() error { return e.Err }

var (
	// ErrRunStopped is returned when a run is canceled between events.
	ErrRunStopped = errors.New("run stopped")

	// ErrUnknownOrder is returned when canceling an order the simulator
	// does not own.
	ErrUnknownOrder = errors.New("unknown order")
)
