package engine

import (
	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
)

// Result summarizes one finished run.
type Result struct {
	RunID string
	Mode  string

	EventsProcessed int64
	OrdersSubmitted int64
	OrdersFilled    int64
	OrdersRejected  int64
	LateDropped     uint64

	InitialCash decimal.Decimal
	FinalCash   decimal.Decimal
	FinalEquity decimal.Decimal
	FeesPaid    decimal.Decimal
	// MaxDrawdown is the largest peak-to-trough equity decline as a
	// fraction of the peak.
	MaxDrawdown decimal.Decimal

	Final domain.PortfolioSnapshot
}

// Return is the simple return on initial cash.
func (r Result) Return() decimal.Decimal {
	if r.InitialCash.IsZero() {
		return decimal.Zero
	}
	return r.FinalEquity.Sub(r.InitialCash).Div(r.InitialCash)
}
