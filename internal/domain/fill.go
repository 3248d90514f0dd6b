package domain

import "github.com/shopspring/decimal"

// RejectReason is the typed cause attached to a rejected intent.
type RejectReason uint8

const (
	RejectNone RejectReason = iota
	RejectInsufficientFunds
	RejectInvalidInstrument
	RejectInvalidQuantity
	RejectInvalidPrice
	RejectLiquidity
)

// String returns the string representation of RejectReason.
func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "NONE"
	case RejectInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case RejectInvalidInstrument:
		return "INVALID_INSTRUMENT"
	case RejectInvalidQuantity:
		return "INVALID_QUANTITY"
	case RejectInvalidPrice:
		return "INVALID_PRICE"
	case RejectLiquidity:
		return "INSUFFICIENT_LIQUIDITY"
	default:
		return "UNKNOWN"
	}
}

// Fill is an immutable record of a (partial) execution. Fills are
// append-only: once created they are never mutated or deleted, so the
// portfolio is always reconstructable by replaying the fill sequence.
// Slippage is the adverse price adjustment applied by the slippage model,
// already included in Price.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     Side
	TsUnixM  int64
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Fee      decimal.Decimal
	Slippage decimal.Decimal
}

// Notional is Price * Quantity.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}

// ExecReport is the simulator's notification to the strategy and the
// runner. Order is a value snapshot taken after the transition. Fill is
// nil for pure status changes (acceptance, cancel, expiry) and for
// rejections, which instead carry a RejectReason and a zero-quantity
// order snapshot. A cancel forced by the liquidity cap carries
// RejectLiquidity as its cause.
type ExecReport struct {
	Order  Order
	Fill   *Fill
	Reject RejectReason
}

// Rejected reports whether this is a rejection notification: the intent
// never became a working order.
func (r ExecReport) Rejected() bool {
	return r.Order.Status == StatusRejected
}
