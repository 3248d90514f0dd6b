package domain

import "github.com/shopspring/decimal"

// Side is the direction of an order.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

// String returns the string representation of Side.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderType selects the matching behavior of an order.
type OrderType uint8

const (
	OrderMarket OrderType = iota + 1
	OrderLimit
	OrderStop
)

// String returns the string representation of OrderType.
func (t OrderType) String() string {
	switch t {
	case OrderMarket:
		return "MARKET"
	case OrderLimit:
		return "LIMIT"
	case OrderStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce controls how long a resting order stays eligible to fill.
type TimeInForce uint8

const (
	// TIFGTC keeps the order resting until filled or canceled.
	TIFGTC TimeInForce = iota + 1
	// TIFIOC fills what it can on the first matching event and cancels
	// the remainder.
	TIFIOC
	// TIFGTD keeps the order resting until the intent's expiry timestamp,
	// at which point the scheduler cancels it.
	TIFGTD
)

// String returns the string representation of TimeInForce.
func (t TimeInForce) String() string {
	switch t {
	case TIFGTC:
		return "GTC"
	case TIFIOC:
		return "IOC"
	case TIFGTD:
		return "GTD"
	default:
		return "UNKNOWN"
	}
}

// ParseTimeInForce maps a config string to a TimeInForce value. The empty
// string maps to GTC.
func ParseTimeInForce(s string) (TimeInForce, bool) {
	switch s {
	case "GTC", "gtc", "":
		return TIFGTC, true
	case "IOC", "ioc":
		return TIFIOC, true
	case "GTD", "gtd":
		return TIFGTD, true
	default:
		return 0, false
	}
}

// OrderStatus is the lifecycle state of an accepted order.
type OrderStatus uint8

const (
	StatusNew OrderStatus = iota + 1
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusRejected
)

// String returns the string representation of OrderStatus.
func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status is final. Terminal orders never
// transition again.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// OrderIntent is a strategy's request to trade. It is immutable and exists
// only until the simulator accepts or rejects it. LimitPrice is required
// for LIMIT orders, StopPrice for STOP orders; ExpireUnixM applies to GTD.
type OrderIntent struct {
	ClientID    string
	Symbol      string
	Side        Side
	Type        OrderType
	Quantity    decimal.Decimal
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TIF         TimeInForce
	ExpireUnixM int64
}

// Order is the simulator's accepted representation of an intent. It is
// owned exclusively by the execution simulator; everything else observes
// value copies carried on ExecReport.
type Order struct {
	ID             string
	ClientID       string
	Symbol         string
	Side           Side
	Type           OrderType
	TIF            TimeInForce
	Quantity       decimal.Decimal
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	Remaining      decimal.Decimal
	Status         OrderStatus
	SubmittedUnixM int64
	ExpireUnixM    int64
	UpdatedUnixM   int64
}

// IsOpen reports whether the order can still fill.
func (o *Order) IsOpen() bool {
	return !o.Status.Terminal()
}

// Snapshot returns an immutable value copy for observers.
func (o *Order) Snapshot() Order {
	return *o
}
