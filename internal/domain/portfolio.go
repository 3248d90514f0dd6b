package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Position is the holding in a single instrument. Quantity is signed
// (negative = short); AvgCost is the volume-weighted entry price of the
// open quantity.
type Position struct {
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// IsFlat reports whether the position is zero.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// PortfolioSnapshot is an immutable point-in-time copy of portfolio state,
// safe to hand to strategies and reports.
type PortfolioSnapshot struct {
	Cash       decimal.Decimal
	Positions  map[string]Position
	OpenOrders []Order
	FeesPaid   decimal.Decimal
}

// Portfolio holds cash, positions and open-order snapshots. It is mutated
// exclusively through ApplyFill and ApplyStatus, one atomic step per
// processed event. Cash and positions are always derivable by replaying
// the fill sequence from the initial cash.
type Portfolio struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]Position
	openOrders  map[string]Order
	feesPaid    decimal.Decimal
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]Position),
		openOrders:  make(map[string]Order),
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// InitialCash returns the starting cash balance.
func (p *Portfolio) InitialCash() decimal.Decimal { return p.initialCash }

// FeesPaid returns cumulative fees deducted by fills.
func (p *Portfolio) FeesPaid() decimal.Decimal { return p.feesPaid }

// Position returns the position for a symbol (zero value if flat).
func (p *Portfolio) Position(symbol string) Position {
	return p.positions[symbol]
}

// ApplyFill folds a fill into cash and positions. This is the single
// application path for simulated and broker-delivered fills alike.
func (p *Portfolio) ApplyFill(f Fill) {
	if f.Quantity.Sign() <= 0 {
		panic(fmt.Sprintf("PORTFOLIO_INVALID_FILL_QTY: order %s qty %s", f.OrderID, f.Quantity))
	}

	notional := f.Notional()
	var delta decimal.Decimal
	switch f.Side {
	case SideBuy:
		p.cash = p.cash.Sub(notional).Sub(f.Fee)
		delta = f.Quantity
	case SideSell:
		p.cash = p.cash.Add(notional).Sub(f.Fee)
		delta = f.Quantity.Neg()
	default:
		panic(fmt.Sprintf("PORTFOLIO_INVALID_FILL_SIDE: order %s", f.OrderID))
	}
	p.feesPaid = p.feesPaid.Add(f.Fee)

	cur := p.positions[f.Symbol]
	next := cur.Quantity.Add(delta)

	switch {
	case next.IsZero():
		delete(p.positions, f.Symbol)
		return
	case cur.Quantity.IsZero() || cur.Quantity.Sign() == delta.Sign():
		// Adding to (or opening) a position: volume-weighted average cost.
		absCur := cur.Quantity.Abs()
		absNext := next.Abs()
		avg := absCur.Mul(cur.AvgCost).Add(f.Quantity.Mul(f.Price)).Div(absNext)
		p.positions[f.Symbol] = Position{Quantity: next, AvgCost: avg}
	case cur.Quantity.Sign() == next.Sign():
		// Reducing without crossing zero: average cost unchanged.
		p.positions[f.Symbol] = Position{Quantity: next, AvgCost: cur.AvgCost}
	default:
		// Crossed through zero: the surviving quantity entered at the
		// fill price.
		p.positions[f.Symbol] = Position{Quantity: next, AvgCost: f.Price}
	}
}

// ApplyStatus records an order transition. Terminal orders leave the open
// set; a transition on an order already terminal is a bug.
func (p *Portfolio) ApplyStatus(o Order) {
	if prev, ok := p.openOrders[o.ID]; ok && prev.Status.Terminal() {
		panic(fmt.Sprintf("PORTFOLIO_TERMINAL_TRANSITION: order %s %s -> %s", o.ID, prev.Status, o.Status))
	}
	if o.Status.Terminal() {
		delete(p.openOrders, o.ID)
		return
	}
	p.openOrders[o.ID] = o
}

// OpenOrders returns snapshots of all open orders, sorted by ID for
// deterministic iteration.
func (p *Portfolio) OpenOrders() []Order {
	out := make([]Order, 0, len(p.openOrders))
	for _, o := range p.openOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Equity values the portfolio at the given marks: cash plus the sum of
// position quantity times mark. Positions without a mark are valued at
// average cost.
func (p *Portfolio) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	eq := p.cash
	for sym, pos := range p.positions {
		mark, ok := marks[sym]
		if !ok {
			mark = pos.AvgCost
		}
		eq = eq.Add(pos.Quantity.Mul(mark))
	}
	return eq
}

// Snapshot returns a deep copy of the portfolio state.
func (p *Portfolio) Snapshot() PortfolioSnapshot {
	positions := make(map[string]Position, len(p.positions))
	for k, v := range p.positions {
		positions[k] = v
	}
	return PortfolioSnapshot{
		Cash:       p.cash,
		Positions:  positions,
		OpenOrders: p.OpenOrders(),
		FeesPaid:   p.feesPaid,
	}
}
