package sim

import (
	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
)

// ImpactTracker models the footprint of the engine's own fills: each fill
// shifts the reference price used for subsequent same-symbol matches, and
// the shift decays linearly to zero over the decay window. A nil tracker
// is valid and means impact is disabled.
type ImpactTracker struct {
	coeff        decimal.Decimal
	windowUnixM  int64
	shifts       map[string]impactState
}

type impactState struct {
	shift   decimal.Decimal // signed: positive pushes the price up
	atUnixM int64
}

// NewImpactTracker creates a tracker with the given coefficient and decay
// window in microseconds.
func NewImpactTracker(coeff decimal.Decimal, windowUnixM int64) *ImpactTracker {
	return &ImpactTracker{
		coeff:       coeff,
		windowUnixM: windowUnixM,
		shifts:      make(map[string]impactState),
	}
}

// RecordFill folds a fill's footprint into the symbol's shift. Buys push
// the reference price up, sells push it down, scaled by the filled share
// of the event's liquidity.
func (t *ImpactTracker) RecordFill(f domain.Fill, liquidity decimal.Decimal, nowUnixM int64) {
	if t == nil || liquidity.Sign() <= 0 {
		return
	}

	add := f.Price.Mul(t.coeff).Mul(f.Quantity.Div(liquidity))
	if f.Side == domain.SideSell {
		add = add.Neg()
	}

	cur := t.decayed(f.Symbol, nowUnixM)
	t.shifts[f.Symbol] = impactState{shift: cur.Add(add), atUnixM: nowUnixM}
}

// Shift returns the symbol's current signed reference-price shift.
func (t *ImpactTracker) Shift(symbol string, nowUnixM int64) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	return t.decayed(symbol, nowUnixM)
}

func (t *ImpactTracker) decayed(symbol string, nowUnixM int64) decimal.Decimal {
	st, ok := t.shifts[symbol]
	if !ok || st.shift.IsZero() {
		return decimal.Zero
	}

	elapsed := nowUnixM - st.atUnixM
	if elapsed >= t.windowUnixM {
		delete(t.shifts, symbol)
		return decimal.Zero
	}
	if elapsed <= 0 {
		return st.shift
	}

	remaining := decimal.NewFromInt(t.windowUnixM - elapsed).Div(decimal.NewFromInt(t.windowUnixM))
	return st.shift.Mul(remaining)
}
