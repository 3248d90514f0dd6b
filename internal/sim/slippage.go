package sim

import (
	"math"

	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
)

// SlippageModel computes the adverse price adjustment for executing
// against finite liquidity. The returned amount is non-negative; the
// simulator adds it for buys and subtracts it for sells. liquidity is the
// traded volume of the matching event and may be zero when the event
// carries no volume information.
type SlippageModel interface {
	Name() string
	Slip(price, qty, liquidity decimal.Decimal) decimal.Decimal
}

// NoSlippage is the baseline: fills at the reference price untouched.
type NoSlippage struct{}

func (NoSlippage) Name() string { return "none" }

func (NoSlippage) Slip(_, _, _ decimal.Decimal) decimal.Decimal { return decimal.Zero }

// LinearSlippage adjusts by K * (qty/liquidity) of the price.
type LinearSlippage struct {
	K decimal.Decimal
}

func (LinearSlippage) Name() string { return "linear" }

func (m LinearSlippage) Slip(price, qty, liquidity decimal.Decimal) decimal.Decimal {
	if liquidity.Sign() <= 0 {
		return decimal.Zero
	}
	return price.Mul(m.K).Mul(qty.Div(liquidity))
}

// SqrtSlippage adjusts by K * sqrt(qty/liquidity) of the price. The square
// root goes through float64; the conversion is deterministic for a given
// input, which is all replay requires.
type SqrtSlippage struct {
	K decimal.Decimal
}

func (SqrtSlippage) Name() string { return "sqrt" }

func (m SqrtSlippage) Slip(price, qty, liquidity decimal.Decimal) decimal.Decimal {
	if liquidity.Sign() <= 0 {
		return decimal.Zero
	}
	ratio, _ := qty.Div(liquidity).Float64()
	root := decimal.NewFromFloat(math.Sqrt(ratio))
	return price.Mul(m.K).Mul(root)
}

// SlippageFunc adapts a plain function into a SlippageModel, for custom
// models injected at construction.
type SlippageFunc func(price, qty, liquidity decimal.Decimal) decimal.Decimal

func (SlippageFunc) Name() string { return "custom" }

func (f SlippageFunc) Slip(price, qty, liquidity decimal.Decimal) decimal.Decimal {
	return f(price, qty, liquidity)
}

// adjusted applies slip adversely for the given side.
func adjusted(side domain.Side, price, slip decimal.Decimal) decimal.Decimal {
	if side == domain.SideBuy {
		return price.Add(slip)
	}
	return price.Sub(slip)
}
