package sim

import "github.com/shopspring/decimal"

// FeeModel computes the cost charged on a fill.
type FeeModel interface {
	Name() string
	Fee(price, qty decimal.Decimal) decimal.Decimal
}

// FlatFee charges a fixed amount per fill.
type FlatFee struct {
	Amount decimal.Decimal
}

func (FlatFee) Name() string { return "flat" }

func (m FlatFee) Fee(_, _ decimal.Decimal) decimal.Decimal { return m.Amount }

// ProportionalFee charges Fixed plus Rate times the notional.
type ProportionalFee struct {
	Fixed decimal.Decimal
	Rate  decimal.Decimal
}

func (ProportionalFee) Name() string { return "proportional" }

func (m ProportionalFee) Fee(price, qty decimal.Decimal) decimal.Decimal {
	return m.Fixed.Add(price.Mul(qty).Mul(m.Rate))
}

// FeeFunc adapts a plain function into a FeeModel.
type FeeFunc func(price, qty decimal.Decimal) decimal.Decimal

func (FeeFunc) Name() string { return "custom" }

func (f FeeFunc) Fee(price, qty decimal.Decimal) decimal.Decimal { return f(price, qty) }
