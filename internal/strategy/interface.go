package strategy

import (
	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
)

// Context is the read-only view the runner hands a strategy. It carries
// the simulation clock and the latest portfolio snapshot; strategies
// never mutate engine state directly.
type Context struct {
	NowUnixM  int64
	Portfolio domain.PortfolioSnapshot
}

// Position returns the strategy's current position in a symbol.
func (c *Context) Position(symbol string) domain.Position {
	return c.Portfolio.Positions[symbol]
}

// Cash returns the current free cash.
func (c *Context) Cash() decimal.Decimal {
	return c.Portfolio.Cash
}

// Strategy is the decision-making interface. The same implementation runs
// unchanged against historical replay and live data: every callback is
// invoked synchronously from the runner's single processing step, and a
// strategy only ever observes events at or before the current clock.
type Strategy interface {
	// OnStart is called once before the first event.
	OnStart(ctx *Context)

	// OnEvent is called for every market event, in order. It returns the
	// intents to submit; nil means no action.
	OnEvent(ctx *Context, ev domain.MarketEvent) []domain.OrderIntent

	// OnFill is called for every execution report affecting the
	// strategy's orders, including rejections and cancels.
	OnFill(ctx *Context, report domain.ExecReport)

	// OnStop is called once after the last event with the final state.
	OnStop(final domain.PortfolioSnapshot)
}
