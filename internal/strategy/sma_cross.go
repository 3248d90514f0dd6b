package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
)

// SMACrossStrategy trades simple moving average crossovers. It is
// stateful and deterministic; the price history lives in a fixed-size
// ring buffer so the hotpath stays allocation-free.
type SMACrossStrategy struct {
	symbol      string
	shortPeriod int
	longPeriod  int
	orderQty    decimal.Decimal

	// Ring buffer over the long period.
	prices []decimal.Decimal
	head   int // next write position
	count  int
	sum    decimal.Decimal // running sum over the long period

	prevShortSMA decimal.Decimal
	prevLongSMA  decimal.Decimal
	primed       bool

	nextClientID uint64
}

// NewSMACrossStrategy creates a new instance.
func NewSMACrossStrategy(symbol string, shortPeriod, longPeriod int, orderQty decimal.Decimal) *SMACrossStrategy {
	if shortPeriod >= longPeriod {
		panic("SMACrossStrategy: shortPeriod must be less than longPeriod")
	}
	return &SMACrossStrategy{
		symbol:      symbol,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		orderQty:    orderQty,
		prices:      make([]decimal.Decimal, longPeriod),
	}
}

func (s *SMACrossStrategy) OnStart(_ *Context) {}

// OnEvent updates the moving averages and emits an intent on a cross:
// buy when the short average crosses above the long (golden cross), sell
// the held position when it crosses below (dead cross).
func (s *SMACrossStrategy) OnEvent(ctx *Context, ev domain.MarketEvent) []domain.OrderIntent {
	if ev.Symbol != s.symbol {
		return nil
	}
	price := ev.Mid()
	if price.Sign() <= 0 {
		return nil
	}

	// Slide the ring buffer: drop the oldest value from the running sum
	// once the window is full.
	if s.count == s.longPeriod {
		s.sum = s.sum.Sub(s.prices[s.head])
	}
	s.prices[s.head] = price
	s.sum = s.sum.Add(price)
	s.head = (s.head + 1) % s.longPeriod
	if s.count < s.longPeriod {
		s.count++
	}

	if s.count < s.longPeriod {
		return nil
	}

	currLong := s.sum.Div(decimal.NewFromInt(int64(s.longPeriod)))
	currShort := s.shortSMA()

	var intents []domain.OrderIntent
	if s.primed {
		goldenCross := s.prevShortSMA.LessThanOrEqual(s.prevLongSMA) && currShort.GreaterThan(currLong)
		deadCross := s.prevShortSMA.GreaterThanOrEqual(s.prevLongSMA) && currShort.LessThan(currLong)

		if goldenCross && ctx.Position(s.symbol).Quantity.Sign() <= 0 {
			intents = append(intents, s.intent(domain.SideBuy, s.orderQty))
		}
		if deadCross {
			if held := ctx.Position(s.symbol).Quantity; held.Sign() > 0 {
				intents = append(intents, s.intent(domain.SideSell, held))
			}
		}
	}

	s.prevShortSMA = currShort
	s.prevLongSMA = currLong
	s.primed = true

	return intents
}

func (s *SMACrossStrategy) OnFill(_ *Context, _ domain.ExecReport) {}

func (s *SMACrossStrategy) OnStop(_ domain.PortfolioSnapshot) {}

func (s *SMACrossStrategy) intent(side domain.Side, qty decimal.Decimal) domain.OrderIntent {
	s.nextClientID++
	return domain.OrderIntent{
		ClientID: fmt.Sprintf("sma-%d", s.nextClientID),
		Symbol:   s.symbol,
		Side:     side,
		Type:     domain.OrderMarket,
		Quantity: qty,
	}
}

// shortSMA walks the ring buffer backwards from the latest write.
func (s *SMACrossStrategy) shortSMA() decimal.Decimal {
	var sum decimal.Decimal
	idx := s.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum = sum.Add(s.prices[idx])
	}
	return sum.Div(decimal.NewFromInt(int64(s.shortPeriod)))
}
