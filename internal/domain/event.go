package domain

import "github.com/shopspring/decimal"

// EventKind discriminates the payload of a MarketEvent.
type EventKind uint8

const (
	KindQuote EventKind = iota + 1
	KindTrade
	KindBar
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case KindQuote:
		return "QUOTE"
	case KindTrade:
		return "TRADE"
	case KindBar:
		return "BAR"
	default:
		return "UNKNOWN"
	}
}

// MarketEvent is a single immutable market update. Seq is assigned at
// ingestion by the runner and is strictly increasing within a run; TsUnixM
// is the source-assigned timestamp in Unix microseconds and is
// non-decreasing across the run.
//
// Payload fields depend on Kind:
//
//	QUOTE: Bid, Ask, Size (quoted size, may be zero if unknown)
//	TRADE: Price, Size
//	BAR:   Open, High, Low, Close, Volume
type MarketEvent struct {
	Seq     uint64
	TsUnixM int64
	Symbol  string
	Kind    EventKind

	Price decimal.Decimal
	Size  decimal.Decimal
	Bid   decimal.Decimal
	Ask   decimal.Decimal

	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// MarketPrice returns the price a marketable order of the given side would
// trade against in this event: the ask/bid for quotes, the trade price for
// trades, and the open (first tradable price of the interval) for bars.
func (e MarketEvent) MarketPrice(side Side) decimal.Decimal {
	switch e.Kind {
	case KindQuote:
		if side == SideBuy {
			return e.Ask
		}
		return e.Bid
	case KindBar:
		return e.Open
	default:
		return e.Price
	}
}

// Mid returns a marking price for the event, used for equity valuation and
// buying-power estimates.
func (e MarketEvent) Mid() decimal.Decimal {
	switch e.Kind {
	case KindQuote:
		if e.Bid.IsZero() || e.Ask.IsZero() {
			if e.Bid.IsZero() {
				return e.Ask
			}
			return e.Bid
		}
		return e.Bid.Add(e.Ask).Div(decimal.NewFromInt(2))
	case KindBar:
		return e.Close
	default:
		return e.Price
	}
}

// Liquidity returns the traded volume this event makes available for
// simulated matching. Zero means the event carries no volume information;
// the simulator treats that as an unconstrained fill.
func (e MarketEvent) Liquidity() decimal.Decimal {
	if e.Kind == KindBar {
		return e.Volume
	}
	return e.Size
}

// TradeEvent builds a TRADE event. Seq is left for the runner to assign.
func TradeEvent(tsUnixM int64, symbol string, price, size decimal.Decimal) MarketEvent {
	return MarketEvent{TsUnixM: tsUnixM, Symbol: symbol, Kind: KindTrade, Price: price, Size: size}
}

// QuoteEvent builds a QUOTE event.
func QuoteEvent(tsUnixM int64, symbol string, bid, ask, size decimal.Decimal) MarketEvent {
	return MarketEvent{TsUnixM: tsUnixM, Symbol: symbol, Kind: KindQuote, Bid: bid, Ask: ask, Size: size}
}

// BarEvent builds a BAR event.
func BarEvent(tsUnixM int64, symbol string, open, high, low, close, volume decimal.Decimal) MarketEvent {
	return MarketEvent{
		TsUnixM: tsUnixM, Symbol: symbol, Kind: KindBar,
		Open: open, High: high, Low: low, Close: close, Volume: volume,
	}
}
