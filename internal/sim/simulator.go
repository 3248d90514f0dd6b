package sim

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantsim/internal/clock"
	"quantsim/internal/domain"
)

// RemainderPolicy decides what happens to the unfilled part of a
// marketable order when the liquidity cap truncates it.
type RemainderPolicy uint8

const (
	// RemainderReject cancels the unfilled remainder (IOC-like).
	RemainderReject RemainderPolicy = iota + 1
	// RemainderRest keeps the remainder queued for the next event.
	RemainderRest
)

// ParseRemainderPolicy maps a config string to a policy. The empty string
// maps to reject.
func ParseRemainderPolicy(s string) (RemainderPolicy, bool) {
	switch s {
	case "reject", "":
		return RemainderReject, true
	case "rest":
		return RemainderRest, true
	default:
		return 0, false
	}
}

// PortfolioView is the read-only state the simulator validates against.
// Mutation stays with the runner's single application path.
type PortfolioView interface {
	Cash() decimal.Decimal
	Position(symbol string) domain.Position
}

// Config carries the friction models and matching policies. Everything is
// passed in explicitly at construction so runs are reproducible and
// testable in isolation.
type Config struct {
	Slippage        SlippageModel
	Fees            FeeModel
	Impact          *ImpactTracker // nil = disabled
	MaxFillFraction decimal.Decimal
	MarketRemainder RemainderPolicy
	DefaultTIF      domain.TimeInForce
	AllowShort      bool
	Instruments     map[string]bool
}

// Simulator is the order-matching and friction-modeling core. It owns all
// Order state. It never sees an event before the strategy does and it
// never matches an intent against the event that prompted it: market
// orders queue for the NEXT same-symbol event, which structurally
// enforces the no-lookahead invariant.
//
// Not safe for concurrent use; it lives on the runner's processing step.
type Simulator struct {
	cfg   Config
	clk   *clock.Clock
	sched *clock.Scheduler
	view  PortfolioView
	sink  func(domain.ExecReport)

	orders  map[string]*domain.Order
	pending map[string][]string // symbol -> marketable order IDs, FIFO
	resting map[string][]string // symbol -> resting limit/stop IDs, FIFO
	marks   map[string]decimal.Decimal

	// Buying-power reservations for open orders.
	reserveBasis  map[string]decimal.Decimal // orderID -> price basis of the cash reserve
	reservedCash  decimal.Decimal
	reservedQty   map[string]decimal.Decimal // symbol -> total reserved sell quantity
	orderReserved map[string]decimal.Decimal // orderID -> reserved sell quantity

	nextOrdinal uint64
}

// Order IDs are v5 UUIDs over a run-local ordinal: stable identifiers
// that are byte-identical across replays of the same input.
var orderNamespace = uuid.MustParse("88d0ad11-3e33-45a0-9c3d-0f6f0a2f61b1")

// New creates a simulator. Nil models default to the frictionless
// baseline; a zero MaxFillFraction means uncapped.
func New(cfg Config, clk *clock.Clock, sched *clock.Scheduler, view PortfolioView) *Simulator {
	if cfg.Slippage == nil {
		cfg.Slippage = NoSlippage{}
	}
	if cfg.Fees == nil {
		cfg.Fees = FlatFee{Amount: decimal.Zero}
	}
	if cfg.MaxFillFraction.IsZero() {
		cfg.MaxFillFraction = decimal.NewFromInt(1)
	}
	if cfg.MarketRemainder == 0 {
		cfg.MarketRemainder = RemainderReject
	}
	if cfg.DefaultTIF == 0 {
		cfg.DefaultTIF = domain.TIFGTC
	}
	return &Simulator{
		cfg:           cfg,
		clk:           clk,
		sched:         sched,
		view:          view,
		sink:          func(domain.ExecReport) {},
		orders:        make(map[string]*domain.Order),
		pending:       make(map[string][]string),
		resting:       make(map[string][]string),
		marks:         make(map[string]decimal.Decimal),
		reserveBasis:  make(map[string]decimal.Decimal),
		reservedQty:   make(map[string]decimal.Decimal),
		orderReserved: make(map[string]decimal.Decimal),
	}
}

// SetReportSink installs the runner's report callback. Reports are
// emitted synchronously, in deterministic order, during Submit,
// OnMarketEvent, Cancel and expiry.
func (s *Simulator) SetReportSink(fn func(domain.ExecReport)) {
	if fn != nil {
		s.sink = fn
	}
}

// Marks returns the last marking price per symbol. Read-only view.
func (s *Simulator) Marks() map[string]decimal.Decimal { return s.marks }

// OpenOrders returns snapshots of all non-terminal orders in submission
// order.
func (s *Simulator) OpenOrders() []domain.Order {
	out := make([]domain.Order, 0)
	for _, id := range s.submissionOrder() {
		if o := s.orders[id]; o.IsOpen() {
			out = append(out, o.Snapshot())
		}
	}
	return out
}

// Submit validates an intent, accepting it as a NEW order or rejecting it
// with a typed reason. Rejections are reported synchronously through the
// sink as zero-fill reports, and the ValidationError is returned for the
// caller's accounting. Accepted market orders queue for the next
// same-symbol event; limit and stop orders rest.
func (s *Simulator) Submit(intent domain.OrderIntent) (domain.Order, error) {
	now := s.clk.NowUnixM()
	tif := intent.TIF
	if tif == 0 {
		tif = s.cfg.DefaultTIF
	}

	o := &domain.Order{
		ID:             s.newOrderID(),
		ClientID:       intent.ClientID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Type:           intent.Type,
		TIF:            tif,
		Quantity:       intent.Quantity,
		LimitPrice:     intent.LimitPrice,
		StopPrice:      intent.StopPrice,
		Remaining:      intent.Quantity,
		Status:         domain.StatusNew,
		SubmittedUnixM: now,
		ExpireUnixM:    intent.ExpireUnixM,
		UpdatedUnixM:   now,
	}

	if reason, detail := s.validate(intent, o); reason != domain.RejectNone {
		o.Status = domain.StatusRejected
		s.orders[o.ID] = o
		s.sink(domain.ExecReport{Order: o.Snapshot(), Reject: reason})
		return o.Snapshot(), &domain.ValidationError{ClientID: intent.ClientID, Reason: reason, Detail: detail}
	}

	s.orders[o.ID] = o
	s.reserve(o)

	switch o.Type {
	case domain.OrderMarket:
		s.pending[o.Symbol] = append(s.pending[o.Symbol], o.ID)
	default:
		s.resting[o.Symbol] = append(s.resting[o.Symbol], o.ID)
	}

	if tif == domain.TIFGTD {
		id := o.ID
		s.sched.ScheduleAt(o.ExpireUnixM, func(dueUnixM int64) {
			s.expire(id, dueUnixM)
		})
	}

	s.sink(domain.ExecReport{Order: o.Snapshot()})
	return o.Snapshot(), nil
}

func (s *Simulator) validate(intent domain.OrderIntent, o *domain.Order) (domain.RejectReason, string) {
	if s.cfg.Instruments != nil && !s.cfg.Instruments[intent.Symbol] {
		return domain.RejectInvalidInstrument, fmt.Sprintf("unknown instrument %q", intent.Symbol)
	}
	if intent.Quantity.Sign() <= 0 {
		return domain.RejectInvalidQuantity, "quantity must be positive"
	}
	if intent.Side != domain.SideBuy && intent.Side != domain.SideSell {
		return domain.RejectInvalidQuantity, "side must be BUY or SELL"
	}
	switch intent.Type {
	case domain.OrderLimit:
		if intent.LimitPrice.Sign() <= 0 {
			return domain.RejectInvalidPrice, "limit order requires a positive limit price"
		}
	case domain.OrderStop:
		if intent.StopPrice.Sign() <= 0 {
			return domain.RejectInvalidPrice, "stop order requires a positive stop price"
		}
	case domain.OrderMarket:
	default:
		return domain.RejectInvalidQuantity, "unknown order type"
	}
	if o.TIF == domain.TIFGTD && intent.ExpireUnixM <= s.clk.NowUnixM() {
		return domain.RejectInvalidQuantity, "GTD expiry is not in the future"
	}

	basis, ok := s.reservePrice(intent)
	if !ok {
		return domain.RejectInvalidPrice, fmt.Sprintf("no reference price for %q", intent.Symbol)
	}

	if intent.Side == domain.SideBuy {
		cost := basis.Mul(intent.Quantity)
		available := s.view.Cash().Sub(s.reservedCash)
		if cost.GreaterThan(available) {
			return domain.RejectInsufficientFunds, fmt.Sprintf("need %s, available %s", cost, available)
		}
		return domain.RejectNone, ""
	}

	if !s.cfg.AllowShort {
		held := s.view.Position(intent.Symbol).Quantity.Sub(s.reservedQty[intent.Symbol])
		if intent.Quantity.GreaterThan(held) {
			return domain.RejectInsufficientFunds, fmt.Sprintf("need %s units, held %s", intent.Quantity, held)
		}
	}
	return domain.RejectNone, ""
}

// reservePrice picks the price basis used for buying-power checks: the
// limit/stop price when present, otherwise the last mark.
func (s *Simulator) reservePrice(intent domain.OrderIntent) (decimal.Decimal, bool) {
	if intent.LimitPrice.Sign() > 0 {
		return intent.LimitPrice, true
	}
	if intent.StopPrice.Sign() > 0 {
		return intent.StopPrice, true
	}
	mark, ok := s.marks[intent.Symbol]
	return mark, ok
}

// OnMarketEvent advances matching with one event: pending marketable
// orders fill first (FIFO), then resting orders are trigger-tested, all
// against this event's prices shifted by the symbol's own market impact.
// The event's traded volume caps how much can fill.
func (s *Simulator) OnMarketEvent(ev domain.MarketEvent) {
	now := ev.TsUnixM
	liquidity := ev.Liquidity()

	// Shared per-event capacity pool; negative sign means uncapped.
	capLeft := decimal.NewFromInt(-1)
	if liquidity.Sign() > 0 {
		capLeft = s.cfg.MaxFillFraction.Mul(liquidity)
	}

	match := ev
	if shift := s.cfg.Impact.Shift(ev.Symbol, now); !shift.IsZero() {
		match = shiftEvent(ev, shift)
	}

	// 1. Pending marketable orders.
	queue := s.pending[ev.Symbol]
	s.pending[ev.Symbol] = queue[:0:0]
	for _, id := range queue {
		o := s.orders[id]
		if !o.IsOpen() {
			continue
		}
		capLeft = s.fillMarketable(o, match.MarketPrice(o.Side), liquidity, capLeft, now)
		if o.IsOpen() {
			s.pending[ev.Symbol] = append(s.pending[ev.Symbol], id)
		}
	}

	// 2. Resting limit/stop orders.
	rest := s.resting[ev.Symbol]
	s.resting[ev.Symbol] = rest[:0:0]
	for _, id := range rest {
		o := s.orders[id]
		if !o.IsOpen() {
			continue
		}
		var keepResting bool
		capLeft, keepResting = s.tryTrigger(o, match, liquidity, capLeft, now)
		if o.IsOpen() && keepResting {
			s.resting[ev.Symbol] = append(s.resting[ev.Symbol], id)
		}
	}

	s.marks[ev.Symbol] = ev.Mid()
}

// fillMarketable fills as much of a marketable order as the capacity pool
// allows at the given base price, handles the remainder per policy, and
// returns the capacity left.
func (s *Simulator) fillMarketable(o *domain.Order, base decimal.Decimal, liquidity, capLeft decimal.Decimal, now int64) decimal.Decimal {
	if base.Sign() <= 0 {
		// Event carries no usable price for this side (e.g. one-sided
		// quote); the order stays queued.
		return capLeft
	}

	qty := o.Remaining
	capped := false
	if capLeft.Sign() >= 0 && qty.GreaterThan(capLeft) {
		qty = capLeft
		capped = true
	}

	if qty.Sign() > 0 {
		slip := s.cfg.Slippage.Slip(base, qty, liquidity)
		price := adjusted(o.Side, base, slip)
		fee := s.cfg.Fees.Fee(price, qty)

		fill := domain.Fill{
			OrderID:  o.ID,
			Symbol:   o.Symbol,
			Side:     o.Side,
			TsUnixM:  now,
			Price:    price,
			Quantity: qty,
			Fee:      fee,
			Slippage: slip,
		}

		o.Remaining = o.Remaining.Sub(qty)
		if o.Remaining.IsZero() {
			s.transition(o, domain.StatusFilled, now)
		} else {
			s.transition(o, domain.StatusPartiallyFilled, now)
		}
		s.releaseAfterFill(o, qty)
		s.cfg.Impact.RecordFill(fill, liquidity, now)
		if capLeft.Sign() >= 0 {
			capLeft = capLeft.Sub(qty)
		}

		s.sink(domain.ExecReport{Order: o.Snapshot(), Fill: &fill})
	}

	if !o.IsOpen() {
		return capLeft
	}

	if capped {
		err := &domain.InsufficientLiquidityError{OrderID: o.ID, Requested: o.Remaining.Add(qty), Available: qty}
		slog.Debug("Liquidity cap hit", slog.String("order", o.ID), slog.Any("detail", err))
	}

	// IOC never rests. The marketable-remainder policy covers market
	// orders and triggered stops only; a truncated limit remainder keeps
	// resting at its price.
	if o.TIF == domain.TIFIOC {
		s.cancelForLiquidity(o, now)
		return capLeft
	}
	if o.Type != domain.OrderLimit && s.cfg.MarketRemainder == RemainderReject {
		s.cancelForLiquidity(o, now)
	}
	return capLeft
}

// tryTrigger tests a resting order against the (impact-shifted) event.
// Returns the remaining capacity and whether the order keeps resting.
func (s *Simulator) tryTrigger(o *domain.Order, ev domain.MarketEvent, liquidity, capLeft decimal.Decimal, now int64) (decimal.Decimal, bool) {
	var base decimal.Decimal
	switch o.Type {
	case domain.OrderLimit:
		ok, px := limitTouch(o.Side, o.LimitPrice, ev)
		if !ok {
			return capLeft, true
		}
		base = px
	case domain.OrderStop:
		ok, px := stopTouch(o.Side, o.StopPrice, ev)
		if !ok {
			return capLeft, true
		}
		base = px
	default:
		return capLeft, true
	}

	wasLimit := o.Type == domain.OrderLimit
	capLeft = s.fillMarketable(o, base, liquidity, capLeft, now)

	if !o.IsOpen() {
		return capLeft, false
	}
	if wasLimit {
		// Unfilled limit remainder keeps resting regardless of policy.
		return capLeft, true
	}
	// A triggered stop's remainder behaves like a market order: under the
	// rest policy it joins the pending queue, otherwise fillMarketable
	// already canceled it.
	s.pending[o.Symbol] = append(s.pending[o.Symbol], o.ID)
	return capLeft, false
}

// limitTouch reports whether a limit order fills on this event, and the
// base fill price. Bars gap-open through the limit fill at the open
// (the first tradable price of the interval), otherwise at the limit; trades
// and quotes fill at the crossing price, which is limit-or-better.
func limitTouch(side domain.Side, limit decimal.Decimal, ev domain.MarketEvent) (bool, decimal.Decimal) {
	switch ev.Kind {
	case domain.KindBar:
		if side == domain.SideBuy {
			if ev.Low.GreaterThan(limit) {
				return false, decimal.Zero
			}
			if ev.Open.LessThanOrEqual(limit) {
				return true, ev.Open
			}
			return true, limit
		}
		if ev.High.LessThan(limit) {
			return false, decimal.Zero
		}
		if ev.Open.GreaterThanOrEqual(limit) {
			return true, ev.Open
		}
		return true, limit
	case domain.KindQuote:
		if side == domain.SideBuy {
			if ev.Ask.Sign() > 0 && ev.Ask.LessThanOrEqual(limit) {
				return true, ev.Ask
			}
			return false, decimal.Zero
		}
		if ev.Bid.Sign() > 0 && ev.Bid.GreaterThanOrEqual(limit) {
			return true, ev.Bid
		}
		return false, decimal.Zero
	default: // trade
		if side == domain.SideBuy {
			if ev.Price.LessThanOrEqual(limit) {
				return true, ev.Price
			}
		} else if ev.Price.GreaterThanOrEqual(limit) {
			return true, ev.Price
		}
		return false, decimal.Zero
	}
}

// stopTouch reports whether a stop order triggers on this event, and the
// base fill price: the stop threshold, or the bar open when it gaps over.
func stopTouch(side domain.Side, stop decimal.Decimal, ev domain.MarketEvent) (bool, decimal.Decimal) {
	switch ev.Kind {
	case domain.KindBar:
		if side == domain.SideBuy { // buy stop: breakout up
			if ev.High.LessThan(stop) {
				return false, decimal.Zero
			}
			if ev.Open.GreaterThanOrEqual(stop) {
				return true, ev.Open
			}
			return true, stop
		}
		if ev.Low.GreaterThan(stop) {
			return false, decimal.Zero
		}
		if ev.Open.LessThanOrEqual(stop) {
			return true, ev.Open
		}
		return true, stop
	case domain.KindQuote:
		if side == domain.SideBuy {
			if ev.Ask.Sign() > 0 && ev.Ask.GreaterThanOrEqual(stop) {
				return true, ev.Ask
			}
			return false, decimal.Zero
		}
		if ev.Bid.Sign() > 0 && ev.Bid.LessThanOrEqual(stop) {
			return true, ev.Bid
		}
		return false, decimal.Zero
	default: // trade
		if side == domain.SideBuy {
			if ev.Price.GreaterThanOrEqual(stop) {
				return true, ev.Price
			}
		} else if ev.Price.LessThanOrEqual(stop) {
			return true, ev.Price
		}
		return false, decimal.Zero
	}
}

// Cancel cancels an open order on behalf of the strategy or operator.
func (s *Simulator) Cancel(orderID string) error {
	o, ok := s.orders[orderID]
	if !ok || !o.IsOpen() {
		return domain.ErrUnknownOrder
	}
	s.cancelOrder(o, s.clk.NowUnixM())
	return nil
}

// CancelAll force-cancels every open order, in submission order. Called
// when a run stops between two events.
func (s *Simulator) CancelAll() {
	now := s.clk.NowUnixM()
	for _, id := range s.submissionOrder() {
		if o := s.orders[id]; o.IsOpen() {
			s.cancelOrder(o, now)
		}
	}
}

// expire is the GTD timer callback. Lazy: a no-op when the order already
// reached a terminal state.
func (s *Simulator) expire(orderID string, dueUnixM int64) {
	o, ok := s.orders[orderID]
	if !ok || !o.IsOpen() {
		return
	}
	slog.Debug("Order expired", slog.String("order", orderID))
	s.cancelOrder(o, dueUnixM)
}

func (s *Simulator) cancelOrder(o *domain.Order, now int64) {
	s.transition(o, domain.StatusCanceled, now)
	s.releaseAll(o)
	s.sink(domain.ExecReport{Order: o.Snapshot()})
}

// cancelForLiquidity cancels a liquidity-truncated remainder. The report
// carries the liquidity reason so a strategy can tell it from an operator
// or expiry cancel.
func (s *Simulator) cancelForLiquidity(o *domain.Order, now int64) {
	s.transition(o, domain.StatusCanceled, now)
	s.releaseAll(o)
	s.sink(domain.ExecReport{Order: o.Snapshot(), Reject: domain.RejectLiquidity})
}

func (s *Simulator) transition(o *domain.Order, status domain.OrderStatus, now int64) {
	if o.Status.Terminal() {
		panic(fmt.Sprintf("ORDER_TERMINAL_TRANSITION: %s %s -> %s", o.ID, o.Status, status))
	}
	o.Status = status
	o.UpdatedUnixM = now
}

// reserve locks buying power for an accepted order: cash for buys at the
// reservation price basis, position quantity for sells.
func (s *Simulator) reserve(o *domain.Order) {
	if o.Side == domain.SideBuy {
		basis, _ := s.reservePrice(domain.OrderIntent{
			Symbol: o.Symbol, LimitPrice: o.LimitPrice, StopPrice: o.StopPrice,
		})
		s.reserveBasis[o.ID] = basis
		s.reservedCash = s.reservedCash.Add(basis.Mul(o.Remaining))
		return
	}
	if !s.cfg.AllowShort {
		s.orderReserved[o.ID] = o.Remaining
		s.reservedQty[o.Symbol] = s.reservedQty[o.Symbol].Add(o.Remaining)
	}
}

// releaseAfterFill shrinks the reservation to cover only the remaining
// quantity.
func (s *Simulator) releaseAfterFill(o *domain.Order, filledQty decimal.Decimal) {
	if o.Side == domain.SideBuy {
		if basis, ok := s.reserveBasis[o.ID]; ok {
			s.reservedCash = s.reservedCash.Sub(basis.Mul(filledQty))
			if !o.IsOpen() {
				delete(s.reserveBasis, o.ID)
			}
		}
		return
	}
	if reserved, ok := s.orderReserved[o.ID]; ok {
		release := decimal.Min(filledQty, reserved)
		s.orderReserved[o.ID] = reserved.Sub(release)
		s.reservedQty[o.Symbol] = s.reservedQty[o.Symbol].Sub(release)
		if !o.IsOpen() {
			delete(s.orderReserved, o.ID)
		}
	}
}

// releaseAll drops the whole remaining reservation of a terminal order.
func (s *Simulator) releaseAll(o *domain.Order) {
	if basis, ok := s.reserveBasis[o.ID]; ok {
		s.reservedCash = s.reservedCash.Sub(basis.Mul(o.Remaining))
		delete(s.reserveBasis, o.ID)
	}
	if reserved, ok := s.orderReserved[o.ID]; ok {
		s.reservedQty[o.Symbol] = s.reservedQty[o.Symbol].Sub(reserved)
		delete(s.orderReserved, o.ID)
	}
}

func (s *Simulator) newOrderID() string {
	s.nextOrdinal++
	return uuid.NewSHA1(orderNamespace, []byte(fmt.Sprintf("order-%d", s.nextOrdinal))).String()
}

// submissionOrder returns all order IDs in submission order, regenerated
// from the ordinal sequence. Deterministic iteration matters wherever
// reports are emitted.
func (s *Simulator) submissionOrder() []string {
	ids := make([]string, 0, len(s.orders))
	for i := uint64(1); i <= s.nextOrdinal; i++ {
		id := uuid.NewSHA1(orderNamespace, []byte(fmt.Sprintf("order-%d", i))).String()
		if _, ok := s.orders[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// shiftEvent returns a copy of the event with every price field moved by
// the impact shift. Only the matching path sees the shifted view; the
// strategy and the run artifact observe raw events.
func shiftEvent(ev domain.MarketEvent, shift decimal.Decimal) domain.MarketEvent {
	add := func(v decimal.Decimal) decimal.Decimal {
		if v.Sign() > 0 {
			return v.Add(shift)
		}
		return v
	}
	ev.Price = add(ev.Price)
	ev.Bid = add(ev.Bid)
	ev.Ask = add(ev.Ask)
	ev.Open = add(ev.Open)
	ev.High = add(ev.High)
	ev.Low = add(ev.Low)
	ev.Close = add(ev.Close)
	return ev
}
