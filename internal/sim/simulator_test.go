package sim

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"quantsim/internal/clock"
	"quantsim/internal/domain"
)

// stubView is a fixed portfolio state for buying-power checks.
type stubView struct {
	cash      decimal.Decimal
	positions map[string]domain.Position
}

func (v *stubView) Cash() decimal.Decimal { return v.cash }

func (v *stubView) Position(symbol string) domain.Position { return v.positions[symbol] }

type harness struct {
	sim     *Simulator
	clk     *clock.Clock
	sched   *clock.Scheduler
	reports []domain.ExecReport
}

func newHarness(t *testing.T, cfg Config, view *stubView) *harness {
	t.Helper()
	if view == nil {
		view = &stubView{cash: decimal.NewFromInt(1_000_000)}
	}
	h := &harness{clk: &clock.Clock{}, sched: clock.NewScheduler()}
	h.sim = New(cfg, h.clk, h.sched, view)
	h.sim.SetReportSink(func(r domain.ExecReport) { h.reports = append(h.reports, r) })
	return h
}

func (h *harness) step(ev domain.MarketEvent) {
	h.clk.Advance(ev.TsUnixM)
	h.sched.FireDue(h.clk.NowUnixM())
	h.sim.OnMarketEvent(ev)
}

func (h *harness) fills() []domain.Fill {
	var out []domain.Fill
	for _, r := range h.reports {
		if r.Fill != nil {
			out = append(out, *r.Fill)
		}
	}
	return out
}

func trade(ts int64, price string) domain.MarketEvent {
	return domain.TradeEvent(ts, "BTCUSDT", decimal.RequireFromString(price), decimal.NewFromInt(100))
}

func marketBuy(qty string) domain.OrderIntent {
	return domain.OrderIntent{
		ClientID: "c1",
		Symbol:   "BTCUSDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderMarket,
		Quantity: decimal.RequireFromString(qty),
	}
}

func TestSubmit_MarketFillsAtNextEvent(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	// Seed a mark so the market order passes validation, then submit
	// while observing t1. Prices: t1=100, t2=101, t3=99.
	h.step(trade(1, "100"))
	if _, err := h.sim.Submit(marketBuy("1")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(h.fills()) != 0 {
		t.Fatal("Order must not fill on the submission-time event")
	}

	h.step(trade(2, "101"))
	fills := h.fills()
	if len(fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Price.Equal(decimal.RequireFromString("101")) {
		t.Errorf("Fill must use the next event's price 101, got %s", fills[0].Price)
	}
	if fills[0].TsUnixM != 2 {
		t.Errorf("Fill timestamp should be 2, got %d", fills[0].TsUnixM)
	}

	h.step(trade(3, "99"))
	if len(h.fills()) != 1 {
		t.Error("Filled order must not fill again")
	}
}

func TestSubmit_MarketWithSlippageAndFee(t *testing.T) {
	h := newHarness(t, Config{
		Slippage: LinearSlippage{K: decimal.RequireFromString("0.1")},
		Fees:     ProportionalFee{Rate: decimal.RequireFromString("0.001")},
	}, nil)

	h.step(trade(1, "100"))
	if _, err := h.sim.Submit(marketBuy("10")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	h.step(trade(2, "100"))

	fills := h.fills()
	if len(fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(fills))
	}
	// Slip = 100 * 0.1 * (10/100) = 1, buy pays 101.
	if !fills[0].Price.Equal(decimal.RequireFromString("101")) {
		t.Errorf("Expected slipped price 101, got %s", fills[0].Price)
	}
	// Fee = 101 * 10 * 0.001 = 1.01.
	if !fills[0].Fee.Equal(decimal.RequireFromString("1.01")) {
		t.Errorf("Expected fee 1.01, got %s", fills[0].Fee)
	}
}

func TestSubmit_LimitSellFillsOnTradeThrough(t *testing.T) {
	h := newHarness(t, Config{AllowShort: true}, nil)

	h.step(trade(1, "100"))
	_, err := h.sim.Submit(domain.OrderIntent{
		ClientID:   "c1",
		Symbol:     "BTCUSDT",
		Side:       domain.SideSell,
		Type:       domain.OrderLimit,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimal.RequireFromString("102"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	h.step(trade(2, "101"))
	if len(h.fills()) != 0 {
		t.Fatal("101 must not touch a 102 sell limit")
	}

	h.step(trade(3, "103"))
	fills := h.fills()
	if len(fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Price.Equal(decimal.RequireFromString("103")) {
		t.Errorf("Trade through the limit fills at the event price 103, got %s", fills[0].Price)
	}
}

func TestSubmit_LimitBuyGapOpenFillsAtOpen(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.step(domain.BarEvent(1, "BTCUSDT",
		decimal.RequireFromString("100"), decimal.RequireFromString("101"),
		decimal.RequireFromString("99"), decimal.RequireFromString("100"),
		decimal.NewFromInt(1000)))

	_, err := h.sim.Submit(domain.OrderIntent{
		ClientID:   "c1",
		Symbol:     "BTCUSDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderLimit,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimal.RequireFromString("98"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Bar gaps down through the limit: open 95 < 98, fill at the open.
	h.step(domain.BarEvent(2, "BTCUSDT",
		decimal.RequireFromString("95"), decimal.RequireFromString("97"),
		decimal.RequireFromString("94"), decimal.RequireFromString("96"),
		decimal.NewFromInt(1000)))

	fills := h.fills()
	if len(fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Price.Equal(decimal.RequireFromString("95")) {
		t.Errorf("Gap open through the limit fills at the open 95, got %s", fills[0].Price)
	}
}

func TestSubmit_PartialFillRespectsLiquidityCap(t *testing.T) {
	h := newHarness(t, Config{
		MaxFillFraction: decimal.RequireFromString("0.25"),
		MarketRemainder: RemainderRest,
	}, nil)

	h.step(trade(1, "100"))
	if _, err := h.sim.Submit(marketBuy("50")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Event liquidity 100, cap 0.25 -> at most 25 units fill.
	h.step(trade(2, "100"))
	fills := h.fills()
	if len(fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Quantity.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected fill of 25 (min(50, 0.25*100)), got %s", fills[0].Quantity)
	}

	// Remainder rests and fills on the following event.
	h.step(trade(3, "100"))
	fills = h.fills()
	if len(fills) != 2 {
		t.Fatalf("Expected resting remainder to fill, got %d fills", len(fills))
	}
	if !fills[1].Quantity.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected second fill of 25, got %s", fills[1].Quantity)
	}
}

func TestSubmit_PartialRemainderRejectPolicy(t *testing.T) {
	h := newHarness(t, Config{
		MaxFillFraction: decimal.RequireFromString("0.25"),
		MarketRemainder: RemainderReject,
	}, nil)

	h.step(trade(1, "100"))
	if _, err := h.sim.Submit(marketBuy("50")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	h.step(trade(2, "100"))

	fills := h.fills()
	if len(fills) != 1 || !fills[0].Quantity.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("Expected single partial fill of 25, got %+v", fills)
	}

	last := h.reports[len(h.reports)-1]
	if last.Order.Status != domain.StatusCanceled {
		t.Errorf("Remainder must cancel under reject policy, got %s", last.Order.Status)
	}
	if !last.Order.Remaining.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Canceled remainder should be 25, got %s", last.Order.Remaining)
	}
	if last.Reject != domain.RejectLiquidity {
		t.Errorf("Liquidity cancel should carry INSUFFICIENT_LIQUIDITY, got %s", last.Reject)
	}

	h.step(trade(3, "100"))
	if len(h.fills()) != 1 {
		t.Error("Canceled remainder must not fill later")
	}
}

func TestSubmit_LimitRemainderKeepsRestingUnderRejectPolicy(t *testing.T) {
	h := newHarness(t, Config{
		MaxFillFraction: decimal.RequireFromString("0.25"),
		MarketRemainder: RemainderReject,
	}, nil)

	h.step(trade(1, "100"))
	_, err := h.sim.Submit(domain.OrderIntent{
		ClientID:   "c1",
		Symbol:     "BTCUSDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderLimit,
		Quantity:   decimal.NewFromInt(50),
		LimitPrice: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Liquidity 100, cap 0.25 -> 25 fill; the reject policy governs only
	// marketable orders, so the limit remainder stays on the book.
	h.step(trade(2, "100"))
	fills := h.fills()
	if len(fills) != 1 || !fills[0].Quantity.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("Expected single partial fill of 25, got %+v", fills)
	}
	last := h.reports[len(h.reports)-1]
	if last.Order.Status != domain.StatusPartiallyFilled {
		t.Fatalf("Truncated limit must keep working, got %s", last.Order.Status)
	}
	if open := h.sim.OpenOrders(); len(open) != 1 || !open[0].Remaining.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("Expected 25 remaining on the book, got %+v", open)
	}

	h.step(trade(3, "99"))
	fills = h.fills()
	if len(fills) != 2 {
		t.Fatalf("Resting remainder should fill on the next touch, got %d fills", len(fills))
	}
	if !fills[1].Quantity.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected second fill of 25, got %s", fills[1].Quantity)
	}
	last = h.reports[len(h.reports)-1]
	if last.Order.Status != domain.StatusFilled {
		t.Errorf("Expected FILLED after the remainder executes, got %s", last.Order.Status)
	}
}

func TestSubmit_InsufficientFundsRejects(t *testing.T) {
	view := &stubView{cash: decimal.NewFromInt(50)}
	h := newHarness(t, Config{}, view)

	h.step(trade(1, "100"))
	order, err := h.sim.Submit(marketBuy("1")) // needs ~100, has 50

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if verr.Reason != domain.RejectInsufficientFunds {
		t.Errorf("Expected INSUFFICIENT_FUNDS, got %v", verr.Reason)
	}
	if order.Status != domain.StatusRejected {
		t.Errorf("Expected REJECTED order, got %s", order.Status)
	}

	last := h.reports[len(h.reports)-1]
	if last.Fill != nil || !last.Rejected() {
		t.Error("Rejection must be reported as a zero-fill report")
	}

	h.step(trade(2, "100"))
	if len(h.fills()) != 0 {
		t.Error("Rejected order must never fill")
	}
}

func TestSubmit_SellWithoutPositionRejects(t *testing.T) {
	view := &stubView{cash: decimal.NewFromInt(1000)}
	h := newHarness(t, Config{}, view)

	h.step(trade(1, "100"))
	_, err := h.sim.Submit(domain.OrderIntent{
		ClientID: "c1",
		Symbol:   "BTCUSDT",
		Side:     domain.SideSell,
		Type:     domain.OrderMarket,
		Quantity: decimal.NewFromInt(1),
	})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Reason != domain.RejectInsufficientFunds {
		t.Fatalf("Expected INSUFFICIENT_FUNDS rejection, got %v", err)
	}
}

func TestSubmit_UnknownInstrumentRejects(t *testing.T) {
	h := newHarness(t, Config{Instruments: map[string]bool{"ETHUSDT": true}}, nil)

	h.step(trade(1, "100"))
	_, err := h.sim.Submit(marketBuy("1"))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Reason != domain.RejectInvalidInstrument {
		t.Fatalf("Expected INVALID_INSTRUMENT rejection, got %v", err)
	}
}

func TestSubmit_GTDExpiresViaScheduler(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.step(trade(1, "100"))
	order, err := h.sim.Submit(domain.OrderIntent{
		ClientID:    "c1",
		Symbol:      "BTCUSDT",
		Side:        domain.SideBuy,
		Type:        domain.OrderLimit,
		Quantity:    decimal.NewFromInt(1),
		LimitPrice:  decimal.RequireFromString("90"),
		TIF:         domain.TIFGTD,
		ExpireUnixM: 5,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	h.step(trade(3, "100"))
	if got := h.sim.OpenOrders(); len(got) != 1 {
		t.Fatalf("Order should still be open before expiry, got %d open", len(got))
	}

	// Clock crosses the expiry; the timer cancels before matching.
	h.step(trade(6, "89"))
	if len(h.fills()) != 0 {
		t.Error("Expired order must not fill even when touched")
	}

	last := h.reports[len(h.reports)-1]
	if last.Order.ID != order.ID || last.Order.Status != domain.StatusCanceled {
		t.Errorf("Expected expiry cancel for %s, got %+v", order.ID, last.Order)
	}
}

func TestSubmit_IOCCancelsRemainder(t *testing.T) {
	h := newHarness(t, Config{
		MaxFillFraction: decimal.RequireFromString("0.25"),
		MarketRemainder: RemainderRest, // IOC overrides the rest policy
	}, nil)

	h.step(trade(1, "100"))
	intent := marketBuy("50")
	intent.TIF = domain.TIFIOC
	if _, err := h.sim.Submit(intent); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	h.step(trade(2, "100"))

	last := h.reports[len(h.reports)-1]
	if last.Order.Status != domain.StatusCanceled {
		t.Errorf("IOC remainder must cancel, got %s", last.Order.Status)
	}

	h.step(trade(3, "100"))
	if len(h.fills()) != 1 {
		t.Error("IOC must not fill after its first matching event")
	}
}

func TestStopBuy_TriggersOnBreakout(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.step(trade(1, "100"))
	_, err := h.sim.Submit(domain.OrderIntent{
		ClientID:  "c1",
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		Type:      domain.OrderStop,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.RequireFromString("105"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	h.step(trade(2, "104"))
	if len(h.fills()) != 0 {
		t.Fatal("Stop must not trigger below the threshold")
	}

	h.step(trade(3, "106"))
	fills := h.fills()
	if len(fills) != 1 {
		t.Fatalf("Expected stop to trigger, got %d fills", len(fills))
	}
	if !fills[0].Price.Equal(decimal.RequireFromString("106")) {
		t.Errorf("Stop fills at the triggering trade price 106, got %s", fills[0].Price)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.step(trade(1, "100"))
	order, err := h.sim.Submit(domain.OrderIntent{
		ClientID:   "c1",
		Symbol:     "BTCUSDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderLimit,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimal.RequireFromString("95"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := h.sim.Cancel(order.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := h.sim.Cancel(order.ID); !errors.Is(err, domain.ErrUnknownOrder) {
		t.Errorf("Second cancel should report unknown order, got %v", err)
	}

	h.step(trade(2, "94"))
	if len(h.fills()) != 0 {
		t.Error("Canceled order must not fill")
	}
}

func TestCancelAll(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.step(trade(1, "100"))
	for i := 0; i < 3; i++ {
		if _, err := h.sim.Submit(marketBuy("1")); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	h.sim.CancelAll()
	if got := h.sim.OpenOrders(); len(got) != 0 {
		t.Fatalf("Expected no open orders after CancelAll, got %d", len(got))
	}

	canceled := 0
	for _, r := range h.reports {
		if r.Order.Status == domain.StatusCanceled {
			canceled++
		}
	}
	if canceled != 3 {
		t.Errorf("Expected 3 cancel reports, got %d", canceled)
	}
}

func TestReservations_BlockDoubleSpend(t *testing.T) {
	view := &stubView{cash: decimal.NewFromInt(150)}
	h := newHarness(t, Config{}, view)

	h.step(trade(1, "100"))
	if _, err := h.sim.Submit(marketBuy("1")); err != nil {
		t.Fatalf("First submit failed: %v", err)
	}

	// Second order needs 100 but only 50 is unreserved.
	_, err := h.sim.Submit(marketBuy("1"))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Reason != domain.RejectInsufficientFunds {
		t.Fatalf("Expected reservation to block double spend, got %v", err)
	}
}

func TestImpact_ShiftsSubsequentFills(t *testing.T) {
	h := newHarness(t, Config{
		Impact: NewImpactTracker(decimal.RequireFromString("0.01"), 10_000_000),
	}, nil)

	h.step(trade(1, "100"))
	if _, err := h.sim.Submit(marketBuy("10")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	h.step(trade(2, "100")) // fills at 100, footprint 100*0.01*(10/100)=0.1

	if _, err := h.sim.Submit(marketBuy("10")); err != nil {
		t.Fatalf("Second submit failed: %v", err)
	}
	h.step(trade(3, "100"))

	fills := h.fills()
	if len(fills) != 2 {
		t.Fatalf("Expected 2 fills, got %d", len(fills))
	}
	if !fills[1].Price.GreaterThan(fills[0].Price) {
		t.Errorf("Second buy must pay the impact-shifted price: %s vs %s", fills[1].Price, fills[0].Price)
	}
}

func TestOrderIDs_DeterministicAcrossRuns(t *testing.T) {
	run := func() []string {
		h := newHarness(t, Config{}, nil)
		h.step(trade(1, "100"))
		var ids []string
		for i := 0; i < 3; i++ {
			o, err := h.sim.Submit(marketBuy("1"))
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			ids = append(ids, o.ID)
		}
		return ids
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Order ID %d differs across identical runs: %s vs %s", i, a[i], b[i])
		}
	}
}
