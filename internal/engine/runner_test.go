package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"quantsim/internal/artifact"
	"quantsim/internal/clock"
	"quantsim/internal/domain"
	"quantsim/internal/feed"
	"quantsim/internal/infra"
	"quantsim/internal/sim"
	"quantsim/internal/strategy"
)

// scriptedStrategy submits a fixed intent when it sees a given timestamp.
type scriptedStrategy struct {
	script  map[int64][]domain.OrderIntent
	fills   []domain.Fill
	reports []domain.ExecReport
	stopped bool
	final   domain.PortfolioSnapshot
}

func (s *scriptedStrategy) OnStart(_ *strategy.Context) {}

func (s *scriptedStrategy) OnEvent(_ *strategy.Context, ev domain.MarketEvent) []domain.OrderIntent {
	return s.script[ev.TsUnixM]
}

func (s *scriptedStrategy) OnFill(_ *strategy.Context, r domain.ExecReport) {
	s.reports = append(s.reports, r)
	if r.Fill != nil {
		s.fills = append(s.fills, *r.Fill)
	}
}

func (s *scriptedStrategy) OnStop(final domain.PortfolioSnapshot) {
	s.stopped = true
	s.final = final
}

func trade(ts int64, price string) domain.MarketEvent {
	return domain.TradeEvent(ts, "BTCUSDT", decimal.RequireFromString(price), decimal.NewFromInt(100))
}

func buyIntent(id, qty string) domain.OrderIntent {
	return domain.OrderIntent{
		ClientID: id,
		Symbol:   "BTCUSDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderMarket,
		Quantity: decimal.RequireFromString(qty),
	}
}

func newTestRunner(strat strategy.Strategy, execCfg sim.Config) (*Runner, *domain.Portfolio) {
	clk := &clock.Clock{}
	sched := clock.NewScheduler()
	pf := domain.NewPortfolio(decimal.NewFromInt(100_000))
	simulator := sim.New(execCfg, clk, sched, pf)
	r := NewRunner("backtest", "test-run", strat, simulator, pf, clk, sched, nil, &infra.Metrics{})
	return r, pf
}

func TestRunBacktest_NoLookahead(t *testing.T) {
	strat := &scriptedStrategy{script: map[int64][]domain.OrderIntent{
		1: {buyIntent("c1", "1")},
	}}
	r, _ := newTestRunner(strat, sim.Config{})

	events := []domain.MarketEvent{trade(1, "100"), trade(2, "101"), trade(3, "99")}
	res, err := r.RunBacktest(context.Background(), feed.NewMemoryFeed(events))
	if err != nil {
		t.Fatalf("RunBacktest failed: %v", err)
	}

	if len(strat.fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(strat.fills))
	}
	// Submitted while observing t1: must fill at t2's price, never t1's.
	if !strat.fills[0].Price.Equal(decimal.RequireFromString("101")) {
		t.Errorf("Fill must use the next event's price 101, got %s", strat.fills[0].Price)
	}
	if res.EventsProcessed != 3 || res.OrdersFilled != 1 {
		t.Errorf("Unexpected counters: %+v", res)
	}
	if !strat.stopped {
		t.Error("OnStop must be called")
	}
}

func TestRunBacktest_Deterministic(t *testing.T) {
	events := []domain.MarketEvent{
		trade(1, "100"), trade(2, "102"), trade(3, "98"),
		trade(4, "105"), trade(5, "103"),
	}
	execCfg := sim.Config{
		Slippage: sim.LinearSlippage{K: decimal.RequireFromString("0.05")},
		Fees:     sim.ProportionalFee{Rate: decimal.RequireFromString("0.001")},
	}

	run := func() ([]domain.Fill, decimal.Decimal) {
		strat := &scriptedStrategy{script: map[int64][]domain.OrderIntent{
			1: {buyIntent("c1", "10")},
			3: {buyIntent("c2", "5")},
		}}
		r, pf := newTestRunner(strat, execCfg)
		if _, err := r.RunBacktest(context.Background(), feed.NewMemoryFeed(events)); err != nil {
			t.Fatalf("RunBacktest failed: %v", err)
		}
		return strat.fills, pf.Cash()
	}

	fillsA, cashA := run()
	fillsB, cashB := run()

	if !cashA.Equal(cashB) {
		t.Fatalf("Final cash differs across identical runs: %s vs %s", cashA, cashB)
	}
	if len(fillsA) != len(fillsB) {
		t.Fatalf("Fill counts differ: %d vs %d", len(fillsA), len(fillsB))
	}
	for i := range fillsA {
		a, b := fillsA[i], fillsB[i]
		if a.OrderID != b.OrderID || !a.Price.Equal(b.Price) || !a.Quantity.Equal(b.Quantity) || a.TsUnixM != b.TsUnixM {
			t.Errorf("Fill %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestRunBacktest_ConservationOfCash(t *testing.T) {
	strat := &scriptedStrategy{script: map[int64][]domain.OrderIntent{
		1: {buyIntent("c1", "10")},
		3: {{
			ClientID: "c2", Symbol: "BTCUSDT", Side: domain.SideSell,
			Type: domain.OrderMarket, Quantity: decimal.NewFromInt(10),
		}},
	}}
	r, pf := newTestRunner(strat, sim.Config{
		Fees: sim.FlatFee{Amount: decimal.NewFromInt(1)},
	})

	events := []domain.MarketEvent{trade(1, "100"), trade(2, "100"), trade(3, "110"), trade(4, "110")}
	if _, err := r.RunBacktest(context.Background(), feed.NewMemoryFeed(events)); err != nil {
		t.Fatalf("RunBacktest failed: %v", err)
	}

	// 100000 - 10*100 - 1 + 10*110 - 1 = 100098; flat position.
	if !pf.Cash().Equal(decimal.RequireFromString("100098")) {
		t.Errorf("Cash not conserved: %s", pf.Cash())
	}
	if !pf.Position("BTCUSDT").IsFlat() {
		t.Errorf("Position should be flat, got %s", pf.Position("BTCUSDT").Quantity)
	}
}

func TestRunBacktest_OrderingViolationHalts(t *testing.T) {
	strat := &scriptedStrategy{}
	r, _ := newTestRunner(strat, sim.Config{})

	// MemoryFeed sorts its input, so feed raw steps through the runner to
	// force a regression.
	if err := r.step(trade(5, "100")); err != nil {
		t.Fatalf("First step failed: %v", err)
	}
	err := r.step(trade(3, "100"))
	if err == nil {
		t.Fatal("Expected ordering violation")
	}
	var oerr *domain.DataOrderingError
	if !errors.As(err, &oerr) {
		t.Fatalf("Expected DataOrderingError, got %v", err)
	}
}

func TestRunBacktest_CancellationForceCancelsOpenOrders(t *testing.T) {
	strat := &scriptedStrategy{script: map[int64][]domain.OrderIntent{
		1: {buyIntent("c1", "1")},
	}}
	r, _ := newTestRunner(strat, sim.Config{})

	// The feed cancels the context while serving the first event, so the
	// order submitted on it never sees a second event.
	ctx, cancel := context.WithCancel(context.Background())
	events := feed.NewMemoryFeed([]domain.MarketEvent{trade(1, "100"), trade(2, "100")})
	cancelingFeed := &cancelOnFirst{inner: events, cancel: cancel}

	res, err := r.RunBacktest(ctx, cancelingFeed)
	if !errors.Is(err, domain.ErrRunStopped) {
		t.Fatalf("Expected ErrRunStopped, got %v", err)
	}

	if !strat.stopped {
		t.Error("OnStop must run on cancellation")
	}
	if len(res.Final.OpenOrders) != 0 {
		t.Errorf("Open orders must be force-canceled, got %d", len(res.Final.OpenOrders))
	}

	canceled := false
	for _, rep := range strat.reports {
		if rep.Order.Status == domain.StatusCanceled {
			canceled = true
		}
	}
	if !canceled {
		t.Error("Strategy must observe the force-cancel report")
	}
}

func TestRunBacktest_CancellationSealsArtifactAsStopped(t *testing.T) {
	store, err := artifact.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	runID, err := store.BeginRun("backtest", "", decimal.NewFromInt(100_000), 1)
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	clk := &clock.Clock{}
	sched := clock.NewScheduler()
	pf := domain.NewPortfolio(decimal.NewFromInt(100_000))
	simulator := sim.New(sim.Config{}, clk, sched, pf)
	r := NewRunner("backtest", runID, &scriptedStrategy{}, simulator, pf, clk, sched, store, &infra.Metrics{})

	ctx, cancel := context.WithCancel(context.Background())
	events := feed.NewMemoryFeed([]domain.MarketEvent{trade(1, "100"), trade(2, "100")})
	if _, err := r.RunBacktest(ctx, &cancelOnFirst{inner: events, cancel: cancel}); !errors.Is(err, domain.ErrRunStopped) {
		t.Fatalf("Expected ErrRunStopped, got %v", err)
	}

	run, err := store.Run(runID)
	if err != nil {
		t.Fatalf("Run lookup failed: %v", err)
	}
	// A canceled run is distinguishable from one that drained its feed.
	if run.Status != "stopped" {
		t.Errorf("Expected status stopped, got %q", run.Status)
	}
}

func TestRunBacktest_PanicBecomesError(t *testing.T) {
	strat := &panickingStrategy{}
	r, _ := newTestRunner(strat, sim.Config{})

	_, err := r.RunBacktest(context.Background(), feed.NewMemoryFeed([]domain.MarketEvent{trade(1, "100")}))
	if err == nil {
		t.Fatal("Expected the panic to surface as an error")
	}
}

type panickingStrategy struct{ scriptedStrategy }

func (p *panickingStrategy) OnEvent(_ *strategy.Context, _ domain.MarketEvent) []domain.OrderIntent {
	panic("STRATEGY_INVARIANT_BROKEN")
}

type cancelOnFirst struct {
	inner  feed.Feed
	cancel context.CancelFunc
	served bool
}

func (f *cancelOnFirst) Next(ctx context.Context) (domain.MarketEvent, error) {
	ev, err := f.inner.Next(ctx)
	if !f.served {
		f.served = true
		f.cancel()
	}
	return ev, err
}

func (f *cancelOnFirst) Close() error { return f.inner.Close() }
