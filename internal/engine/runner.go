// Package engine owns the processing loop. One goroutine, one step at a
// time: persist the event, advance the clock, fire due timers, match,
// hand the event to the strategy, submit its intents. Historical and live
// runs share the step verbatim; only the event source differs, which is
// what keeps backtest and production behavior in parity.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"quantsim/internal/artifact"
	"quantsim/internal/clock"
	"quantsim/internal/domain"
	"quantsim/internal/feed"
	"quantsim/internal/infra"
	"quantsim/internal/sim"
	"quantsim/internal/strategy"
)

// Runner drives a run. It is the single owner of the clock, the
// simulator, the portfolio and the strategy; nothing else touches them
// while a run is in flight.
type Runner struct {
	mode    string
	runID   string
	strat   strategy.Strategy
	sim     *sim.Simulator
	pf      *domain.Portfolio
	clk     *clock.Clock
	sched   *clock.Scheduler
	store   *artifact.Store // nil = no persistence
	metrics *infra.Metrics

	seq       uint64
	lastTs    int64
	events    int64
	submitted int64
	filled    int64
	rejected  int64

	peakEquity  decimal.Decimal
	maxDrawdown decimal.Decimal
}

// NewRunner wires the components together and installs the report sink:
// every execution report, simulated or broker-delivered, flows through
// exactly one application path into the portfolio and the strategy.
func NewRunner(mode, runID string, strat strategy.Strategy, simulator *sim.Simulator,
	pf *domain.Portfolio, clk *clock.Clock, sched *clock.Scheduler,
	store *artifact.Store, metrics *infra.Metrics) *Runner {

	r := &Runner{
		mode:    mode,
		runID:   runID,
		strat:   strat,
		sim:     simulator,
		pf:      pf,
		clk:     clk,
		sched:   sched,
		store:   store,
		metrics: metrics,
		lastTs:  -1 << 62,
	}
	simulator.SetReportSink(r.ApplyReport)
	return r
}

// ApplyReport is the single application path: persist, fold into the
// portfolio, notify the strategy. Broker-delivered reports in live mode
// enter here too, so the strategy cannot tell the two apart.
func (r *Runner) ApplyReport(rep domain.ExecReport) {
	if r.store != nil {
		if err := r.store.AppendReport(r.runID, rep); err != nil {
			slog.Error("Artifact append failed", slog.Any("error", err))
			r.metrics.RecordError()
		}
	}

	r.pf.ApplyStatus(rep.Order)
	if rep.Fill != nil {
		r.pf.ApplyFill(*rep.Fill)
		r.filled++
		r.metrics.RecordOrderFilled()
	}
	if rep.Rejected() {
		r.rejected++
		r.metrics.RecordOrderRejected()
	}

	r.strat.OnFill(r.ctx(), rep)
}

// RunBacktest replays a historical feed to exhaustion. Any ordering
// violation is fatal: historical data is expected to be sorted, and a
// halt is better than a silently wrong result.
func (r *Runner) RunBacktest(ctx context.Context, f feed.Feed) (res *Result, err error) {
	defer r.recoverDump(&err)

	r.strat.OnStart(r.ctx())

	for {
		if ctx.Err() != nil {
			return r.finish("stopped"), domain.ErrRunStopped
		}

		ev, nerr := f.Next(ctx)
		if errors.Is(nerr, feed.ErrEndOfStream) {
			break
		}
		if nerr != nil {
			r.finish("failed")
			return nil, fmt.Errorf("feed failed: %w", nerr)
		}

		if serr := r.step(ev); serr != nil {
			r.finish("failed")
			return nil, serr
		}
	}

	return r.finish("finished"), nil
}

// RunLive consumes the inbox until the context is canceled. Events pass
// through the reorder buffer; an event later than the lateness window is
// dropped and counted, never applied. Wall-clock ticks advance the
// watermark and the simulation clock so timers fire in quiet markets.
func (r *Runner) RunLive(ctx context.Context, inbox <-chan domain.MarketEvent, reorder *feed.Reorder, tick time.Duration) (res *Result, err error) {
	defer r.recoverDump(&err)

	r.strat.OnStart(r.ctx())

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, ev := range reorder.Flush() {
				r.stepLive(ev)
			}
			return r.finish("finished"), nil

		case now := <-ticker.C:
			nowUnixM := now.UnixMicro()
			for _, ev := range reorder.Tick(nowUnixM) {
				r.stepLive(ev)
			}
			// Quiet market: the clock still moves so GTD expiries fire.
			r.clk.Advance(nowUnixM)
			r.sched.FireDue(nowUnixM)

		case ev, ok := <-inbox:
			if !ok {
				for _, mev := range reorder.Flush() {
					r.stepLive(mev)
				}
				return r.finish("finished"), nil
			}
			matured, perr := reorder.Push(ev)
			if perr != nil {
				slog.Warn("Late event dropped", slog.Any("error", perr))
				r.metrics.RecordLateDropped()
				continue
			}
			for _, mev := range matured {
				r.stepLive(mev)
			}
		}
	}
}

// stepLive applies one matured event, dropping ordering violations
// instead of halting.
func (r *Runner) stepLive(ev domain.MarketEvent) {
	if err := r.step(ev); err != nil {
		var oerr *domain.DataOrderingError
		if errors.As(err, &oerr) {
			slog.Warn("Out-of-order event dropped", slog.Any("error", err))
			r.metrics.RecordLateDropped()
			return
		}
		slog.Error("Event processing failed", slog.Any("error", err))
		r.metrics.RecordError()
	}
}

// step is the processing loop body, identical across modes.
func (r *Runner) step(ev domain.MarketEvent) error {
	started := time.Now()

	if ev.TsUnixM < r.lastTs {
		return &domain.DataOrderingError{Seq: ev.Seq, TsUnixM: ev.TsUnixM, WatermarkUnixM: r.lastTs}
	}
	r.lastTs = ev.TsUnixM

	r.seq++
	ev.Seq = r.seq

	// Write-ahead: the event is in the artifact before any of its effects.
	if r.store != nil {
		if err := r.store.AppendEvent(r.runID, ev); err != nil {
			return &domain.CollaboratorFailure{Collaborator: "artifact", Err: err}
		}
	}

	r.clk.Advance(ev.TsUnixM)
	r.sched.FireDue(ev.TsUnixM)

	// Matching before the strategy: orders queued on earlier events fill
	// against this event, and intents emitted below cannot see it.
	r.sim.OnMarketEvent(ev)

	for _, intent := range r.strat.OnEvent(r.ctx(), ev) {
		r.submitted++
		if r.store != nil {
			if err := r.store.AppendIntent(r.runID, ev.TsUnixM, intent); err != nil {
				return &domain.CollaboratorFailure{Collaborator: "artifact", Err: err}
			}
		}
		if _, err := r.sim.Submit(intent); err != nil {
			// Already reported to the strategy as a rejection.
			slog.Debug("Intent rejected", slog.Any("error", err))
		}
	}

	r.trackEquity()
	r.events++
	r.metrics.RecordEvent(time.Since(started).Nanoseconds())
	return nil
}

func (r *Runner) trackEquity() {
	eq := r.pf.Equity(r.sim.Marks())
	if eq.GreaterThan(r.peakEquity) {
		r.peakEquity = eq
	}
	if r.peakEquity.Sign() > 0 {
		dd := r.peakEquity.Sub(eq).Div(r.peakEquity)
		if dd.GreaterThan(r.maxDrawdown) {
			r.maxDrawdown = dd
		}
	}
}

// finish force-cancels open orders, notifies the strategy and seals the
// artifact.
func (r *Runner) finish(status string) *Result {
	r.sim.CancelAll()

	final := r.pf.Snapshot()
	r.strat.OnStop(final)

	equity := r.pf.Equity(r.sim.Marks())
	if r.store != nil {
		err := r.store.FinishRun(r.runID, artifact.RunSummary{
			FinishedUnixM: r.clk.NowUnixM(),
			Status:        status,
			EventCount:    r.events,
			FillCount:     r.filled,
			FinalCash:     r.pf.Cash(),
			FinalEquity:   equity,
			MaxDrawdown:   r.maxDrawdown,
		})
		if err != nil {
			slog.Error("Artifact finish failed", slog.Any("error", err))
		}
	}

	return &Result{
		RunID:           r.runID,
		Mode:            r.mode,
		EventsProcessed: r.events,
		OrdersSubmitted: r.submitted,
		OrdersFilled:    r.filled,
		OrdersRejected:  r.rejected,
		LateDropped:     r.metrics.LateDropped(),
		InitialCash:     r.pf.InitialCash(),
		FinalCash:       r.pf.Cash(),
		FinalEquity:     equity,
		FeesPaid:        r.pf.FeesPaid(),
		MaxDrawdown:     r.maxDrawdown,
		Final:           final,
	}
}

func (r *Runner) ctx() *strategy.Context {
	return &strategy.Context{
		NowUnixM:  r.clk.NowUnixM(),
		Portfolio: r.pf.Snapshot(),
	}
}

// recoverDump turns an invariant panic into a failed run with a state
// dump, so the artifact and logs show what the engine believed when it
// died.
func (r *Runner) recoverDump(err *error) {
	p := recover()
	if p == nil {
		return
	}

	snap := r.pf.Snapshot()
	dump, _ := json.Marshal(map[string]any{
		"run_id":      r.runID,
		"clock_unixm": r.clk.NowUnixM(),
		"seq":         r.seq,
		"cash":        snap.Cash.String(),
		"fees_paid":   snap.FeesPaid.String(),
		"open_orders": len(snap.OpenOrders),
		"positions":   len(snap.Positions),
	})
	slog.Error("ENGINE PANIC", slog.Any("panic", p), slog.String("state", string(dump)))

	if r.store != nil {
		_ = r.store.FinishRun(r.runID, artifact.RunSummary{
			FinishedUnixM: r.clk.NowUnixM(),
			Status:        "failed",
			EventCount:    r.events,
			FillCount:     r.filled,
			FinalCash:     r.pf.Cash(),
			FinalEquity:   r.pf.Equity(r.sim.Marks()),
			MaxDrawdown:   r.maxDrawdown,
		})
	}

	*err = fmt.Errorf("engine panic: %v", p)
}
