// Package app wires configuration, logging, persistence and the engine
// into a runnable system.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"quantsim/internal/artifact"
	"quantsim/internal/clock"
	"quantsim/internal/domain"
	"quantsim/internal/engine"
	"quantsim/internal/feed"
	chfeed "quantsim/internal/feed/clickhouse"
	"quantsim/internal/feed/ws"
	"quantsim/internal/infra"
	"quantsim/internal/sim"
	"quantsim/internal/strategy"
)

const (
	inboxSize    = 1024
	liveTickRate = time.Second
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config  *infra.Config
	Store   *artifact.Store
	Metrics *infra.Metrics
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Metrics: &infra.Metrics{}}
}

// Initialize loads configuration, installs the logger and opens the run
// artifact store.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping quantsim...")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	store, err := artifact.Open(cfg.Artifact.Path)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Artifact store initialized", slog.String("path", cfg.Artifact.Path))

	return nil
}

// Close releases held resources.
func (b *Bootstrap) Close() {
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Warn("Artifact close failed", slog.Any("error", err))
		}
	}
}

// Run executes one run in the configured mode and returns its result.
func (b *Bootstrap) Run(ctx context.Context) (*engine.Result, error) {
	cfg := b.Config

	clk := &clock.Clock{}
	sched := clock.NewScheduler()
	pf := domain.NewPortfolio(cfg.Run.InitialCash)

	simCfg, err := buildSimConfig(cfg)
	if err != nil {
		return nil, err
	}
	simulator := sim.New(simCfg, clk, sched, pf)

	strat, err := buildStrategy(cfg)
	if err != nil {
		return nil, err
	}

	rawCfg, _ := yaml.Marshal(cfg)
	runID, err := b.Store.BeginRun(cfg.Run.Mode, string(rawCfg), cfg.Run.InitialCash, time.Now().UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	slog.Info("✅ Run started", slog.String("run_id", runID), slog.String("mode", cfg.Run.Mode))

	runner := engine.NewRunner(cfg.Run.Mode, runID, strat, simulator, pf, clk, sched, b.Store, b.Metrics)

	if cfg.Run.Mode == "backtest" {
		src, err := b.buildHistoricalFeed(ctx)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return runner.RunBacktest(ctx, src)
	}

	// Paper and live share the streaming path: a websocket gateway pushes
	// into the inbox, the reorder buffer enforces bounded lateness, and
	// the simulator matches. A real venue broker replaces the simulator at
	// the broker seam, not here.
	inbox := make(chan domain.MarketEvent, inboxSize)
	worker := ws.NewWorker(cfg.Feed.Websocket.URL, cfg.Run.Symbols, inbox, b.Metrics)
	if err := worker.Connect(ctx); err != nil {
		return nil, err
	}
	defer worker.Disconnect()
	slog.Info("✅ Feed worker started", slog.Int("symbols", len(cfg.Run.Symbols)))

	reorder := feed.NewReorder(time.Duration(cfg.Run.LateEventWindowMS) * time.Millisecond)
	return runner.RunLive(ctx, inbox, reorder, liveTickRate)
}

func (b *Bootstrap) buildHistoricalFeed(ctx context.Context) (feed.Feed, error) {
	cfg := b.Config
	switch cfg.Feed.Source {
	case "csv":
		return feed.OpenCSV(cfg.Feed.CSVPath)
	case "clickhouse":
		ch := cfg.Feed.ClickHouse
		return chfeed.Open(ctx, chfeed.Config{
			Addr:     ch.Addr,
			Database: ch.Database,
			Username: ch.Username,
			Password: ch.Password,
			Table:    ch.Table,
		}, symbolFor(cfg), ch.StartMs, ch.EndMs)
	case "memory":
		return feed.NewMemoryFeed(nil), nil
	default:
		return nil, fmt.Errorf("feed source %q is not usable in backtest mode", cfg.Feed.Source)
	}
}

func buildSimConfig(cfg *infra.Config) (sim.Config, error) {
	exec := cfg.Execution

	var slip sim.SlippageModel
	switch exec.SlippageModel {
	case "", "none":
		slip = sim.NoSlippage{}
	case "linear":
		slip = sim.LinearSlippage{K: exec.SlippageCoeff}
	case "sqrt":
		slip = sim.SqrtSlippage{K: exec.SlippageCoeff}
	}

	var fees sim.FeeModel
	switch exec.FeeModel {
	case "", "flat":
		fees = sim.FlatFee{Amount: exec.FeeFlat}
	case "proportional":
		fees = sim.ProportionalFee{Fixed: exec.FeeFlat, Rate: exec.FeeRate}
	}

	var impact *sim.ImpactTracker
	if exec.Impact.Enabled {
		impact = sim.NewImpactTracker(exec.Impact.Coeff, int64(exec.Impact.DecayWindowMS)*1000)
	}

	remainder, ok := sim.ParseRemainderPolicy(exec.MarketRemainder)
	if !ok {
		return sim.Config{}, fmt.Errorf("invalid market_remainder: %q", exec.MarketRemainder)
	}
	tif, ok := domain.ParseTimeInForce(cfg.Run.TimeInForceDefault)
	if !ok {
		return sim.Config{}, fmt.Errorf("invalid time_in_force_default: %q", cfg.Run.TimeInForceDefault)
	}

	instruments := make(map[string]bool, len(cfg.Run.Symbols))
	for _, s := range cfg.Run.Symbols {
		instruments[s] = true
	}

	return sim.Config{
		Slippage:        slip,
		Fees:            fees,
		Impact:          impact,
		MaxFillFraction: exec.MaxFillFraction,
		MarketRemainder: remainder,
		DefaultTIF:      tif,
		AllowShort:      exec.AllowShort,
		Instruments:     instruments,
	}, nil
}

func buildStrategy(cfg *infra.Config) (strategy.Strategy, error) {
	switch cfg.Strategy.Name {
	case "sma_cross":
		return strategy.NewSMACrossStrategy(
			cfg.Strategy.Symbol,
			cfg.Strategy.ShortPeriod,
			cfg.Strategy.LongPeriod,
			cfg.Strategy.OrderQty,
		), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %q", cfg.Strategy.Name)
	}
}

func symbolFor(cfg *infra.Config) string {
	if cfg.Strategy.Symbol != "" {
		return cfg.Strategy.Symbol
	}
	return cfg.Run.Symbols[0]
}
