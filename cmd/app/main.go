package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"quantsim/internal/app"
	"quantsim/internal/domain"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the run configuration")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Run in the configured mode
	res, err := bootstrap.Run(ctx)
	if err != nil && !errors.Is(err, domain.ErrRunStopped) {
		slog.Error("❌ Run failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("✨ Run complete",
		slog.String("run_id", res.RunID),
		slog.String("mode", res.Mode),
		slog.Int64("events", res.EventsProcessed),
		slog.Int64("orders", res.OrdersSubmitted),
		slog.Int64("fills", res.OrdersFilled),
		slog.Int64("rejects", res.OrdersRejected),
		slog.String("final_cash", res.FinalCash.String()),
		slog.String("final_equity", res.FinalEquity.String()),
		slog.String("return", res.Return().String()),
		slog.String("max_drawdown", res.MaxDrawdown.String()),
		slog.String("fees_paid", res.FeesPaid.String()),
	)
}
