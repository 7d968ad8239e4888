package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tickpulse/internal/app"
	"tickpulse/internal/infra/feed"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Start the pipeline (buffer flusher, candle sweep, detector schedule)
	bootstrap.Start(ctx)

	// 5. Feed Worker (delivers ticks and book events into the pipeline)
	cfg := bootstrap.Config
	if cfg.Feed.WSURL != "" {
		worker := feed.NewWorker(cfg, bootstrap.Sink())
		if err := worker.Connect(ctx); err != nil {
			slog.Error("Failed to connect feed", slog.Any("error", err))
		}
		defer worker.Disconnect()
		slog.InfoContext(ctx, "Feed worker started",
			slog.String("venue", cfg.Feed.Venue),
			slog.Int("symbols", len(cfg.Feed.Symbols)))
	} else {
		slog.Warn("No feed configured; pipeline idle until a feed delivers data")
	}

	slog.InfoContext(ctx, "tickpulse fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "Shutting down gracefully...")
	bootstrap.Shutdown()
}
