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
	"time"

	scheduler "github.com/st-keller/chroma-scheduler"
	"github.com/st-keller/chroma-scheduler/hoststate"
	"github.com/st-keller/chroma-scheduler/update"
)

func main() {
	configPath := flag.String("config", "", "path to a .yaml or .toml config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("🚀 Starting chroma scheduler example")

	cfg, err := scheduler.LoadConfig(*configPath)
	if err != nil {
		logger.Error("❌ Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := update.NewLoop(cfg.TickInterval(), nil)
	flags := &hoststate.Flags{}

	var watcher *hoststate.CompileWatcher
	if len(cfg.Watch.Dirs) > 0 {
		watcher, err = hoststate.NewCompileWatcher(cfg.Watch.Dirs, cfg.Watch.Extensions, cfg.Watch.Settle, nil)
		if err != nil {
			logger.Error("❌ Failed to watch sources", "error", err)
			os.Exit(1)
		}
		defer watcher.Close()
	}

	// A source change counts as a recompile.
	signals := hoststate.Funcs{
		CompilingFn: func() bool {
			return flags.Compiling() || (watcher != nil && watcher.Compiling())
		},
		SimulatingFn: flags.Simulating,
	}

	session, err := scheduler.New(cfg, loop, signals, scheduler.WithLogSink(logger))
	if err != nil {
		logger.Error("❌ Failed to create session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Tick loop failed", "error", err)
		}
	}()
	if watcher != nil {
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Compile watcher failed", "error", err)
			}
		}()
	}

	h := newHost(session, flags, signals)
	loop.Subscribe(h.onFrame)

	server := &http.Server{
		Addr:              cfg.Status.Addr,
		Handler:           newRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed", "error", err)
			stop()
		}
	}()

	logger.Info("✅ Scheduler running", "addr", cfg.Status.Addr, "tick", cfg.TickInterval().String())
	logger.Info("   POST /entities to spawn an animation, Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Status server shutdown failed", "error", err)
	}
}
