package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"prompt-morph/internal/app"
	"prompt-morph/internal/config"
	"prompt-morph/internal/limiter"
	"prompt-morph/internal/output"
	"prompt-morph/internal/runs"
	"prompt-morph/internal/settings"
	"prompt-morph/internal/telegram"
)

func main() {
	configPath := flag.String("config", "", "config file (default: search ., ./configs, /etc/prompt-morph)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateTelegram(); err != nil {
		slog.Error("invalid telegram config", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	// Create root context with cancellation
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// WaitGroup for tracking active goroutines
	var wg sync.WaitGroup

	processor := app.NewProcessor(cfg)

	backend, err := app.NewBackend(cfg, processor, logger)
	if err != nil {
		logger.Error("failed to create backend", "error", err)
		os.Exit(1)
	}
	if err := app.CheckBackend(rootCtx, backend); err != nil {
		logger.Warn("backend not reachable yet", "backend", cfg.Backend, "error", err)
	}

	runStore, err := runs.NewSQLiteStore(cfg.Store.RunsPath)
	if err != nil {
		logger.Error("failed to open run ledger", "error", err)
		os.Exit(1)
	}
	defer runStore.Close()

	settingsStore, err := settings.NewSQLiteStore(cfg.Store.SettingsPath, settings.DefaultSettings{
		Mode:  cfg.Morph.Mode,
		Steps: cfg.Morph.Steps,
		Video: cfg.Video.Enabled,
	})
	if err != nil {
		logger.Error("failed to open settings store", "error", err)
		os.Exit(1)
	}
	defer settingsStore.Close()

	bot, err := telegram.NewBot(cfg.Telegram, telegram.Deps{
		Runner:         app.NewRunner(cfg, backend, logger),
		Backend:        backend,
		Layout:         output.NewLayout(cfg.Output.Dir, runStore, processor, logger),
		Settings:       settingsStore,
		Runs:           runStore,
		Processor:      processor,
		Limiter:        limiter.NewUserLimiter(cfg.Telegram.MaxConcurrent),
		Defaults:       cfg.MorphOptions(),
		NegativePrompt: cfg.Generation.NegativePrompt,
	}, logger)
	if err != nil {
		logger.Error("failed to create telegram bot", "error", err)
		os.Exit(1)
	}

	// Start bot in goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bot.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Error("bot error", "error", err)
		}
	}()

	logger.Info("bot started",
		"allowed_users", cfg.Telegram.AllowedUsers,
		"backend", cfg.Backend,
		"output_dir", cfg.Output.Dir,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig)

	// Cancel root context to signal all goroutines
	rootCancel()

	// Wait for graceful shutdown with timeout
	shutdownTimeout := 30 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}
}
