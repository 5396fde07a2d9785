package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/autopilot/config"
	"github.com/alejandrodnm/autopilot/internal/adapters/notify"
	"github.com/alejandrodnm/autopilot/internal/adapters/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	quiet := flag.Bool("quiet", false, "do not print rejected signals")
	report := flag.Bool("report", false, "print the trade report from the ledger and exit")
	resetLedger := flag.Bool("reset", false, "wipe the ledger and start a fresh session")
	statusEvery := flag.Duration("status-every", 0, "print engine status at this interval (0 = off)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteLedger(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*quiet)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, store, console)
		return
	}

	if *resetLedger {
		if err := store.Reset(ctx); err != nil {
			slog.Error("failed to reset ledger", "err", err)
			os.Exit(1)
		}
		slog.Info("ledger wiped")
	}

	slog.Info("autopilot starting",
		"config", *configPath,
		"feed", cfg.Feed.Source,
		"symbols", cfg.Feed.Symbols,
		"http", cfg.HTTP.Addr,
		"db", cfg.Storage.DSN,
	)

	if err := run(ctx, cfg, store, console, *statusEvery); err != nil {
		slog.Error("autopilot exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("autopilot stopped cleanly")
}

func runReport(ctx context.Context, store *storage.SQLiteLedger, console *notify.Console) {
	stats, err := store.Stats(ctx)
	if err != nil {
		slog.Error("failed to get trade stats", "err", err)
		os.Exit(1)
	}
	recent, err := store.LoadHistory(ctx, 20)
	if err != nil {
		slog.Error("failed to load history", "err", err)
		os.Exit(1)
	}
	console.PrintReport(stats, recent)

	if snap, ok, err := store.LatestBalance(ctx); err != nil {
		slog.Warn("could not load balance", "err", err)
	} else if ok {
		slog.Info("last balance",
			"balance", snap.Balance,
			"equity", snap.Equity,
			"initial", snap.InitialBalance,
			"at", snap.At.Format(time.RFC3339),
		)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
