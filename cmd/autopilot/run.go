package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/autopilot/config"
	"github.com/alejandrodnm/autopilot/internal/adapters/feed"
	"github.com/alejandrodnm/autopilot/internal/adapters/httpapi"
	"github.com/alejandrodnm/autopilot/internal/adapters/metrics"
	"github.com/alejandrodnm/autopilot/internal/adapters/notify"
	"github.com/alejandrodnm/autopilot/internal/adapters/storage"
	"github.com/alejandrodnm/autopilot/internal/application/engine"
	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/alejandrodnm/autopilot/internal/ports"
)

func run(ctx context.Context, cfg *config.Config, store *storage.SQLiteLedger, console *notify.Console, statusEvery time.Duration) error {
	engCfg, err := cfg.ToEngineConfig()
	if err != nil {
		return err
	}

	// La sesión continúa desde el último equity registrado salvo override explícito.
	if snap, ok, err := store.LatestBalance(ctx); err != nil {
		slog.Warn("could not load last balance", "err", err)
	} else if ok && snap.Equity > 0 && !cfg.Engine.BalanceFromEnv {
		engCfg.InitialBalance = snap.Equity
		slog.Info("resuming from last balance", "equity", fmt.Sprintf("$%.2f", snap.Equity), "at", snap.At.Format(time.RFC3339))
	}

	var eng *engine.Engine
	prom := metrics.NewPrometheus(func() domain.Status { return eng.Status() })
	eng = engine.New(engCfg, store, console, prom)

	history, err := store.LoadHistory(ctx, cfg.Engine.HistorySeed)
	if err != nil {
		slog.Warn("could not seed history", "err", err)
	} else {
		eng.SeedHistory(history)
		slog.Info("history seeded", "trades", len(history), "loss_streak", eng.Status().LossStreak)
	}
	if cfg.Engine.StartDisabled {
		eng.Disable("start_disabled")
	}

	ticks, err := subscribeFeed(ctx, cfg)
	if err != nil {
		return fmt.Errorf("subscribe feed: %w", err)
	}
	if ticks != nil {
		ticks = prom.Tap(ctx, ticks)
	}

	intake := httpapi.NewIntake(cfg.HTTP.SignalBuffer)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(eng, intake, prom.Handler()).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	if statusEvery > 0 {
		go printStatusLoop(ctx, eng, console, statusEvery)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	engDone := make(chan error, 1)
	go func() { engDone <- eng.Run(runCtx, intake, ticks) }()

	select {
	case err = <-srvErr:
		stop()
		<-engDone
		err = fmt.Errorf("http server: %w", err)
	case err = <-engDone:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("http shutdown", "err", serr)
	}

	console.PrintStatus(eng.Status(), eng.Positions())
	console.PrintReport(domain.Summarize(eng.History()), lastN(eng.History(), 10))
	return err
}

func subscribeFeed(ctx context.Context, cfg *config.Config) (<-chan domain.PriceTick, error) {
	var pf ports.PriceFeed
	switch cfg.Feed.Source {
	case "stream":
		pf = feed.NewStream(cfg.Feed.StreamBase, cfg.Feed.Buffer)
	case "poll":
		pf = feed.NewPoller(cfg.Feed.RESTBase, cfg.PollInterval())
	default:
		slog.Warn("no price feed configured, positions will not be monitored")
		return nil, nil
	}
	return pf.Subscribe(ctx, cfg.Feed.Symbols)
}

func printStatusLoop(ctx context.Context, eng *engine.Engine, console *notify.Console, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			console.PrintStatus(eng.Status(), eng.Positions())
		}
	}
}

func lastN(h []domain.HistoryEntry, n int) []domain.HistoryEntry {
	if len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}
