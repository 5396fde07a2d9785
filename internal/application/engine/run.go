package engine

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/alejandrodnm/autopilot/internal/ports"
)

// Run consumes signals and price ticks until ctx is cancelled.
//
// Signals are handled inline. Ticks are routed to one lane per symbol: a
// goroutine with a buffered channel, so evaluation for a symbol is serialized
// and sees ticks in arrival order while different symbols proceed in parallel.
// A nil source, a nil channel or a closed channel is simply ignored.
func (e *Engine) Run(ctx context.Context, source ports.SignalSource, ticks <-chan domain.PriceTick) error {
	var signals <-chan domain.Signal
	if source != nil {
		signals = source.Signals()
	}

	slog.Info("engine starting",
		"balance", e.Status().Balance,
		"max_concurrent", e.cfg.MaxConcurrent,
		"min_confidence", e.cfg.MinConfidence,
		"max_daily_loss_pct", e.cfg.MaxDailyLossPct,
	)
	laneCtx := context.WithoutCancel(ctx)
	defer e.stopLanes()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopping", "open_positions", e.Status().OpenPositions)
			return nil
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			e.HandleSignal(ctx, sig)
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			e.route(laneCtx, t)
		}
	}
}

// route hands a tick to its symbol lane. A full lane drops the tick: the next
// one carries a newer price and the position keeps its last known state.
func (e *Engine) route(ctx context.Context, t domain.PriceTick) {
	lane := e.lane(ctx, t.Symbol)
	select {
	case lane <- t:
	default:
		slog.Warn("engine: tick lane full, dropping tick", "symbol", t.Symbol, "price", t.Price)
	}
}

func (e *Engine) lane(ctx context.Context, symbol string) chan domain.PriceTick {
	e.lanesMu.Lock()
	defer e.lanesMu.Unlock()
	if ch, ok := e.lanes[symbol]; ok {
		return ch
	}
	ch := make(chan domain.PriceTick, e.cfg.TickBuffer)
	e.lanes[symbol] = ch
	e.lanesWg.Add(1)
	go func() {
		defer e.lanesWg.Done()
		for t := range ch {
			e.OnTick(ctx, t)
		}
	}()
	slog.Debug("engine: lane started", "symbol", symbol)
	return ch
}

func (e *Engine) stopLanes() {
	e.lanesMu.Lock()
	for sym, ch := range e.lanes {
		close(ch)
		delete(e.lanes, sym)
	}
	e.lanesMu.Unlock()
	e.lanesWg.Wait()
}
