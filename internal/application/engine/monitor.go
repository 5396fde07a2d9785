package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/autopilot/internal/domain"
)

// OnTick evaluates every open position of the tick's symbol against the exit
// rules. Positions that trigger are closed in the same critical section that
// marks them, so overlapping ticks can never close a position twice.
// Ticks stamped before the last applied tick of a position are dropped.
func (e *Engine) OnTick(ctx context.Context, tick domain.PriceTick) []domain.HistoryEntry {
	if tick.Price <= 0 {
		slog.Debug("engine: dropping non-positive tick", "symbol", tick.Symbol, "price", tick.Price)
		return nil
	}

	var ob outbox
	e.mu.Lock()
	now := e.now()
	at := tick.Timestamp
	for _, p := range e.state.positions {
		if p.Symbol != tick.Symbol || p.State != domain.StateOpen {
			continue
		}
		// ordering is feed clock against feed clock, never against e.now
		if !at.IsZero() && at.Before(p.LastTickAt) {
			slog.Debug("engine: dropping stale tick", "id", p.ID, "symbol", p.Symbol, "tick_at", at, "last_at", p.LastTickAt)
			continue
		}
		p.Mark(tick.Price, at)
		if d, ok := p.CheckExit(tick.Price, now, e.cfg.Exit); ok {
			if _, err := e.closeLocked(p, d.Price, d.Reason, &ob); err != nil {
				slog.Debug("engine: close skipped", "id", p.ID, "err", err)
			}
		}
	}
	if len(ob.closed) > 0 {
		e.checkBreakerLocked(&ob)
	}
	if ob.empty() {
		e.mu.Unlock()
		return nil
	}
	done := e.handoff()
	defer done()

	e.logClosed(ob.closed)
	e.flush(ctx, ob)
	return ob.closed
}

// ClosePosition closes an open position at its last known price.
func (e *Engine) ClosePosition(ctx context.Context, id string) (domain.HistoryEntry, error) {
	var ob outbox
	e.mu.Lock()
	p, ok := e.state.positions[id]
	if !ok {
		e.mu.Unlock()
		return domain.HistoryEntry{}, fmt.Errorf("engine.ClosePosition: %w: %s", domain.ErrPositionNotFound, id)
	}
	h, err := e.closeLocked(p, p.CurrentPrice, domain.ReasonManual, &ob)
	if err != nil {
		e.mu.Unlock()
		return domain.HistoryEntry{}, fmt.Errorf("engine.ClosePosition: %w", err)
	}
	e.checkBreakerLocked(&ob)
	done := e.handoff()
	defer done()

	e.logClosed(ob.closed)
	e.flush(ctx, ob)
	return h, nil
}

// closeLocked moves p through CLOSING to CLOSED, credits the balance and
// appends the history entry. Removal and crediting happen together.
func (e *Engine) closeLocked(p *domain.Position, price float64, reason domain.CloseReason, ob *outbox) (domain.HistoryEntry, error) {
	if p.State != domain.StateOpen {
		return domain.HistoryEntry{}, errNotOpen(p)
	}
	p.State = domain.StateClosing

	h := p.Close(price, reason, e.now())
	e.state.balance += p.Notional + h.PnL
	delete(e.state.positions, p.ID)
	e.state.history = append(e.state.history, h)
	p.State = domain.StateClosed

	ob.closed = append(ob.closed, h)
	snap := e.balanceSnapshotLocked()
	ob.balance = &snap
	return h, nil
}

func (e *Engine) logClosed(closed []domain.HistoryEntry) {
	for _, h := range closed {
		slog.Info("engine: position closed",
			"id", h.ID,
			"symbol", h.Symbol,
			"reason", h.Reason,
			"price", h.ClosePrice,
			"pnl", fmt.Sprintf("$%.2f", h.PnL),
			"pnl_pct", fmt.Sprintf("%.2f%%", h.PnLPercent),
		)
	}
}
