package engine

import (
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/autopilot/internal/domain"
)

// checkBreakerLocked evaluates the drawdown latch on realized equity (free
// balance plus notional still locked in positions). When it fires, every open
// position is closed at its last price and admissions stop, all inside the
// caller's critical section.
func (e *Engine) checkBreakerLocked(ob *outbox) {
	equity := e.state.balance + e.lockedLocked()
	if !e.state.breaker.Check(equity, e.state.initial, e.now()) {
		return
	}

	slog.Warn("engine: drawdown circuit breaker fired",
		"drawdown_pct", fmt.Sprintf("%.2f%%", e.state.breaker.FiredPct),
		"limit_pct", e.state.breaker.MaxLossPct,
		"equity", fmt.Sprintf("$%.2f", equity),
		"open_positions", len(e.state.positions),
	)

	for _, p := range e.sortedPositionsLocked() {
		if _, err := e.closeLocked(p, p.CurrentPrice, domain.ReasonDrawdown, ob); err != nil {
			slog.Warn("engine: forced close failed", "id", p.ID, "err", err)
		}
	}
	e.state.enabled = false
	e.state.haltReason = domain.HaltReasonDrawdown

	st := e.statusLocked()
	ob.halted = &st
}

func (e *Engine) sortedPositionsLocked() []*domain.Position {
	out := make([]*domain.Position, 0, len(e.state.positions))
	for _, p := range e.state.positions {
		out = append(out, p)
	}
	sortPositions(out)
	return out
}
