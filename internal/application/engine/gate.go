package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alejandrodnm/autopilot/internal/domain"
)

// HandleSignal runs a signal through the gate and opens a position when it is
// admitted. A rejection is a normal outcome, not an error: it is recorded as
// the last rejection, logged and forwarded to the notifiers.
func (e *Engine) HandleSignal(ctx context.Context, sig domain.Signal) (domain.OpenedEvent, *domain.Rejection) {
	var ob outbox

	e.mu.Lock()
	now := e.now()
	notional, rej := e.admitLocked(sig, now)
	var ev domain.OpenedEvent
	if rej == nil {
		p := domain.NewPosition(e.newID(), sig, notional, e.cfg.Leverage, true, now)
		ev = e.openLocked(p, &ob)
	} else {
		e.state.lastRejection = rej
		ob.rejections = append(ob.rejections, *rej)
	}
	done := e.handoff()
	defer done()

	if rej != nil {
		slog.Info("engine: signal rejected",
			"symbol", sig.Symbol,
			"direction", sig.Direction,
			"reason", rej.Reason,
			"detail", rej.Detail,
		)
	} else {
		slog.Info("engine: position opened",
			"id", ev.ID,
			"symbol", ev.Symbol,
			"direction", ev.Direction,
			"notional", fmt.Sprintf("$%.2f", ev.Notional),
			"price", ev.OpenPrice,
		)
	}
	e.flush(ctx, ob)
	return ev, rej
}

// admitLocked evaluates the gate rules in order and sizes the position.
// It never mutates state.
func (e *Engine) admitLocked(sig domain.Signal, now time.Time) (float64, *domain.Rejection) {
	reject := func(reason domain.RejectReason, format string, args ...any) (float64, *domain.Rejection) {
		return 0, &domain.Rejection{Symbol: sig.Symbol, Reason: reason, Detail: fmt.Sprintf(format, args...), At: now}
	}

	if !e.state.enabled {
		return reject(domain.RejectEngineDisabled, "%s", e.state.haltReason)
	}
	if err := sig.Validate(); err != nil {
		return reject(domain.RejectInvalidSignal, "%v", err)
	}

	// 1. direction allow-list
	if !slices.Contains(e.cfg.AllowedDirections, sig.Direction) {
		return reject(domain.RejectDirectionNotAllowed, "%s", sig.Direction)
	}

	// 2. confidence (0–100), LONG may need a bonus
	minConf := e.cfg.MinConfidence
	if sig.Direction == domain.Long {
		minConf += e.cfg.LongConfidenceBonus
	}
	if sig.ConfidencePct() < minConf {
		return reject(domain.RejectConfidenceTooLow, "%.1f < %.1f", sig.ConfidencePct(), minConf)
	}

	// 3. per-symbol cap
	if n := e.countSymbolLocked(sig.Symbol); n >= e.cfg.MaxPerSymbol {
		return reject(domain.RejectSymbolExposed, "%d open", n)
	}

	// 4. concurrent cap
	if n := len(e.state.positions); n >= e.cfg.MaxConcurrent {
		return reject(domain.RejectMaxConcurrent, "%d/%d open", n, e.cfg.MaxConcurrent)
	}

	// 5. portfolio exposure, before sizing
	locked := e.lockedLocked()
	maxLocked := (e.state.balance + locked) * e.cfg.MaxExposureFraction
	if locked >= maxLocked {
		return reject(domain.RejectExposureCap, "locked $%.2f >= $%.2f", locked, maxLocked)
	}

	// 6–7. cooldown, stretched by the loss streak
	if last, ok := e.state.lastOpen[sig.Symbol]; ok && !sig.Forced {
		cd := e.cooldown.Effective(e.state.history)
		if elapsed := now.Sub(last); elapsed < cd {
			return reject(domain.RejectCooldownActive, "%s remaining", (cd - elapsed).Round(time.Second))
		}
	}

	notional, err := domain.SizeNotional(domain.SizingInput{
		Balance:          e.state.balance,
		Entry:            sig.Entry,
		Stop:             sig.Stop,
		RiskFraction:     e.cfg.RiskFraction,
		FallbackFraction: e.cfg.FallbackFraction,
		MaxAssetFraction: e.cfg.MaxAssetFraction,
	})
	if err != nil {
		return reject(domain.RejectInsufficientBalance, "%v", err)
	}

	// 5 again, with the new notional included
	if locked+notional > maxLocked {
		return reject(domain.RejectExposureCap, "locked $%.2f + $%.2f > $%.2f", locked, notional, maxLocked)
	}

	return notional, nil
}

// openLocked debits the balance and registers p as open.
func (e *Engine) openLocked(p *domain.Position, ob *outbox) domain.OpenedEvent {
	e.state.balance -= p.Notional
	e.state.positions[p.ID] = p
	e.state.lastOpen[p.Symbol] = p.OpenedAt

	ev := domain.OpenedEventFor(p)
	ob.opened = append(ob.opened, ev)
	snap := e.balanceSnapshotLocked()
	ob.balance = &snap
	return ev
}

// ManualOrder is a user-initiated open sized as a flat percent of the balance.
type ManualOrder struct {
	Symbol      string
	Direction   domain.Direction
	Price       float64
	SizePercent float64 // 0–100 of free balance
	Leverage    float64
	Stop        float64
	Targets     []float64
}

// OpenManual opens a position outside the signal gate. Confidence and cooldown
// do not apply; the position caps, exposure cap and size guard do.
func (e *Engine) OpenManual(ctx context.Context, o ManualOrder) (domain.OpenedEvent, error) {
	sig := domain.Signal{
		Symbol:     o.Symbol,
		Direction:  o.Direction,
		Entry:      o.Price,
		Stop:       o.Stop,
		Targets:    o.Targets,
		Confidence: 1,
		Forced:     true,
	}
	if err := sig.Validate(); err != nil {
		return domain.OpenedEvent{}, fmt.Errorf("engine.OpenManual: %w", err)
	}

	var ob outbox
	e.mu.Lock()
	now := e.now()
	sig.EmittedAt = now
	notional, err := e.checkManualLocked(sig, o.SizePercent)
	if err != nil {
		e.mu.Unlock()
		return domain.OpenedEvent{}, fmt.Errorf("engine.OpenManual: %w", err)
	}
	lev := o.Leverage
	if lev < 1 {
		lev = e.cfg.Leverage
	}
	p := domain.NewPosition(e.newID(), sig, notional, lev, false, now)
	ev := e.openLocked(p, &ob)
	done := e.handoff()
	defer done()

	slog.Info("engine: manual position opened",
		"id", ev.ID,
		"symbol", ev.Symbol,
		"direction", ev.Direction,
		"notional", fmt.Sprintf("$%.2f", ev.Notional),
	)
	e.flush(ctx, ob)
	return ev, nil
}

// ErrCapExceeded is returned when a manual open would break a position or exposure cap.
var ErrCapExceeded = errors.New("position cap exceeded")

func (e *Engine) checkManualLocked(sig domain.Signal, percent float64) (float64, error) {
	if e.state.breaker.Fired {
		return 0, fmt.Errorf("%w: %s", domain.ErrEngineHalted, e.state.haltReason)
	}
	if n := e.countSymbolLocked(sig.Symbol); n >= e.cfg.MaxPerSymbol {
		return 0, fmt.Errorf("%w: %s already has %d open", ErrCapExceeded, sig.Symbol, n)
	}
	if len(e.state.positions) >= e.cfg.MaxConcurrent {
		return 0, fmt.Errorf("%w: %d concurrent", ErrCapExceeded, len(e.state.positions))
	}
	notional, err := domain.FlatNotional(e.state.balance, percent)
	if err != nil {
		return 0, err
	}
	locked := e.lockedLocked()
	if locked+notional > (e.state.balance+locked)*e.cfg.MaxExposureFraction {
		return 0, fmt.Errorf("%w: exposure", ErrCapExceeded)
	}
	return notional, nil
}
