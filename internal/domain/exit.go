package domain

import "time"

// ExitRules are the per-tick close triggers evaluated by the monitor.
type ExitRules struct {
	MinHold           time.Duration // nothing triggers before this
	TrailingStopPct   float64       // 0 = disabled
	MaxDuration       time.Duration // 0 = disabled
	AutoCloseMinHold  time.Duration
	AutoTakeProfitPct float64 // 0 = disabled
	AutoStopLossPct   float64 // 0 = disabled
}

// ExitDecision says at which price and why a position should close.
type ExitDecision struct {
	Price  float64
	Reason CloseReason
}

// CheckExit evaluates the triggers in priority order against a tick price.
// Extremes must already include price (call Mark first).
func (p *Position) CheckExit(price float64, now time.Time, r ExitRules) (ExitDecision, bool) {
	held := p.Held(now)
	if held < r.MinHold {
		return ExitDecision{}, false
	}

	if stop := p.Stop(); stop > 0 {
		if (p.Direction == Long && price <= stop) || (p.Direction == Short && price >= stop) {
			// guaranteed stop: fill at the level, not the tick
			return ExitDecision{Price: stop, Reason: ReasonStopLoss}, true
		}
	}

	if target, ok := p.hitTarget(price); ok {
		return ExitDecision{Price: target, Reason: ReasonTakeProfit}, true
	}

	if r.TrailingStopPct > 0 && p.trailingHit(price, r.TrailingStopPct) {
		return ExitDecision{Price: price, Reason: ReasonTrailingStop}, true
	}

	if r.MaxDuration > 0 && held > r.MaxDuration {
		return ExitDecision{Price: price, Reason: ReasonMaxDuration}, true
	}

	if held >= r.AutoCloseMinHold {
		pct := p.PnLPercentAt(price)
		if r.AutoTakeProfitPct > 0 && pct >= r.AutoTakeProfitPct {
			return ExitDecision{Price: price, Reason: ReasonAutoTakeProfit}, true
		}
		if r.AutoStopLossPct > 0 && pct <= -r.AutoStopLossPct {
			return ExitDecision{Price: price, Reason: ReasonAutoStopLoss}, true
		}
	}

	return ExitDecision{}, false
}

// hitTarget picks the first target reached on the profitable side of entry.
// LONG: smallest t with entry <= t <= price. SHORT: largest t with price <= t <= entry.
func (p *Position) hitTarget(price float64) (float64, bool) {
	var best float64
	found := false
	for _, t := range p.Targets() {
		switch p.Direction {
		case Long:
			if t >= p.OpenPrice && t <= price && (!found || t < best) {
				best, found = t, true
			}
		case Short:
			if t <= p.OpenPrice && t >= price && (!found || t > best) {
				best, found = t, true
			}
		}
	}
	return best, found
}

func (p *Position) trailingHit(price, pct float64) bool {
	switch p.Direction {
	case Long:
		if p.High <= 0 {
			return false
		}
		return (p.High-price)/p.High*100 >= pct
	case Short:
		if p.Low <= 0 {
			return false
		}
		return (price-p.Low)/p.Low*100 >= pct
	}
	return false
}
