package domain

import "time"

// HaltReasonDrawdown is the status reason set when the breaker fires.
const HaltReasonDrawdown = "halted_by_drawdown"

// DrawdownBreaker is a one-shot latch on session drawdown.
type DrawdownBreaker struct {
	MaxLossPct float64 // 0 disables
	Fired      bool
	FiredAt    time.Time
	FiredPct   float64
}

// DrawdownPct = (equity − initial) / initial × 100.
func DrawdownPct(equity, initial float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (equity - initial) / initial * 100
}

// Check returns true exactly once, the first time drawdown breaches the limit.
func (b *DrawdownBreaker) Check(equity, initial float64, now time.Time) bool {
	if b.MaxLossPct <= 0 || b.Fired {
		return false
	}
	pct := DrawdownPct(equity, initial)
	if pct > -b.MaxLossPct {
		return false
	}
	b.Fired = true
	b.FiredAt = now
	b.FiredPct = pct
	return true
}

// Rearm clears the latch. Only called on an explicit reset.
func (b *DrawdownBreaker) Rearm() {
	b.Fired = false
	b.FiredAt = time.Time{}
	b.FiredPct = 0
}
