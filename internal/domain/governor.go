package domain

import "time"

const (
	DefaultLossStreakThreshold = 2
	DefaultCooldownFloor       = 15 * time.Minute
)

// ConsecutiveLosses counts losing trades from the most recent entry backwards,
// stopping at the first non-loss. history is ordered oldest first.
// window bounds how many recent entries are scanned (0 = all of them).
func ConsecutiveLosses(history []HistoryEntry, window int) int {
	stop := 0
	if window > 0 && len(history) > window {
		stop = len(history) - window
	}
	n := 0
	for i := len(history) - 1; i >= stop; i-- {
		if history[i].PnL >= 0 {
			break
		}
		n++
	}
	return n
}

// CooldownPolicy derives the per-symbol cooldown from the loss streak.
type CooldownPolicy struct {
	Base      time.Duration
	Floor     time.Duration // minimum once the streak penalty applies
	Threshold int           // consecutive losses that double the cooldown
	Window    int           // history entries scanned (0 = unbounded)
}

// Effective returns the cooldown to apply given the trade history.
func (c CooldownPolicy) Effective(history []HistoryEntry) time.Duration {
	return EffectiveCooldown(c.Base, ConsecutiveLosses(history, c.Window), c.Threshold, c.Floor)
}

// EffectiveCooldown doubles base, floored, once losses reach threshold.
func EffectiveCooldown(base time.Duration, losses, threshold int, floor time.Duration) time.Duration {
	if threshold <= 0 {
		threshold = DefaultLossStreakThreshold
	}
	if losses < threshold {
		return base
	}
	d := base * 2
	if d < floor {
		d = floor
	}
	return d
}
