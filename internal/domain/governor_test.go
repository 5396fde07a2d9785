package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func historyOf(pnls ...float64) []HistoryEntry {
	out := make([]HistoryEntry, len(pnls))
	for i, p := range pnls {
		out[i] = HistoryEntry{ID: string(rune('a' + i)), PnL: p}
	}
	return out
}

func TestConsecutiveLosses_MostRecentFirst(t *testing.T) {
	assert.Equal(t, 2, ConsecutiveLosses(historyOf(-10, -5, 3, -2, -8), 0))
}

func TestConsecutiveLosses_WinningTail(t *testing.T) {
	assert.Equal(t, 0, ConsecutiveLosses(historyOf(-10, -5, 3), 0))
}

func TestConsecutiveLosses_BreakEvenStops(t *testing.T) {
	assert.Equal(t, 1, ConsecutiveLosses(historyOf(-1, 0, -3), 0))
}

func TestConsecutiveLosses_Window(t *testing.T) {
	h := historyOf(-1, -1, -1, -1, -1, -1, -1)
	assert.Equal(t, 7, ConsecutiveLosses(h, 0))
	assert.Equal(t, 5, ConsecutiveLosses(h, 5))
	assert.Equal(t, 7, ConsecutiveLosses(h, 50))
}

func TestConsecutiveLosses_Empty(t *testing.T) {
	assert.Equal(t, 0, ConsecutiveLosses(nil, 0))
}

func TestEffectiveCooldown(t *testing.T) {
	base := 5 * time.Minute
	floor := 15 * time.Minute

	assert.Equal(t, base, EffectiveCooldown(base, 0, 2, floor))
	assert.Equal(t, base, EffectiveCooldown(base, 1, 2, floor))
	// doubled to 10m, floored to 15m
	assert.Equal(t, floor, EffectiveCooldown(base, 2, 2, floor))
	// doubled above the floor
	assert.Equal(t, 40*time.Minute, EffectiveCooldown(20*time.Minute, 3, 2, floor))
}

func TestCooldownPolicy_Effective(t *testing.T) {
	p := CooldownPolicy{Base: time.Minute, Floor: 15 * time.Minute, Threshold: 2}
	assert.Equal(t, time.Minute, p.Effective(historyOf(-1, 2)))
	assert.Equal(t, 15*time.Minute, p.Effective(historyOf(2, -1, -1)))
}
