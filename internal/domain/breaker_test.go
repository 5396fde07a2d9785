package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrawdownBreaker_FiresAtThreshold(t *testing.T) {
	b := DrawdownBreaker{MaxLossPct: 5}

	assert.False(t, b.Check(9500.01, 10000, t0))
	assert.False(t, b.Fired)

	assert.True(t, b.Check(9500, 10000, t0))
	assert.True(t, b.Fired)
	assert.InDelta(t, -5, b.FiredPct, 1e-9)
}

func TestDrawdownBreaker_OneShot(t *testing.T) {
	b := DrawdownBreaker{MaxLossPct: 5}
	assert.True(t, b.Check(9000, 10000, t0))
	assert.False(t, b.Check(8000, 10000, t0))

	b.Rearm()
	assert.True(t, b.Check(8000, 10000, t0))
}

func TestDrawdownBreaker_Disabled(t *testing.T) {
	b := DrawdownBreaker{}
	assert.False(t, b.Check(1, 10000, t0))
}

func TestDrawdownPct(t *testing.T) {
	assert.InDelta(t, -5, DrawdownPct(9500, 10000), 1e-9)
	assert.InDelta(t, 10, DrawdownPct(11000, 10000), 1e-9)
	assert.Equal(t, 0.0, DrawdownPct(100, 0))
}

func TestSummarize(t *testing.T) {
	s := Summarize(historyOf(10, -5, 20, -5))
	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 50, s.WinRate, 1e-9)
	assert.InDelta(t, 20, s.TotalPnL, 1e-9)
	assert.InDelta(t, 3, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 20, s.BestTrade, 1e-9)
	assert.InDelta(t, -5, s.WorstTrade, 1e-9)
	assert.Equal(t, 1, s.LossStreak)

	assert.True(t, math.IsInf(Summarize(historyOf(1)).ProfitFactor, 1))
	assert.Equal(t, TradeStats{}, Summarize(nil))
}
