package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func openAt(dir Direction, entry, stop float64, targets ...float64) *Position {
	sig := Signal{Symbol: "BTC-USDT", Direction: dir, Entry: entry, Stop: stop, Targets: targets, Confidence: 0.9, EmittedAt: t0}
	return NewPosition("p1", sig, 1000, 1, true, t0)
}

// tick marks the price and evaluates exit rules like the monitor does.
func tick(p *Position, price float64, after time.Duration, r ExitRules) (ExitDecision, bool) {
	now := t0.Add(after)
	p.Mark(price, now)
	return p.CheckExit(price, now, r)
}

func TestMark_FeedTimestampOnly(t *testing.T) {
	p := openAt(Long, 100, 95)
	assert.True(t, p.LastTickAt.IsZero(), "no tick applied yet")

	feedAt := t0.Add(-time.Hour)
	p.Mark(101, feedAt)
	assert.Equal(t, feedAt, p.LastTickAt)

	p.Mark(102, time.Time{})
	assert.Equal(t, feedAt, p.LastTickAt)
	assert.InDelta(t, 102, p.CurrentPrice, 1e-9)

	p.Mark(99, feedAt.Add(-time.Second))
	assert.Equal(t, feedAt, p.LastTickAt)
	assert.InDelta(t, 99, p.Low, 1e-9)
}

func TestRealizedPnL_RoundTrip(t *testing.T) {
	assert.InDelta(t, 100, RealizedPnL(Long, 100, 110, 1000), 1e-9)
	assert.InDelta(t, -100, RealizedPnL(Short, 100, 110, 1000), 1e-9)
}

func TestCheckExit_MinHoldBlocksEverything(t *testing.T) {
	p := openAt(Long, 100, 95)
	_, ok := tick(p, 50, 10*time.Second, ExitRules{MinHold: time.Minute})
	assert.False(t, ok)
	assert.InDelta(t, 50, p.CurrentPrice, 1e-9)
	assert.InDelta(t, 50, p.Low, 1e-9)
}

func TestCheckExit_StopLossClampsToStop(t *testing.T) {
	p := openAt(Long, 100, 95)
	d, ok := tick(p, 90, 2*time.Minute, ExitRules{MinHold: time.Minute})
	require.True(t, ok)
	assert.Equal(t, ReasonStopLoss, d.Reason)
	assert.InDelta(t, 95, d.Price, 1e-9)

	s := openAt(Short, 100, 105)
	d, ok = tick(s, 107, 2*time.Minute, ExitRules{})
	require.True(t, ok)
	assert.Equal(t, ReasonStopLoss, d.Reason)
	assert.InDelta(t, 105, d.Price, 1e-9)
}

func TestCheckExit_TakeProfitFirstReachedLong(t *testing.T) {
	p := openAt(Long, 100, 0, 105, 110, 120)
	d, ok := tick(p, 112, 2*time.Minute, ExitRules{})
	require.True(t, ok)
	assert.Equal(t, ReasonTakeProfit, d.Reason)
	assert.InDelta(t, 105, d.Price, 1e-9)
}

func TestCheckExit_TakeProfitFirstReachedShort(t *testing.T) {
	p := openAt(Short, 100, 0, 95, 90, 80)
	d, ok := tick(p, 89, 2*time.Minute, ExitRules{})
	require.True(t, ok)
	assert.InDelta(t, 95, d.Price, 1e-9)

	q := openAt(Short, 100, 0, 95, 90)
	_, ok = tick(q, 97, 2*time.Minute, ExitRules{})
	assert.False(t, ok)
}

func TestCheckExit_TargetsBelowEntryIgnoredForLong(t *testing.T) {
	p := openAt(Long, 100, 0, 98)
	_, ok := tick(p, 99, 2*time.Minute, ExitRules{})
	assert.False(t, ok)
}

func TestCheckExit_OverrideSupersedesSignal(t *testing.T) {
	p := openAt(Long, 100, 95, 120)
	stop := 99.0
	p.Override = &Override{Stop: &stop, Targets: []float64{102}}

	d, ok := tick(p, 103, 2*time.Minute, ExitRules{})
	require.True(t, ok)
	assert.InDelta(t, 102, d.Price, 1e-9)

	q := openAt(Long, 100, 95, 120)
	q.Override = &Override{Stop: &stop}
	d, ok = tick(q, 98.5, 2*time.Minute, ExitRules{})
	require.True(t, ok)
	assert.Equal(t, ReasonStopLoss, d.Reason)
	assert.InDelta(t, 99, d.Price, 1e-9)
	assert.Equal(t, []float64{120}, q.Targets())
}

func TestCheckExit_TrailingStopLong(t *testing.T) {
	r := ExitRules{TrailingStopPct: 2}
	p := openAt(Long, 100, 0)

	_, ok := tick(p, 110, 2*time.Minute, r)
	assert.False(t, ok)
	_, ok = tick(p, 108.5, 3*time.Minute, r)
	assert.False(t, ok)

	d, ok := tick(p, 107.5, 4*time.Minute, r)
	require.True(t, ok)
	assert.Equal(t, ReasonTrailingStop, d.Reason)
	assert.InDelta(t, 107.5, d.Price, 1e-9)
	assert.InDelta(t, 110, p.High, 1e-9)
}

func TestCheckExit_TrailingStopShort(t *testing.T) {
	r := ExitRules{TrailingStopPct: 1}
	p := openAt(Short, 100, 0)

	_, ok := tick(p, 90, 2*time.Minute, r)
	assert.False(t, ok)
	d, ok := tick(p, 91, 3*time.Minute, r)
	require.True(t, ok)
	assert.Equal(t, ReasonTrailingStop, d.Reason)
}

func TestCheckExit_MaxDuration(t *testing.T) {
	r := ExitRules{MaxDuration: time.Hour}
	p := openAt(Long, 100, 0)

	_, ok := tick(p, 100.5, 59*time.Minute, r)
	assert.False(t, ok)
	d, ok := tick(p, 100.7, 61*time.Minute, r)
	require.True(t, ok)
	assert.Equal(t, ReasonMaxDuration, d.Reason)
	assert.InDelta(t, 100.7, d.Price, 1e-9)
}

func TestCheckExit_PercentAutoClose(t *testing.T) {
	r := ExitRules{AutoCloseMinHold: time.Minute, AutoTakeProfitPct: 3, AutoStopLossPct: 2}

	p := openAt(Long, 100, 0)
	_, ok := tick(p, 104, 30*time.Second, r)
	assert.False(t, ok, "auto close waits for its own min hold")

	d, ok := tick(p, 103.5, 90*time.Second, r)
	require.True(t, ok)
	assert.Equal(t, ReasonAutoTakeProfit, d.Reason)

	s := openAt(Short, 100, 0)
	d, ok = tick(s, 102.5, 2*time.Minute, r)
	require.True(t, ok)
	assert.Equal(t, ReasonAutoStopLoss, d.Reason)
}

func TestCheckExit_StopHasPriorityOverTrailing(t *testing.T) {
	p := openAt(Long, 100, 97)
	d, ok := tick(p, 96, 2*time.Minute, ExitRules{TrailingStopPct: 1})
	require.True(t, ok)
	assert.Equal(t, ReasonStopLoss, d.Reason)
}

func TestPosition_CloseBuildsHistory(t *testing.T) {
	p := openAt(Long, 100, 95)
	h := p.Close(110, ReasonManual, t0.Add(time.Hour))
	assert.InDelta(t, 100, h.PnL, 1e-9)
	assert.InDelta(t, 10, h.PnLPercent, 1e-9)
	assert.Equal(t, ReasonManual, h.Reason)
	assert.True(t, h.Auto)
}

func TestSignal_Validate(t *testing.T) {
	ok := Signal{Symbol: "ETH-USDT", Direction: Long, Entry: 10, Targets: []float64{11, 12}, Confidence: 0.5}
	assert.NoError(t, ok.Validate())

	cases := map[string]Signal{
		"empty symbol":   {Direction: Long, Entry: 10},
		"bad direction":  {Symbol: "X", Direction: "UP", Entry: 10},
		"zero entry":     {Symbol: "X", Direction: Long},
		"negative stop":  {Symbol: "X", Direction: Long, Entry: 10, Stop: -1},
		"confidence":     {Symbol: "X", Direction: Long, Entry: 10, Confidence: 1.5},
		"long unordered": {Symbol: "X", Direction: Long, Entry: 10, Targets: []float64{12, 11}},
		"short ordered":  {Symbol: "X", Direction: Short, Entry: 10, Targets: []float64{8, 9}},
		"zero target":    {Symbol: "X", Direction: Long, Entry: 10, Targets: []float64{0}},
	}
	for name, sig := range cases {
		assert.ErrorIs(t, sig.Validate(), ErrInvalidSignal, name)
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("buy")
	require.NoError(t, err)
	assert.Equal(t, Long, d)
	d, err = ParseDirection(" Short ")
	require.NoError(t, err)
	assert.Equal(t, Short, d)
	_, err = ParseDirection("flat")
	assert.Error(t, err)
}
