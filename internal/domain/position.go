package domain

import (
	"math"
	"time"
)

// PositionState represents the lifecycle of a position.
type PositionState string

const (
	StateOpen    PositionState = "OPEN"
	StateClosing PositionState = "CLOSING"
	StateClosed  PositionState = "CLOSED"
)

// CloseReason records which rule closed a position.
type CloseReason string

const (
	ReasonStopLoss       CloseReason = "stop_loss"
	ReasonTakeProfit     CloseReason = "take_profit"
	ReasonTrailingStop   CloseReason = "trailing_stop"
	ReasonMaxDuration    CloseReason = "max_duration"
	ReasonAutoTakeProfit CloseReason = "auto_take_profit"
	ReasonAutoStopLoss   CloseReason = "auto_stop_loss"
	ReasonDrawdown       CloseReason = "drawdown"
	ReasonManual         CloseReason = "manual"
)

// Override replaces the signal's SL/TP for one position.
// A nil Stop or nil Targets falls through to the signal's values.
type Override struct {
	Stop    *float64
	Targets []float64
}

// Position is an open (or closing) trade tracked by the engine.
type Position struct {
	ID           string
	Symbol       string
	Direction    Direction
	Signal       Signal // snapshot at open time
	Override     *Override
	Notional     float64 // quote currency, not leverage-multiplied
	Leverage     float64 // informational
	OpenPrice    float64
	CurrentPrice float64
	High         float64 // highest price since open
	Low          float64 // lowest price since open
	OpenedAt     time.Time
	LastTickAt   time.Time // feed timestamp of the last applied tick; zero until the first one
	Auto         bool // opened by the gate (false = manual)
	State        PositionState
}

// NewPosition builds an OPEN position from a signal snapshot.
func NewPosition(id string, sig Signal, notional, leverage float64, auto bool, now time.Time) *Position {
	if leverage < 1 {
		leverage = 1
	}
	return &Position{
		ID:           id,
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		Signal:       sig.clone(),
		Notional:     notional,
		Leverage:     leverage,
		OpenPrice:    sig.Entry,
		CurrentPrice: sig.Entry,
		High:         sig.Entry,
		Low:          sig.Entry,
		OpenedAt:     now,
		Auto:         auto,
		State:        StateOpen,
	}
}

// Stop returns the effective stop price: override → signal → 0 (none).
func (p *Position) Stop() float64 {
	if p.Override != nil && p.Override.Stop != nil {
		return *p.Override.Stop
	}
	return p.Signal.Stop
}

// Targets returns the effective take-profit levels: override → signal → none.
func (p *Position) Targets() []float64 {
	if p.Override != nil && p.Override.Targets != nil {
		return p.Override.Targets
	}
	return p.Signal.Targets
}

// Held returns how long the position has been open at now.
func (p *Position) Held(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// PnLAt returns the P&L in quote currency if closed at price.
func (p *Position) PnLAt(price float64) float64 {
	return RealizedPnL(p.Direction, p.OpenPrice, price, p.Notional)
}

// PnLPercentAt returns the P&L percent relative to notional.
func (p *Position) PnLPercentAt(price float64) float64 {
	if p.OpenPrice <= 0 {
		return 0
	}
	return p.Direction.Sign() * (price - p.OpenPrice) / p.OpenPrice * 100
}

// Mark records a tick price and updates the extremes since open.
// at is the feed's timestamp; a zero at leaves LastTickAt untouched.
func (p *Position) Mark(price float64, at time.Time) {
	p.CurrentPrice = price
	p.High = math.Max(p.High, price)
	p.Low = math.Min(p.Low, price)
	if at.After(p.LastTickAt) {
		p.LastTickAt = at
	}
}

// RealizedPnL = sign × (close − open) / open × notional.
func RealizedPnL(dir Direction, openPrice, closePrice, notional float64) float64 {
	if openPrice <= 0 {
		return 0
	}
	return dir.Sign() * (closePrice - openPrice) / openPrice * notional
}

// HistoryEntry is an immutable closed trade.
type HistoryEntry struct {
	ID         string
	Symbol     string
	Direction  Direction
	Notional   float64
	Leverage   float64
	OpenPrice  float64
	ClosePrice float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	PnL        float64
	PnLPercent float64
	Reason     CloseReason
	Auto       bool
}

// Close builds the history entry for p closed at price.
func (p *Position) Close(price float64, reason CloseReason, at time.Time) HistoryEntry {
	return HistoryEntry{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Notional:   p.Notional,
		Leverage:   p.Leverage,
		OpenPrice:  p.OpenPrice,
		ClosePrice: price,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   at,
		PnL:        p.PnLAt(price),
		PnLPercent: p.PnLPercentAt(price),
		Reason:     reason,
		Auto:       p.Auto,
	}
}
