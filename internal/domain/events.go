package domain

import (
	"fmt"
	"time"
)

// OpenedEvent is emitted when a position opens.
type OpenedEvent struct {
	ID        string
	Symbol    string
	Direction Direction
	Notional  float64
	Leverage  float64
	OpenPrice float64
	Stop      float64
	Targets   []float64
	Auto      bool
	Timestamp time.Time
}

// OpenedEventFor snapshots the open fields of p.
func OpenedEventFor(p *Position) OpenedEvent {
	return OpenedEvent{
		ID:        p.ID,
		Symbol:    p.Symbol,
		Direction: p.Direction,
		Notional:  p.Notional,
		Leverage:  p.Leverage,
		OpenPrice: p.OpenPrice,
		Stop:      p.Stop(),
		Targets:   append([]float64(nil), p.Targets()...),
		Auto:      p.Auto,
		Timestamp: p.OpenedAt,
	}
}

// ClosedEvent is emitted when a position closes.
type ClosedEvent struct {
	ID         string
	Symbol     string
	ClosePrice float64
	PnL        float64
	PnLPercent float64
	Reason     CloseReason
	Timestamp  time.Time
}

// ClosedEventFor derives the close event from a history entry.
func ClosedEventFor(h HistoryEntry) ClosedEvent {
	return ClosedEvent{
		ID:         h.ID,
		Symbol:     h.Symbol,
		ClosePrice: h.ClosePrice,
		PnL:        h.PnL,
		PnLPercent: h.PnLPercent,
		Reason:     h.Reason,
		Timestamp:  h.ClosedAt,
	}
}

// RejectReason is a machine-readable code for a skipped signal.
type RejectReason string

const (
	RejectEngineDisabled      RejectReason = "engine disabled"
	RejectInvalidSignal       RejectReason = "invalid signal"
	RejectDirectionNotAllowed RejectReason = "direction not allowed"
	RejectConfidenceTooLow    RejectReason = "confidence too low"
	RejectSymbolExposed       RejectReason = "symbol already open"
	RejectMaxConcurrent       RejectReason = "max concurrent positions"
	RejectExposureCap         RejectReason = "exposure cap"
	RejectCooldownActive      RejectReason = "cooldown active"
	RejectInsufficientBalance RejectReason = "insufficient balance"
)

// Rejection explains why a signal did not open a position.
type Rejection struct {
	Symbol string
	Reason RejectReason
	Detail string
	At     time.Time
}

func (r Rejection) String() string {
	if r.Detail == "" {
		return fmt.Sprintf("%s: %s", r.Symbol, r.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Symbol, r.Reason, r.Detail)
}

// Status is the telemetry snapshot of the engine.
type Status struct {
	Enabled        bool
	Halted         bool
	HaltReason     string
	Balance        float64 // free cash
	InitialBalance float64
	Equity         float64 // cash + locked notional
	Locked         float64
	DrawdownPct    float64
	OpenPositions  int
	LossStreak     int
	LastRejection  *Rejection
	UpdatedAt      time.Time
}

// BalanceSnapshot is what the ledger persists after each balance change.
type BalanceSnapshot struct {
	Balance        float64
	InitialBalance float64
	Equity         float64
	At             time.Time
}
