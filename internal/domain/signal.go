package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Direction is the side of a signal or position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ParseDirection accepts LONG/SHORT in any case (also BUY/SELL).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return Long, nil
	case "SHORT", "SELL":
		return Short, nil
	}
	return "", fmt.Errorf("domain.ParseDirection: unknown direction %q", s)
}

// Sign is +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Valid reports whether d is LONG or SHORT.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

var (
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrInvalidSize      = errors.New("invalid position size")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosing  = errors.New("position already closing")
	ErrEngineHalted     = errors.New("engine halted")
)

// Signal is an immutable trade idea delivered by the feed.
type Signal struct {
	Symbol     string
	Direction  Direction
	Entry      float64
	Stop       float64   // 0 = none
	Targets    []float64 // ascending for LONG, descending for SHORT
	Confidence float64   // [0,1]
	EmittedAt  time.Time
	Forced     bool // test/forced signal, skips cooldown
}

// Validate checks the boundary rules. A signal that fails here is dropped.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
	if s.Entry <= 0 {
		return fmt.Errorf("%w: entry %.8f must be > 0", ErrInvalidSignal, s.Entry)
	}
	if s.Stop < 0 {
		return fmt.Errorf("%w: stop %.8f must be >= 0", ErrInvalidSignal, s.Stop)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.4f outside [0,1]", ErrInvalidSignal, s.Confidence)
	}
	if err := validateTargets(s.Direction, s.Targets); err != nil {
		return err
	}
	return nil
}

func validateTargets(dir Direction, targets []float64) error {
	for i, t := range targets {
		if t <= 0 {
			return fmt.Errorf("%w: target[%d] %.8f must be > 0", ErrInvalidSignal, i, t)
		}
		if i == 0 {
			continue
		}
		prev := targets[i-1]
		if dir == Long && t < prev {
			return fmt.Errorf("%w: LONG targets must be ascending", ErrInvalidSignal)
		}
		if dir == Short && t > prev {
			return fmt.Errorf("%w: SHORT targets must be descending", ErrInvalidSignal)
		}
	}
	return nil
}

// ConfidencePct returns confidence on the 0–100 scale used by the gate.
func (s Signal) ConfidencePct() float64 {
	return s.Confidence * 100
}

// clone returns a copy with its own targets slice.
func (s Signal) clone() Signal {
	out := s
	if s.Targets != nil {
		out.Targets = append([]float64(nil), s.Targets...)
	}
	return out
}

// PriceTick is a last-trade price for one symbol.
type PriceTick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
