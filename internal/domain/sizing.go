package domain

import (
	"fmt"
	"math"
)

const (
	DefaultRiskFraction     = 0.02
	MaxRiskFraction         = 0.03
	DefaultFallbackFraction = 0.05
	DefaultMaxAssetFraction = 0.25
)

// SizingInput holds the parameters of the risk sizer.
type SizingInput struct {
	Balance          float64
	Entry            float64
	Stop             float64 // 0 = no stop
	RiskFraction     float64 // share of balance risked to the stop
	FallbackFraction float64 // flat share of balance when no usable stop
	MaxAssetFraction float64 // concentration cap per position
}

// SizeNotional converts a balance and stop distance into a position notional.
//
// With a usable stop the notional risks RiskFraction of the balance to the
// stop and is clamped to MaxAssetFraction of the balance. Without one (or when
// the risk notional is unusable) it falls back to FallbackFraction.
// A result ≤ 0 or above the balance is rejected with ErrInvalidSize.
func SizeNotional(in SizingInput) (float64, error) {
	risk := in.RiskFraction
	if risk <= 0 {
		risk = DefaultRiskFraction
	}
	risk = math.Min(risk, MaxRiskFraction)

	fallback := in.FallbackFraction
	if fallback <= 0 {
		fallback = DefaultFallbackFraction
	}
	maxAsset := in.MaxAssetFraction
	if maxAsset <= 0 {
		maxAsset = DefaultMaxAssetFraction
	}

	notional := 0.0
	if in.Entry > 0 && in.Stop > 0 && in.Stop != in.Entry {
		dist := math.Abs(in.Entry-in.Stop) / in.Entry
		notional = in.Balance * risk / dist
		notional = math.Min(notional, in.Balance*maxAsset)
	}
	if notional <= 0 || notional > in.Balance || math.IsNaN(notional) {
		notional = in.Balance * fallback
	}

	return guardNotional(notional, in.Balance)
}

// FlatNotional sizes a manual order as a flat percent (0–100) of the balance.
func FlatNotional(balance, percent float64) (float64, error) {
	return guardNotional(balance*percent/100, balance)
}

func guardNotional(notional, balance float64) (float64, error) {
	if notional <= 0 || notional > balance || math.IsNaN(notional) || math.IsInf(notional, 0) {
		return 0, fmt.Errorf("%w: notional %.2f with balance %.2f", ErrInvalidSize, notional, balance)
	}
	return notional, nil
}
