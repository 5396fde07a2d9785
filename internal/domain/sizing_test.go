package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeNotional_ClampedToAssetCap(t *testing.T) {
	// stop distance 2%, risk budget 200 → 10000, clamped to 25% of 10000
	n, err := SizeNotional(SizingInput{Balance: 10000, Entry: 50000, Stop: 49000, RiskFraction: 0.02})
	require.NoError(t, err)
	assert.InDelta(t, 2500, n, 1e-9)
}

func TestSizeNotional_RiskBased(t *testing.T) {
	// 10% stop distance, 2% risk → 2000, under the 25% cap
	n, err := SizeNotional(SizingInput{Balance: 10000, Entry: 100, Stop: 90, RiskFraction: 0.02})
	require.NoError(t, err)
	assert.InDelta(t, 2000, n, 1e-9)
}

func TestSizeNotional_RiskFractionCapped(t *testing.T) {
	// 10% risk requested, capped to 3% → 3000 with a 10% stop
	n, err := SizeNotional(SizingInput{Balance: 10000, Entry: 100, Stop: 90, RiskFraction: 0.10, MaxAssetFraction: 1})
	require.NoError(t, err)
	assert.InDelta(t, 3000, n, 1e-9)
}

func TestSizeNotional_FallbackWithoutStop(t *testing.T) {
	n, err := SizeNotional(SizingInput{Balance: 10000, Entry: 100})
	require.NoError(t, err)
	assert.InDelta(t, 500, n, 1e-9)
}

func TestSizeNotional_FallbackWhenStopEqualsEntry(t *testing.T) {
	n, err := SizeNotional(SizingInput{Balance: 10000, Entry: 100, Stop: 100, FallbackFraction: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 1000, n, 1e-9)
}

func TestSizeNotional_FallbackWhenRiskExceedsBalance(t *testing.T) {
	// tiny stop distance with a cap above 100% → risk notional > balance
	n, err := SizeNotional(SizingInput{Balance: 1000, Entry: 100, Stop: 99.99, MaxAssetFraction: 5})
	require.NoError(t, err)
	assert.InDelta(t, 50, n, 1e-9)
}

func TestSizeNotional_RejectsEmptyBalance(t *testing.T) {
	_, err := SizeNotional(SizingInput{Balance: 0, Entry: 100, Stop: 90})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = SizeNotional(SizingInput{Balance: -50, Entry: 100})
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestSizeNotional_NeverAboveAssetCap(t *testing.T) {
	for _, stop := range []float64{0, 1, 50, 95, 99, 99.9, 101, 150} {
		n, err := SizeNotional(SizingInput{Balance: 8000, Entry: 100, Stop: stop})
		require.NoError(t, err, "stop %v", stop)
		assert.Greater(t, n, 0.0)
		assert.LessOrEqual(t, n, 8000*DefaultMaxAssetFraction+1e-9, "stop %v", stop)
	}
}

func TestFlatNotional(t *testing.T) {
	n, err := FlatNotional(2000, 10)
	require.NoError(t, err)
	assert.InDelta(t, 200, n, 1e-9)

	_, err = FlatNotional(2000, 150)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = FlatNotional(2000, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}
