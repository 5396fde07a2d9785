package ports

import (
	"context"

	"github.com/alejandrodnm/autopilot/internal/domain"
)

// PriceFeed streams last-trade prices for the tracked symbols.
type PriceFeed interface {
	// Subscribe starts streaming ticks for symbols until ctx is cancelled.
	// Transport failures are retried internally; the channel closes on shutdown.
	Subscribe(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error)
}

// SignalSource delivers trading signals pushed by an upstream producer.
type SignalSource interface {
	Signals() <-chan domain.Signal
}
