package ports

import (
	"context"

	"github.com/alejandrodnm/autopilot/internal/domain"
)

// Notifier receives engine events for UI, alerting and telemetry.
// Implementations must not block for long: they run on the engine's goroutines
// while it holds its sink lock, so they must not call back into the engine.
type Notifier interface {
	Opened(ctx context.Context, ev domain.OpenedEvent)
	Closed(ctx context.Context, ev domain.ClosedEvent)
	Rejected(ctx context.Context, r domain.Rejection)
	Halted(ctx context.Context, st domain.Status)
}
