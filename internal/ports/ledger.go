package ports

import (
	"context"

	"github.com/alejandrodnm/autopilot/internal/domain"
)

// Ledger persists opened positions, closed trades and balance snapshots.
// The engine never reads from it while trading; LoadHistory seeds a new session.
type Ledger interface {
	RecordOpen(ctx context.Context, ev domain.OpenedEvent) error
	RecordClose(ctx context.Context, h domain.HistoryEntry) error
	SaveBalance(ctx context.Context, b domain.BalanceSnapshot) error

	// LoadHistory returns the last limit closed trades, oldest first (0 = all).
	LoadHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error)

	// Reset wipes positions, trades and balances (explicit account reset).
	Reset(ctx context.Context) error

	Close() error
}
