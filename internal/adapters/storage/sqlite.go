package storage

// sqlite.go: ledger de posiciones y trades cerrados.
//
// Tablas:
//   - `positions`: una fila por posición abierta; pasa a CLOSED al cerrarse.
//   - `trades`: historial inmutable de trades cerrados (lo que consumen stats y
//     el governor de rachas al arrancar).
//   - `balances`: snapshot del balance tras cada cambio. Prune a 30 días.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/autopilot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id          TEXT PRIMARY KEY,
    symbol      TEXT NOT NULL,
    direction   TEXT NOT NULL,
    notional    REAL NOT NULL,
    leverage    REAL NOT NULL DEFAULT 1,
    open_price  REAL NOT NULL,
    stop        REAL NOT NULL DEFAULT 0,
    targets     TEXT NOT NULL DEFAULT '[]',
    auto        INTEGER NOT NULL DEFAULT 1,
    opened_at   TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'OPEN'
);

CREATE TABLE IF NOT EXISTS trades (
    id          TEXT PRIMARY KEY,
    symbol      TEXT NOT NULL,
    direction   TEXT NOT NULL,
    notional    REAL NOT NULL,
    leverage    REAL NOT NULL DEFAULT 1,
    open_price  REAL NOT NULL,
    close_price REAL NOT NULL,
    opened_at   TEXT NOT NULL,
    closed_at   TEXT NOT NULL,
    pnl         REAL NOT NULL,
    pnl_pct     REAL NOT NULL,
    reason      TEXT NOT NULL,
    auto        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS balances (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    balance         REAL NOT NULL,
    initial_balance REAL NOT NULL,
    equity          REAL NOT NULL,
    at              TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_trades_closed    ON trades(closed_at);
CREATE INDEX IF NOT EXISTS idx_balances_at      ON balances(at DESC);
`

const retentionBalances = 30 * 24 * time.Hour

// SQLiteLedger implementa ports.Ledger usando SQLite (pure Go, sin CGo).
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger abre (o crea) la base de datos en la ruta dada, aplica el
// schema y limpia snapshots de balance antiguos.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteLedger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	l, err := NewLedgerFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.pruneOld(context.Background())
	return l, nil
}

// NewLedgerFromDB wraps an already opened database and applies the schema.
func NewLedgerFromDB(db *sql.DB) (*SQLiteLedger, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("storage.NewLedgerFromDB: apply schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// RecordOpen inserts the opened position.
func (l *SQLiteLedger) RecordOpen(ctx context.Context, ev domain.OpenedEvent) error {
	targets, err := json.Marshal(nonNil(ev.Targets))
	if err != nil {
		return fmt.Errorf("storage.RecordOpen: encode targets: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO positions (id, symbol, direction, notional, leverage, open_price,
		                       stop, targets, auto, opened_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN')`,
		ev.ID, ev.Symbol, string(ev.Direction), ev.Notional, ev.Leverage, ev.OpenPrice,
		ev.Stop, string(targets), boolInt(ev.Auto), formatTime(ev.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordOpen: %w", err)
	}
	return nil
}

// RecordClose appends the trade and marks its position closed in one transaction.
func (l *SQLiteLedger) RecordClose(ctx context.Context, h domain.HistoryEntry) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordClose: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, direction, notional, leverage, open_price, close_price,
		                    opened_at, closed_at, pnl, pnl_pct, reason, auto)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Symbol, string(h.Direction), h.Notional, h.Leverage, h.OpenPrice, h.ClosePrice,
		formatTime(h.OpenedAt), formatTime(h.ClosedAt), h.PnL, h.PnLPercent, string(h.Reason), boolInt(h.Auto),
	); err != nil {
		return fmt.Errorf("storage.RecordClose: insert trade %s: %w", h.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE positions SET status = 'CLOSED' WHERE id = ?`, h.ID,
	); err != nil {
		return fmt.Errorf("storage.RecordClose: update position %s: %w", h.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.RecordClose: commit: %w", err)
	}
	return nil
}

// SaveBalance appends a balance snapshot.
func (l *SQLiteLedger) SaveBalance(ctx context.Context, b domain.BalanceSnapshot) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO balances (balance, initial_balance, equity, at) VALUES (?, ?, ?, ?)`,
		b.Balance, b.InitialBalance, b.Equity, formatTime(b.At),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveBalance: %w", err)
	}
	return nil
}

// LatestBalance returns the most recent snapshot, ok=false if none.
func (l *SQLiteLedger) LatestBalance(ctx context.Context) (domain.BalanceSnapshot, bool, error) {
	var b domain.BalanceSnapshot
	var at string
	err := l.db.QueryRowContext(ctx,
		`SELECT balance, initial_balance, equity, at FROM balances ORDER BY id DESC LIMIT 1`,
	).Scan(&b.Balance, &b.InitialBalance, &b.Equity, &at)
	if err == sql.ErrNoRows {
		return b, false, nil
	}
	if err != nil {
		return b, false, fmt.Errorf("storage.LatestBalance: %w", err)
	}
	b.At = parseTime(at)
	return b, true, nil
}

// LoadHistory returns the last limit trades, oldest first (limit 0 = all).
func (l *SQLiteLedger) LoadHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: sin límite
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, symbol, direction, notional, leverage, open_price, close_price,
		       opened_at, closed_at, pnl, pnl_pct, reason, auto
		FROM trades
		ORDER BY closed_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadHistory: query: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		var dir, reason, openedAt, closedAt string
		var auto int
		if err := rows.Scan(
			&h.ID, &h.Symbol, &dir, &h.Notional, &h.Leverage, &h.OpenPrice, &h.ClosePrice,
			&openedAt, &closedAt, &h.PnL, &h.PnLPercent, &reason, &auto,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadHistory: scan row: %w", err)
		}
		h.Direction = domain.Direction(dir)
		h.Reason = domain.CloseReason(reason)
		h.OpenedAt = parseTime(openedAt)
		h.ClosedAt = parseTime(closedAt)
		h.Auto = auto == 1
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.LoadHistory: rows: %w", err)
	}

	// query is newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Stats summarizes every persisted trade.
func (l *SQLiteLedger) Stats(ctx context.Context) (domain.TradeStats, error) {
	history, err := l.LoadHistory(ctx, 0)
	if err != nil {
		return domain.TradeStats{}, fmt.Errorf("storage.Stats: %w", err)
	}
	return domain.Summarize(history), nil
}

// Reset wipes all tables.
func (l *SQLiteLedger) Reset(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Reset: begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"positions", "trades", "balances"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("storage.Reset: clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Reset: commit: %w", err)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// --- helpers internos ---

// pruneOld elimina snapshots de balance antiguos para mantener la DB ligera.
func (l *SQLiteLedger) pruneOld(ctx context.Context) {
	cutoff := formatTime(time.Now().Add(-retentionBalances))
	l.db.ExecContext(ctx, `DELETE FROM balances WHERE at < ?`, cutoff)
}

// formatTime usa un layout de ancho fijo para que el orden lexicográfico
// coincida con el cronológico.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
