package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier escribiendo una línea por evento.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool // no imprime rechazos
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(quiet bool) *Console {
	return &Console{out: os.Stdout, quiet: quiet}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, quiet bool) *Console {
	return &Console{out: w, quiet: quiet}
}

// Opened imprime la apertura de una posición.
func (c *Console) Opened(_ context.Context, ev domain.OpenedEvent) {
	mode := "AUTO"
	if !ev.Auto {
		mode = "MANUAL"
	}
	c.printf("[%s][OPEN] %s %s %s $%.2f @ %s | SL %s | TP %s | x%.0f\n",
		ev.Timestamp.Format("15:04:05"), mode, ev.Symbol, ev.Direction,
		ev.Notional, price(ev.OpenPrice), price(ev.Stop), targetsLabel(ev.Targets), ev.Leverage)
}

// Closed imprime el cierre con su P&L.
func (c *Console) Closed(_ context.Context, ev domain.ClosedEvent) {
	sign := "+"
	if ev.PnL < 0 {
		sign = "-"
	}
	c.printf("[%s][CLOSE] %s @ %s | %s | %s$%.2f (%+.2f%%)\n",
		ev.Timestamp.Format("15:04:05"), ev.Symbol, price(ev.ClosePrice), ev.Reason,
		sign, math.Abs(ev.PnL), ev.PnLPercent)
}

// Rejected imprime por qué no se abrió una señal.
func (c *Console) Rejected(_ context.Context, r domain.Rejection) {
	if c.quiet {
		return
	}
	c.printf("[%s][SKIP] %s\n", r.At.Format("15:04:05"), r.String())
}

// Halted imprime el disparo del circuit breaker.
func (c *Console) Halted(_ context.Context, st domain.Status) {
	c.printf("\n!! ENGINE HALTED (%s) | drawdown %.2f%% | balance $%.2f | equity $%.2f\n\n",
		st.HaltReason, st.DrawdownPct, st.Balance, st.Equity)
}

// PrintStatus imprime el estado del engine y una tabla de posiciones abiertas.
func (c *Console) PrintStatus(st domain.Status, positions []domain.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := "ENABLED"
	switch {
	case st.Halted:
		state = "HALTED (" + st.HaltReason + ")"
	case !st.Enabled:
		state = "DISABLED"
	}
	fmt.Fprintf(c.out, "\n=== AUTOPILOT %s ===\n", state)
	fmt.Fprintf(c.out, "  Balance:   $%.2f (initial $%.2f)\n", st.Balance, st.InitialBalance)
	fmt.Fprintf(c.out, "  Equity:    $%.2f | locked $%.2f | drawdown %.2f%%\n", st.Equity, st.Locked, st.DrawdownPct)
	fmt.Fprintf(c.out, "  Positions: %d open | loss streak %d\n", st.OpenPositions, st.LossStreak)
	if st.LastRejection != nil {
		fmt.Fprintf(c.out, "  Last skip: %s\n", st.LastRejection.String())
	}

	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  (no open positions)")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Symbol", "Dir", "Notional", "Open", "Last", "SL", "TP", "PnL", "Held")
	for _, p := range positions {
		table.Append(
			shortID(p.ID),
			p.Symbol,
			string(p.Direction),
			fmt.Sprintf("$%.2f", p.Notional),
			price(p.OpenPrice),
			price(p.CurrentPrice),
			price(p.Stop()),
			targetsLabel(p.Targets()),
			fmt.Sprintf("%+.2f (%+.2f%%)", p.PnLAt(p.CurrentPrice), p.PnLPercentAt(p.CurrentPrice)),
			p.Held(st.UpdatedAt).Truncate(time.Second).String(),
		)
	}
	table.Render()
}

// PrintReport imprime las estadísticas agregadas y los últimos trades.
func (c *Console) PrintReport(stats domain.TradeStats, recent []domain.HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n=== TRADE REPORT (%d trades) ===\n", stats.Trades)
	if stats.Trades == 0 {
		fmt.Fprintln(c.out, "  No closed trades yet")
		return
	}

	pf := fmt.Sprintf("%.2f", stats.ProfitFactor)
	if math.IsInf(stats.ProfitFactor, 1) {
		pf = "INF"
	}
	fmt.Fprintf(c.out, "  Win rate:      %.1f%% (%dW / %dL)\n", stats.WinRate, stats.Wins, stats.Losses)
	fmt.Fprintf(c.out, "  Total PnL:     $%.2f | avg $%.2f\n", stats.TotalPnL, stats.AvgPnL)
	fmt.Fprintf(c.out, "  Best / worst:  $%.2f / $%.2f\n", stats.BestTrade, stats.WorstTrade)
	fmt.Fprintf(c.out, "  Profit factor: %s | current loss streak %d\n", pf, stats.LossStreak)

	if len(recent) == 0 {
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Closed", "Symbol", "Dir", "Notional", "Open", "Close", "PnL", "Reason")
	for _, h := range recent {
		table.Append(
			h.ClosedAt.Format("01-02 15:04"),
			h.Symbol,
			string(h.Direction),
			fmt.Sprintf("$%.2f", h.Notional),
			price(h.OpenPrice),
			price(h.ClosePrice),
			fmt.Sprintf("%+.2f (%+.2f%%)", h.PnL, h.PnLPercent),
			string(h.Reason),
		)
	}
	table.Render()
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// --- helpers ---

// price formatea con más decimales para precios pequeños (altcoins).
func price(v float64) string {
	switch {
	case v == 0:
		return "-"
	case v >= 100:
		return fmt.Sprintf("%.2f", v)
	case v >= 1:
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprintf("%.6f", v)
	}
}

func targetsLabel(targets []float64) string {
	if len(targets) == 0 {
		return "-"
	}
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = price(t)
	}
	return strings.Join(parts, "/")
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
