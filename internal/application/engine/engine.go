package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/alejandrodnm/autopilot/internal/ports"
	"github.com/google/uuid"
)

const (
	defaultInitialBalance = 10000
	defaultMinConfidence  = 80
	defaultMaxConcurrent  = 3
	defaultMaxPerSymbol   = 1
	defaultMaxExposure    = 0.50
	defaultCooldown       = 5 * time.Minute
	defaultMinHold        = 60 * time.Second
	defaultTickBuffer     = 64
)

// Config holds the risk and exit parameters of the engine.
type Config struct {
	InitialBalance float64

	RiskFraction     float64 // risked to the stop, capped at 3%
	FallbackFraction float64 // flat size without a usable stop
	MaxAssetFraction float64 // single-position concentration cap
	Leverage         float64 // informational only

	MinConfidence       float64 // 0–100
	LongConfidenceBonus float64 // extra points required for LONG
	AllowedDirections   []domain.Direction
	MaxConcurrent       int
	MaxPerSymbol        int
	MaxExposureFraction float64 // locked notional / equity

	Cooldown            time.Duration
	CooldownFloor       time.Duration
	LossStreakThreshold int
	LossStreakWindow    int // 0 = whole history

	MaxDailyLossPct float64 // 0 disables the drawdown breaker

	Exit domain.ExitRules

	TickBuffer int // per-symbol lane capacity
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialBalance:      defaultInitialBalance,
		RiskFraction:        domain.DefaultRiskFraction,
		FallbackFraction:    domain.DefaultFallbackFraction,
		MaxAssetFraction:    domain.DefaultMaxAssetFraction,
		Leverage:            1,
		MinConfidence:       defaultMinConfidence,
		AllowedDirections:   []domain.Direction{domain.Long, domain.Short},
		MaxConcurrent:       defaultMaxConcurrent,
		MaxPerSymbol:        defaultMaxPerSymbol,
		MaxExposureFraction: defaultMaxExposure,
		Cooldown:            defaultCooldown,
		CooldownFloor:       domain.DefaultCooldownFloor,
		LossStreakThreshold: domain.DefaultLossStreakThreshold,
		Exit: domain.ExitRules{
			MinHold:          defaultMinHold,
			AutoCloseMinHold: defaultMinHold,
		},
		TickBuffer: defaultTickBuffer,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.InitialBalance <= 0 {
		c.InitialBalance = d.InitialBalance
	}
	if c.Leverage < 1 {
		c.Leverage = 1
	}
	if len(c.AllowedDirections) == 0 {
		c.AllowedDirections = d.AllowedDirections
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxPerSymbol <= 0 {
		c.MaxPerSymbol = d.MaxPerSymbol
	}
	if c.MaxExposureFraction <= 0 {
		c.MaxExposureFraction = d.MaxExposureFraction
	}
	if c.CooldownFloor <= 0 {
		c.CooldownFloor = d.CooldownFloor
	}
	if c.LossStreakThreshold <= 0 {
		c.LossStreakThreshold = d.LossStreakThreshold
	}
	if c.TickBuffer <= 0 {
		c.TickBuffer = d.TickBuffer
	}
}

// riskState is the single owned account state. Guarded by Engine.mu.
type riskState struct {
	balance       float64
	initial       float64
	positions     map[string]*domain.Position // by ID
	lastOpen      map[string]time.Time        // by symbol
	history       []domain.HistoryEntry       // oldest first, append-only
	breaker       domain.DrawdownBreaker
	enabled       bool
	haltReason    string
	lastRejection *domain.Rejection
}

// Engine runs the position lifecycle: admission, monitoring, closing and the
// account-level circuit breakers.
type Engine struct {
	cfg       Config
	ledger    ports.Ledger
	notifiers []ports.Notifier
	cooldown  domain.CooldownPolicy

	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	state riskState

	// sinkMu orders flushes: it is taken before mu is released, so the
	// ledger and notifiers see events in the order the state changed.
	sinkMu sync.Mutex

	lanesMu sync.Mutex
	lanes   map[string]chan domain.PriceTick
	lanesWg sync.WaitGroup
}

// New creates an enabled engine. ledger may be nil (no persistence).
func New(cfg Config, ledger ports.Ledger, notifiers ...ports.Notifier) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:       cfg,
		ledger:    ledger,
		notifiers: notifiers,
		cooldown: domain.CooldownPolicy{
			Base:      cfg.Cooldown,
			Floor:     cfg.CooldownFloor,
			Threshold: cfg.LossStreakThreshold,
			Window:    cfg.LossStreakWindow,
		},
		now:   time.Now,
		newID: uuid.NewString,
		lanes: make(map[string]chan domain.PriceTick),
	}
	e.state = newRiskState(cfg.InitialBalance, cfg.MaxDailyLossPct)
	return e
}

func newRiskState(balance, maxLossPct float64) riskState {
	return riskState{
		balance:   balance,
		initial:   balance,
		positions: make(map[string]*domain.Position),
		lastOpen:  make(map[string]time.Time),
		breaker:   domain.DrawdownBreaker{MaxLossPct: maxLossPct},
		enabled:   true,
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// SeedHistory loads previously closed trades so the loss-streak governor
// survives restarts. It does not touch the balance.
func (e *Engine) SeedHistory(history []domain.HistoryEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.history = append(append([]domain.HistoryEntry(nil), history...), e.state.history...)
}

// Enable resumes admissions. Refused while the drawdown breaker is latched.
func (e *Engine) Enable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.breaker.Fired {
		return fmt.Errorf("engine.Enable: %w: %s", domain.ErrEngineHalted, e.state.haltReason)
	}
	e.state.enabled = true
	e.state.haltReason = ""
	slog.Info("engine: enabled")
	return nil
}

// Disable stops admitting signals. Open positions keep being monitored.
func (e *Engine) Disable(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.enabled = false
	if e.state.haltReason == "" {
		e.state.haltReason = reason
	}
	slog.Info("engine: disabled", "reason", reason)
}

// Reset starts a new session: positions, history and cooldowns are dropped,
// the balance and drawdown baseline become balance and the breaker re-arms.
// The enabled flag is left as is.
func (e *Engine) Reset(ctx context.Context, balance float64) error {
	if balance <= 0 {
		balance = e.cfg.InitialBalance
	}

	e.mu.Lock()
	enabled := e.state.enabled && !e.state.breaker.Fired
	dropped := len(e.state.positions)
	e.state = newRiskState(balance, e.cfg.MaxDailyLossPct)
	e.state.enabled = enabled
	snap := e.balanceSnapshotLocked()
	done := e.handoff()
	defer done()

	slog.Info("engine: account reset", "balance", fmt.Sprintf("$%.2f", balance), "dropped_positions", dropped)

	if e.ledger == nil {
		return nil
	}
	if err := e.ledger.Reset(ctx); err != nil {
		return fmt.Errorf("engine.Reset: ledger: %w", err)
	}
	if err := e.ledger.SaveBalance(ctx, snap); err != nil {
		slog.Warn("engine: error saving balance", "err", err)
	}
	return nil
}

// Status returns the current telemetry snapshot.
func (e *Engine) Status() domain.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() domain.Status {
	locked := e.lockedLocked()
	equity := e.state.balance + locked
	st := domain.Status{
		Enabled:        e.state.enabled,
		Halted:         e.state.breaker.Fired,
		HaltReason:     e.state.haltReason,
		Balance:        e.state.balance,
		InitialBalance: e.state.initial,
		Equity:         equity,
		Locked:         locked,
		DrawdownPct:    domain.DrawdownPct(equity, e.state.initial),
		OpenPositions:  len(e.state.positions),
		LossStreak:     domain.ConsecutiveLosses(e.state.history, e.cfg.LossStreakWindow),
		UpdatedAt:      e.now(),
	}
	if r := e.state.lastRejection; r != nil {
		cp := *r
		st.LastRejection = &cp
	}
	return st
}

// Positions returns copies of the open positions ordered by open time.
func (e *Engine) Positions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps := e.sortedPositionsLocked()
	out := make([]domain.Position, 0, len(ps))
	for _, p := range ps {
		cp := *p
		if p.Override != nil {
			ov := *p.Override
			cp.Override = &ov
		}
		out = append(out, cp)
	}
	return out
}

func sortPositions(ps []*domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}

// History returns a copy of the closed trades, oldest first.
func (e *Engine) History() []domain.HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.HistoryEntry(nil), e.state.history...)
}

// SetOverride replaces the SL/TP of an open position.
func (e *Engine) SetOverride(id string, ov domain.Override) error {
	if ov.Stop != nil && *ov.Stop < 0 {
		return fmt.Errorf("engine.SetOverride: %w: negative stop", domain.ErrInvalidSignal)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.state.positions[id]
	if !ok {
		return fmt.Errorf("engine.SetOverride: %w: %s", domain.ErrPositionNotFound, id)
	}
	if ov.Targets != nil {
		if err := (domain.Signal{Symbol: p.Symbol, Direction: p.Direction, Entry: p.OpenPrice, Targets: ov.Targets}).Validate(); err != nil {
			return fmt.Errorf("engine.SetOverride: %w", err)
		}
		ov.Targets = append([]float64(nil), ov.Targets...)
	}
	p.Override = &ov
	slog.Info("engine: override set", "id", p.ID, "symbol", p.Symbol, "stop", p.Stop(), "targets", p.Targets())
	return nil
}

func (e *Engine) lockedLocked() float64 {
	total := 0.0
	for _, p := range e.state.positions {
		total += p.Notional
	}
	return total
}

func (e *Engine) countSymbolLocked(symbol string) int {
	n := 0
	for _, p := range e.state.positions {
		if p.Symbol == symbol {
			n++
		}
	}
	return n
}

func (e *Engine) balanceSnapshotLocked() domain.BalanceSnapshot {
	return domain.BalanceSnapshot{
		Balance:        e.state.balance,
		InitialBalance: e.state.initial,
		Equity:         e.state.balance + e.lockedLocked(),
		At:             e.now(),
	}
}

// handoff swaps mu for sinkMu. The caller must hold mu and call done once
// its flush is over.
func (e *Engine) handoff() (done func()) {
	e.sinkMu.Lock()
	e.mu.Unlock()
	return e.sinkMu.Unlock
}

// outbox collects the side effects of one critical section. It is flushed to
// the sinks after mu is released, under sinkMu.
type outbox struct {
	opened     []domain.OpenedEvent
	closed     []domain.HistoryEntry
	rejections []domain.Rejection
	halted     *domain.Status
	balance    *domain.BalanceSnapshot
}

func (ob outbox) empty() bool {
	return len(ob.opened) == 0 && len(ob.closed) == 0 && len(ob.rejections) == 0 &&
		ob.halted == nil && ob.balance == nil
}

func (e *Engine) flush(ctx context.Context, ob outbox) {
	for _, ev := range ob.opened {
		if e.ledger != nil {
			if err := e.ledger.RecordOpen(ctx, ev); err != nil {
				slog.Warn("engine: error recording open", "id", ev.ID, "err", err)
			}
		}
		for _, n := range e.notifiers {
			n.Opened(ctx, ev)
		}
	}
	for _, h := range ob.closed {
		if e.ledger != nil {
			if err := e.ledger.RecordClose(ctx, h); err != nil {
				slog.Warn("engine: error recording close", "id", h.ID, "err", err)
			}
		}
		ev := domain.ClosedEventFor(h)
		for _, n := range e.notifiers {
			n.Closed(ctx, ev)
		}
	}
	for _, r := range ob.rejections {
		for _, n := range e.notifiers {
			n.Rejected(ctx, r)
		}
	}
	if ob.balance != nil && e.ledger != nil {
		if err := e.ledger.SaveBalance(ctx, *ob.balance); err != nil {
			slog.Warn("engine: error saving balance", "err", err)
		}
	}
	if ob.halted != nil {
		for _, n := range e.notifiers {
			n.Halted(ctx, *ob.halted)
		}
	}
}

// errNotOpen reports a close attempt on a position that already left OPEN.
func errNotOpen(p *domain.Position) error {
	if p.State == domain.StateClosing {
		return fmt.Errorf("%w: %s", domain.ErrPositionClosing, p.ID)
	}
	return fmt.Errorf("%w: %s is %s", domain.ErrPositionNotFound, p.ID, p.State)
}
