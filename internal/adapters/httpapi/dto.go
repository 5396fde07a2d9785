package httpapi

import (
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/autopilot/internal/application/engine"
	"github.com/alejandrodnm/autopilot/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type signalRequest struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Entry      float64   `json:"entry"`
	Stop       float64   `json:"stop"`
	Targets    []float64 `json:"targets"`
	Confidence float64   `json:"confidence"` // [0,1], or percent when > 1
	EmittedAt  time.Time `json:"emitted_at"`
	Forced     bool      `json:"forced"`
}

func (r signalRequest) toSignal(now time.Time) (domain.Signal, error) {
	dir, err := domain.ParseDirection(r.Direction)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignal, err)
	}
	conf := r.Confidence
	if conf > 1 && conf <= 100 {
		conf /= 100
	}
	at := r.EmittedAt
	if at.IsZero() {
		at = now
	}
	sig := domain.Signal{
		Symbol:     r.Symbol,
		Direction:  dir,
		Entry:      r.Entry,
		Stop:       r.Stop,
		Targets:    r.Targets,
		Confidence: conf,
		EmittedAt:  at,
		Forced:     r.Forced,
	}
	if err := sig.Validate(); err != nil {
		return domain.Signal{}, err
	}
	return sig, nil
}

type manualOrderRequest struct {
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	Price       float64   `json:"price"`
	SizePercent float64   `json:"size_percent"`
	Leverage    float64   `json:"leverage"`
	Stop        float64   `json:"stop"`
	Targets     []float64 `json:"targets"`
}

func (r manualOrderRequest) toOrder() (engine.ManualOrder, error) {
	dir, err := domain.ParseDirection(r.Direction)
	if err != nil {
		return engine.ManualOrder{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignal, err)
	}
	return engine.ManualOrder{
		Symbol:      r.Symbol,
		Direction:   dir,
		Price:       r.Price,
		SizePercent: r.SizePercent,
		Leverage:    r.Leverage,
		Stop:        r.Stop,
		Targets:     r.Targets,
	}, nil
}

type overrideRequest struct {
	Stop    *float64  `json:"stop"`
	Targets []float64 `json:"targets"`
}

type resetRequest struct {
	Balance float64 `json:"balance"`
}

type disableRequest struct {
	Reason string `json:"reason"`
}

type rejectionDTO struct {
	Symbol string    `json:"symbol"`
	Reason string    `json:"reason"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

type statusDTO struct {
	Enabled        bool          `json:"enabled"`
	Halted         bool          `json:"halted"`
	HaltReason     string        `json:"halt_reason,omitempty"`
	Balance        float64       `json:"balance"`
	InitialBalance float64       `json:"initial_balance"`
	Equity         float64       `json:"equity"`
	Locked         float64       `json:"locked"`
	DrawdownPct    float64       `json:"drawdown_pct"`
	OpenPositions  int           `json:"open_positions"`
	LossStreak     int           `json:"loss_streak"`
	LastRejection  *rejectionDTO `json:"last_rejection,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func toStatusDTO(st domain.Status) statusDTO {
	out := statusDTO{
		Enabled:        st.Enabled,
		Halted:         st.Halted,
		HaltReason:     st.HaltReason,
		Balance:        st.Balance,
		InitialBalance: st.InitialBalance,
		Equity:         st.Equity,
		Locked:         st.Locked,
		DrawdownPct:    st.DrawdownPct,
		OpenPositions:  st.OpenPositions,
		LossStreak:     st.LossStreak,
		UpdatedAt:      st.UpdatedAt,
	}
	if r := st.LastRejection; r != nil {
		out.LastRejection = &rejectionDTO{Symbol: r.Symbol, Reason: string(r.Reason), Detail: r.Detail, At: r.At}
	}
	return out
}

type positionDTO struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"`
	Notional     float64   `json:"notional"`
	Leverage     float64   `json:"leverage"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	Stop         float64   `json:"stop"`
	Targets      []float64 `json:"targets"`
	PnL          float64   `json:"pnl"`
	PnLPercent   float64   `json:"pnl_pct"`
	Auto         bool      `json:"auto"`
	State        string    `json:"state"`
	OpenedAt     time.Time `json:"opened_at"`
}

func toPositionDTO(p domain.Position) positionDTO {
	targets := p.Targets()
	if targets == nil {
		targets = []float64{}
	}
	return positionDTO{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Direction:    string(p.Direction),
		Notional:     p.Notional,
		Leverage:     p.Leverage,
		OpenPrice:    p.OpenPrice,
		CurrentPrice: p.CurrentPrice,
		Stop:         p.Stop(),
		Targets:      targets,
		PnL:          p.PnLAt(p.CurrentPrice),
		PnLPercent:   p.PnLPercentAt(p.CurrentPrice),
		Auto:         p.Auto,
		State:        string(p.State),
		OpenedAt:     p.OpenedAt,
	}
}

type tradeDTO struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Notional   float64   `json:"notional"`
	Leverage   float64   `json:"leverage"`
	OpenPrice  float64   `json:"open_price"`
	ClosePrice float64   `json:"close_price"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_pct"`
	Reason     string    `json:"reason"`
	Auto       bool      `json:"auto"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

func toTradeDTO(h domain.HistoryEntry) tradeDTO {
	return tradeDTO{
		ID:         h.ID,
		Symbol:     h.Symbol,
		Direction:  string(h.Direction),
		Notional:   h.Notional,
		Leverage:   h.Leverage,
		OpenPrice:  h.OpenPrice,
		ClosePrice: h.ClosePrice,
		PnL:        h.PnL,
		PnLPercent: h.PnLPercent,
		Reason:     string(h.Reason),
		Auto:       h.Auto,
		OpenedAt:   h.OpenedAt,
		ClosedAt:   h.ClosedAt,
	}
}

type statsDTO struct {
	Trades       int      `json:"trades"`
	Wins         int      `json:"wins"`
	Losses       int      `json:"losses"`
	WinRate      float64  `json:"win_rate"`
	TotalPnL     float64  `json:"total_pnl"`
	AvgPnL       float64  `json:"avg_pnl"`
	BestTrade    float64  `json:"best_trade"`
	WorstTrade   float64  `json:"worst_trade"`
	ProfitFactor *float64 `json:"profit_factor"` // null when there are no losses
	LossStreak   int      `json:"loss_streak"`
}

func toStatsDTO(s domain.TradeStats) statsDTO {
	out := statsDTO{
		Trades:     s.Trades,
		Wins:       s.Wins,
		Losses:     s.Losses,
		WinRate:    s.WinRate,
		TotalPnL:   s.TotalPnL,
		AvgPnL:     s.AvgPnL,
		BestTrade:  s.BestTrade,
		WorstTrade: s.WorstTrade,
		LossStreak: s.LossStreak,
	}
	if !math.IsInf(s.ProfitFactor, 0) && !math.IsNaN(s.ProfitFactor) {
		pf := s.ProfitFactor
		out.ProfitFactor = &pf
	}
	return out
}

type historyResponse struct {
	Trades []tradeDTO `json:"trades"`
	Stats  statsDTO   `json:"stats"`
}
