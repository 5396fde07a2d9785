package domain

import "math"

// TradeStats aggregates closed trades for reports.
type TradeStats struct {
	Trades       int
	Wins         int
	Losses       int
	WinRate      float64 // 0–100
	TotalPnL     float64
	AvgPnL       float64
	BestTrade    float64
	WorstTrade   float64
	ProfitFactor float64 // gross win / gross loss, +Inf with no losses
	LossStreak   int
}

// Summarize computes TradeStats over history (oldest first).
func Summarize(history []HistoryEntry) TradeStats {
	var s TradeStats
	if len(history) == 0 {
		return s
	}
	grossWin, grossLoss := 0.0, 0.0
	s.BestTrade = math.Inf(-1)
	s.WorstTrade = math.Inf(1)
	for _, h := range history {
		s.Trades++
		s.TotalPnL += h.PnL
		if h.PnL > 0 {
			s.Wins++
			grossWin += h.PnL
		} else if h.PnL < 0 {
			s.Losses++
			grossLoss += -h.PnL
		}
		s.BestTrade = math.Max(s.BestTrade, h.PnL)
		s.WorstTrade = math.Min(s.WorstTrade, h.PnL)
	}
	s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	s.AvgPnL = s.TotalPnL / float64(s.Trades)
	switch {
	case grossLoss > 0:
		s.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		s.ProfitFactor = math.Inf(1)
	}
	s.LossStreak = ConsecutiveLosses(history, 0)
	return s
}
