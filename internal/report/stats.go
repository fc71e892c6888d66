package report

import (
	"math"

	"github.com/shopspring/decimal"

	"trading-screener/internal/model"
)

// Summary is the performance of a set of positions.
type Summary struct {
	StrategyID       string  `json:"strategy_id,omitempty"`
	Total            int     `json:"total"`
	Open             int     `json:"open"`
	Wins             int     `json:"wins"`    // TARGET_HIT
	Losses           int     `json:"losses"`  // STOPPED
	Expired          int     `json:"expired"` // EXPIRED
	WinRate          float64 `json:"win_rate"`
	AvgRealizedPct   float64 `json:"avg_realized_pct"`
	TotalRealizedPct float64 `json:"total_realized_pct"`
	BestPct          float64 `json:"best_pct"`
	WorstPct         float64 `json:"worst_pct"`
}

// Closed returns the number of terminal positions.
func (s Summary) Closed() int { return s.Wins + s.Losses + s.Expired }

// Summarize computes win/loss statistics. Win rate is target hits over
// closed positions, in percent; realized figures cover closed positions
// only and are summed with decimal arithmetic.
func Summarize(strategyID string, ps []model.Position) Summary {
	s := Summary{StrategyID: strategyID, Total: len(ps)}
	total := decimal.Zero
	best, worst := math.Inf(-1), math.Inf(1)
	for _, p := range ps {
		switch p.Status {
		case model.StatusOpen:
			s.Open++
			continue
		case model.StatusTargetHit:
			s.Wins++
		case model.StatusStopped:
			s.Losses++
		case model.StatusExpired:
			s.Expired++
		}
		total = total.Add(decimal.NewFromFloat(p.RealizedPct))
		best = math.Max(best, p.RealizedPct)
		worst = math.Min(worst, p.RealizedPct)
	}

	closed := s.Closed()
	if closed == 0 {
		return s
	}
	s.TotalRealizedPct = total.Round(2).InexactFloat64()
	s.AvgRealizedPct = total.Div(decimal.NewFromInt(int64(closed))).Round(2).InexactFloat64()
	s.WinRate = decimal.NewFromInt(int64(s.Wins * 100)).Div(decimal.NewFromInt(int64(closed))).Round(1).InexactFloat64()
	s.BestPct, s.WorstPct = best, worst
	return s
}
