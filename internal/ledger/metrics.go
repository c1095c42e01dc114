package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"crypto-paper-trader/internal/domain"
)

// ComputeMetrics summarizes closed trades. Drawdown is found by replaying net
// P&L in close order starting from initialBalance.
func ComputeMetrics(trades []*domain.PaperTrade, initialBalance float64) domain.PerformanceMetrics {
	closed := make([]*domain.PaperTrade, 0, len(trades))
	for _, t := range trades {
		if t.Status == domain.StatusClosed && t.NetPnL != nil {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closedAt(closed[i]).Before(closedAt(closed[j]))
	})

	var m domain.PerformanceMetrics
	m.TotalTrades = len(closed)

	gross, net, fees := decimal.Zero, decimal.Zero, decimal.Zero
	wins, losses := decimal.Zero, decimal.Zero
	running := decimal.NewFromFloat(initialBalance)
	peak := running
	maxDD := decimal.Zero

	for _, t := range closed {
		n := decimal.NewFromFloat(*t.NetPnL)
		if t.GrossPnL != nil {
			gross = gross.Add(decimal.NewFromFloat(*t.GrossPnL))
		}
		net = net.Add(n)
		fees = fees.Add(decimal.NewFromFloat(t.Fees))

		switch n.Sign() {
		case 1:
			m.WinningTrades++
			wins = wins.Add(n)
		case -1:
			m.LosingTrades++
			losses = losses.Add(n)
		}

		running = running.Add(n)
		if running.GreaterThan(peak) {
			peak = running
		}
		if peak.IsPositive() {
			dd := peak.Sub(running).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = wins.Div(decimal.NewFromInt(int64(m.WinningTrades))).InexactFloat64()
	}
	if m.LosingTrades > 0 {
		avgLoss := losses.Div(decimal.NewFromInt(int64(m.LosingTrades)))
		m.AvgLoss = avgLoss.InexactFloat64()
		m.ProfitFactor = decimal.NewFromFloat(m.AvgWin).Div(avgLoss.Abs()).InexactFloat64()
	}
	m.TotalPnL = gross.InexactFloat64()
	m.NetPnL = net.InexactFloat64()
	m.TotalFees = fees.InexactFloat64()
	m.MaxDrawdown = maxDD.InexactFloat64()
	m.CurrentBalance = decimal.NewFromFloat(initialBalance).Add(net).InexactFloat64()
	return m
}

func closedAt(t *domain.PaperTrade) time.Time {
	if t.ClosedAt != nil {
		return *t.ClosedAt
	}
	return t.OpenedAt
}
