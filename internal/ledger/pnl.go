package ledger

import (
	"github.com/shopspring/decimal"

	"crypto-paper-trader/internal/domain"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Fee charges feeBps basis points on a notional amount.
func Fee(notional, feeBps float64) float64 {
	return decimal.NewFromFloat(notional).
		Mul(decimal.NewFromFloat(feeBps)).
		Div(bpsDivisor).
		InexactFloat64()
}

// Settlement is the outcome of closing a position at a given price.
type Settlement struct {
	ExitFee  float64
	Fees     float64
	GrossPnL float64
	NetPnL   float64
}

// Settle computes gross and net P&L. Net is gross minus entry and exit fees.
func Settle(side domain.PositionSide, entry, exit, quantity, entryFee, feeBps float64) Settlement {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	q := decimal.NewFromFloat(quantity)

	gross := x.Sub(e).Mul(q)
	if side == domain.SideShort {
		gross = e.Sub(x).Mul(q)
	}
	exitFee := x.Mul(q).Mul(decimal.NewFromFloat(feeBps)).Div(bpsDivisor)
	fees := decimal.NewFromFloat(entryFee).Add(exitFee)

	return Settlement{
		ExitFee:  exitFee.InexactFloat64(),
		Fees:     fees.InexactFloat64(),
		GrossPnL: gross.InexactFloat64(),
		NetPnL:   gross.Sub(fees).InexactFloat64(),
	}
}

// breach reports whether price crosses the trade's stop-loss or take-profit.
// Stop-loss wins when both are crossed.
func breach(t *domain.PaperTrade, price float64) (domain.ExitReason, bool) {
	long := t.Side == domain.SideLong
	if sl := t.StopLossPrice; sl != nil {
		if (long && price <= *sl) || (!long && price >= *sl) {
			return domain.ExitStopLoss, true
		}
	}
	if tp := t.TakeProfitPrice; tp != nil {
		if (long && price >= *tp) || (!long && price <= *tp) {
			return domain.ExitTakeProfit, true
		}
	}
	return "", false
}
