package domain

import "time"

type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Opposite returns the other side of the book.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// SideForAction maps a non-hold action to the position side it opens.
func SideForAction(a SignalAction) (PositionSide, bool) {
	switch a {
	case ActionBuy:
		return SideLong, true
	case ActionSell:
		return SideShort, true
	default:
		return "", false
	}
}

type TradeStatus string

const (
	StatusOpen   TradeStatus = "open"
	StatusClosed TradeStatus = "closed"
)

type ExitReason string

const (
	ExitManual          ExitReason = "manual"
	ExitStopLoss        ExitReason = "stop_loss"
	ExitTakeProfit      ExitReason = "take_profit"
	ExitSignalChange    ExitReason = "signal_change"
	ExitIntelligentExit ExitReason = "intelligent_exit"
)

func (r ExitReason) IsValid() bool {
	switch r {
	case ExitManual, ExitStopLoss, ExitTakeProfit, ExitSignalChange, ExitIntelligentExit:
		return true
	default:
		return false
	}
}

type TrendDirection string

const (
	TrendBullish  TrendDirection = "bullish"
	TrendBearish  TrendDirection = "bearish"
	TrendSideways TrendDirection = "sideways"
)

// Prediction is a scored forecast for one symbol over a horizon.
type Prediction struct {
	ID              int64     `json:"id,omitempty"`
	Symbol          string    `json:"symbol"`
	Timestamp       time.Time `json:"timestamp"`
	HorizonHours    int       `json:"horizon_hours"`
	CurrentPrice    float64   `json:"current_price"`
	PredictedPrice  float64   `json:"predicted_price"`
	PredictedReturn float64   `json:"predicted_return"`
	ConfidenceScore float64   `json:"confidence_score"`
	QuantileLow     float64   `json:"quantile_low"`
	QuantileHigh    float64   `json:"quantile_high"`
	Neutral         bool      `json:"neutral"`
}

// TradingSignal is the discrete decision derived from a Prediction.
type TradingSignal struct {
	Symbol          string       `json:"symbol"`
	Action          SignalAction `json:"action"`
	Confidence      float64      `json:"confidence"`
	Price           float64      `json:"price"`
	PredictedReturn float64      `json:"predicted_return"`
	StopLoss        *float64     `json:"stop_loss,omitempty"`
	TakeProfit      *float64     `json:"take_profit,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// PaperTrade is a simulated position owned by the ledger.
type PaperTrade struct {
	ID              string       `json:"id"`
	Symbol          string       `json:"symbol"`
	Side            PositionSide `json:"side"`
	EntryPrice      float64      `json:"entry_price"`
	Quantity        float64      `json:"quantity"`
	EntryFee        float64      `json:"entry_fee"`
	Fees            float64      `json:"fees"`
	StopLossPrice   *float64     `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64     `json:"take_profit_price,omitempty"`
	Status          TradeStatus  `json:"status"`
	OpenedAt        time.Time    `json:"opened_at"`
	ExitPrice       *float64     `json:"exit_price,omitempty"`
	GrossPnL        *float64     `json:"gross_pnl,omitempty"`
	NetPnL          *float64     `json:"net_pnl,omitempty"`
	ExitReason      *ExitReason  `json:"exit_reason,omitempty"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
}

func (t *PaperTrade) IsOpen() bool {
	return t.Status == StatusOpen
}

// PerformanceMetrics is recomputed from closed trades over a trailing window.
type PerformanceMetrics struct {
	WindowDays     int     `json:"window_days"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	TotalPnL       float64 `json:"total_pnl"`
	NetPnL         float64 `json:"net_pnl"`
	TotalFees      float64 `json:"total_fees"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	ProfitFactor   float64 `json:"profit_factor"`
	CurrentBalance float64 `json:"current_balance"`
}
