package signal

import (
	"math"

	"crypto-paper-trader/internal/domain"
)

// Gate is a confidence/return threshold pair. Return comparison is always
// strict; confidence comparison is strict when StrictConfidence is set.
type Gate struct {
	MinConfidence    float64 `json:"min_confidence"`
	MinReturn        float64 `json:"min_return"`
	StrictConfidence bool    `json:"strict_confidence"`
}

// GenerationGate is used for on-demand signal display.
func GenerationGate(minConfidence, minReturn float64) Gate {
	return Gate{MinConfidence: minConfidence, MinReturn: minReturn}
}

// ExecutionGate authorizes automatic order placement.
func ExecutionGate(confidence, ret float64) Gate {
	return Gate{MinConfidence: confidence, MinReturn: ret, StrictConfidence: true}
}

func (g Gate) confident(confidence float64) bool {
	if g.StrictConfidence {
		return confidence > g.MinConfidence
	}
	return confidence >= g.MinConfidence
}

// Action maps a confidence and predicted return to buy, sell or hold.
func (g Gate) Action(confidence, predictedReturn float64) domain.SignalAction {
	if !g.confident(confidence) {
		return domain.ActionHold
	}
	switch {
	case predictedReturn > g.MinReturn:
		return domain.ActionBuy
	case predictedReturn < -g.MinReturn:
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

// Passes reports whether a non-hold decision clears the gate in either direction.
func (g Gate) Passes(confidence, predictedReturn float64) bool {
	return g.confident(confidence) && math.Abs(predictedReturn) > g.MinReturn
}

// Levels holds stop-loss and take-profit distances as fractions of entry.
type Levels struct {
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
}

// Prices returns the stop-loss and take-profit prices for a side.
func (l Levels) Prices(side domain.PositionSide, entry float64) (stopLoss, takeProfit float64) {
	if side == domain.SideShort {
		return entry * (1 + l.StopLossPct), entry * (1 - l.TakeProfitPct)
	}
	return entry * (1 - l.StopLossPct), entry * (1 + l.TakeProfitPct)
}

type Generator struct {
	generation Gate
	execution  Gate
	levels     Levels
}

func NewGenerator(generation, execution Gate, levels Levels) *Generator {
	return &Generator{generation: generation, execution: execution, levels: levels}
}

// Generate applies the generation gate.
func (g *Generator) Generate(pred domain.Prediction, currentPrice float64) domain.TradingSignal {
	return g.Decide(pred, currentPrice, g.generation)
}

// GenerateForExecution applies the execution gate.
func (g *Generator) GenerateForExecution(pred domain.Prediction, currentPrice float64) domain.TradingSignal {
	return g.Decide(pred, currentPrice, g.execution)
}

// Authorized reports whether a signal may be placed automatically.
func (g *Generator) Authorized(sig domain.TradingSignal) bool {
	return sig.Action != domain.ActionHold && g.execution.Passes(sig.Confidence, sig.PredictedReturn)
}

func (g *Generator) Decide(pred domain.Prediction, currentPrice float64, gate Gate) domain.TradingSignal {
	sig := domain.TradingSignal{
		Symbol:          pred.Symbol,
		Action:          gate.Action(pred.ConfidenceScore, pred.PredictedReturn),
		Confidence:      pred.ConfidenceScore,
		Price:           currentPrice,
		PredictedReturn: pred.PredictedReturn,
		Timestamp:       pred.Timestamp,
	}
	if side, ok := domain.SideForAction(sig.Action); ok {
		sl, tp := g.levels.Prices(side, currentPrice)
		sig.StopLoss = &sl
		sig.TakeProfit = &tp
	}
	return sig
}

func (g *Generator) Levels() Levels {
	return g.levels
}
