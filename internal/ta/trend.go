package ta

import (
	"math"

	"crypto-paper-trader/internal/domain"
)

const (
	trendWindow          = 20
	supportWindow        = 10
	trendChangeThreshold = 0.02
)

// Trend classifies recent price action.
type Trend struct {
	Direction  domain.TrendDirection `json:"direction"`
	Strength   float64               `json:"strength"`
	Change     float64               `json:"change"`
	Support    float64               `json:"support"`
	Resistance float64               `json:"resistance"`
}

// AnalyzeTrend looks at the trailing closes, oldest first.
func AnalyzeTrend(closes []float64) Trend {
	if len(closes) == 0 {
		return Trend{Direction: domain.TrendSideways}
	}
	window := tail(closes, trendWindow)
	first := window[0]
	last := window[len(window)-1]

	change := 0.0
	if first != 0 {
		change = (last - first) / first
	}

	direction := domain.TrendSideways
	switch {
	case change > trendChangeThreshold:
		direction = domain.TrendBullish
	case change < -trendChangeThreshold:
		direction = domain.TrendBearish
	}

	recent := tail(closes, supportWindow)
	support, resistance := recent[0], recent[0]
	for _, c := range recent[1:] {
		support = math.Min(support, c)
		resistance = math.Max(resistance, c)
	}

	return Trend{
		Direction:  direction,
		Strength:   math.Min(math.Abs(change)*10, 1),
		Change:     change,
		Support:    support,
		Resistance: resistance,
	}
}

// Closes extracts close prices from candles.
func Closes(candles []*domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
