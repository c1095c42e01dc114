package prediction

import (
	"math"

	"crypto-paper-trader/internal/domain"
	"crypto-paper-trader/internal/ta"
)

const (
	SourceRSI       = "rsi"
	SourceEMA       = "ema_alignment"
	SourceBollinger = "bollinger"
	SourceTrend     = "trend"
	SourceMomentum  = "momentum"
)

// Contribution is one named input to the additive score.
type Contribution struct {
	Source          string  `json:"source"`
	ReturnDelta     float64 `json:"return_delta"`
	ConfidenceDelta float64 `json:"confidence_delta"`
	Strength        float64 `json:"strength"`
}

// Contributions lists every non-zero signal for the indicator snapshot.
func Contributions(ind ta.Indicators, trend ta.Trend) []Contribution {
	var out []Contribution
	for _, c := range []Contribution{
		rsiContribution(ind.RSI),
		emaContribution(ind.Price, ind.EMAFast, ind.EMASlow),
		bollingerContribution(ind.Price, ind.BollingerUpper, ind.BollingerLower),
		trendContribution(trend),
		{Source: SourceMomentum, ReturnDelta: ind.Momentum * 0.8},
	} {
		if c.ReturnDelta == 0 && c.ConfidenceDelta == 0 && c.Strength == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

func rsiContribution(rsi float64) Contribution {
	c := Contribution{Source: SourceRSI}
	switch {
	case rsi > 75:
		c.ReturnDelta, c.ConfidenceDelta, c.Strength = -0.025, 0.15, 1.0
	case rsi > 65:
		c.ReturnDelta, c.ConfidenceDelta, c.Strength = -0.015, 0.08, 0.5
	case rsi < 25:
		c.ReturnDelta, c.ConfidenceDelta, c.Strength = 0.025, 0.15, 1.0
	case rsi < 35:
		c.ReturnDelta, c.ConfidenceDelta, c.Strength = 0.015, 0.08, 0.5
	}
	return c
}

// emaContribution only fires when price, fast and slow EMA line up.
func emaContribution(price, fast, slow float64) Contribution {
	c := Contribution{Source: SourceEMA}
	if slow == 0 {
		return c
	}
	spread := math.Abs(fast-slow) / slow
	scale := math.Min(1, 0.5+25*spread)
	switch {
	case price > fast && fast > slow:
		c.ReturnDelta = 0.015 * scale
	case price < fast && fast < slow:
		c.ReturnDelta = -0.015 * scale
	default:
		return c
	}
	c.ConfidenceDelta, c.Strength = 0.10, 1.0
	return c
}

func bollingerContribution(price, upper, lower float64) Contribution {
	c := Contribution{Source: SourceBollinger}
	if price <= 0 {
		return c
	}
	width := (upper - lower) / price
	scale := math.Min(1, 0.5+10*width)
	switch {
	case price > upper:
		c.ReturnDelta = -0.02 * scale
	case price < lower:
		c.ReturnDelta = 0.02 * scale
	default:
		return c
	}
	c.ConfidenceDelta, c.Strength = 0.10, 1.0
	return c
}

func trendContribution(trend ta.Trend) Contribution {
	c := Contribution{Source: SourceTrend}
	sign := 0.0
	switch trend.Direction {
	case domain.TrendBullish:
		sign = 1
	case domain.TrendBearish:
		sign = -1
	default:
		return c
	}
	c.ReturnDelta = sign * trend.Strength * 0.03
	c.ConfidenceDelta = 0.10 * trend.Strength
	c.Strength = trend.Strength
	return c
}
