package ta

import (
	"math"

	"crypto-paper-trader/internal/domain"
)

const (
	RSIPeriod        = 14
	EMAFastPeriod    = 20
	EMASlowPeriod    = 50
	BollingerPeriod  = 20
	BollingerStdDevs = 2.0
	ATRPeriod        = 14
	MomentumPeriod   = 10
	VolatilityPeriod = 20

	// MinBars is the shortest history Compute accepts.
	MinBars = 20
)

// hourly bars, annualized
var annualizationFactor = math.Sqrt(365 * 24)

// Indicators is the fixed indicator set computed from a bar sequence.
type Indicators struct {
	Price           float64 `json:"price"`
	RSI             float64 `json:"rsi"`
	EMAFast         float64 `json:"ema_fast"`
	EMASlow         float64 `json:"ema_slow"`
	BollingerUpper  float64 `json:"bollinger_upper"`
	BollingerMiddle float64 `json:"bollinger_middle"`
	BollingerLower  float64 `json:"bollinger_lower"`
	ATR             float64 `json:"atr"`
	Momentum        float64 `json:"momentum"`
	Volatility      float64 `json:"volatility"`
}

// Compute derives the indicator set from candles ordered oldest first.
func Compute(candles []*domain.Candle) (Indicators, error) {
	if len(candles) < MinBars {
		return Indicators{}, domain.ErrInsufficientData
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	upper, middle, lower := Bollinger(closes, BollingerPeriod, BollingerStdDevs)
	return Indicators{
		Price:           closes[len(closes)-1],
		RSI:             RSI(closes, RSIPeriod),
		EMAFast:         EMA(closes, EMAFastPeriod),
		EMASlow:         EMA(closes, EMASlowPeriod),
		BollingerUpper:  upper,
		BollingerMiddle: middle,
		BollingerLower:  lower,
		ATR:             ATR(highs, lows, closes, ATRPeriod),
		Momentum:        Momentum(closes, MomentumPeriod),
		Volatility:      Volatility(closes, VolatilityPeriod),
	}, nil
}

func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// EMASeries seeds with the simple average of the first period values and
// smooths the remaining points. The series is empty when len(values) < period.
func EMASeries(values []float64, period int) []float64 {
	if period <= 1 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	if len(values) < period {
		return nil
	}
	seed, _ := MeanStd(values[:period])
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)
	alpha := 2.0 / float64(period+1)
	prev := seed
	for _, v := range values[period:] {
		prev = alpha*v + (1-alpha)*prev
		out = append(out, prev)
	}
	return out
}

// EMA returns the latest exponential moving average. With fewer than period
// values it returns their simple average.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	series := EMASeries(values, period)
	if len(series) == 0 {
		mean, _ := MeanStd(values)
		return mean
	}
	return series[len(series)-1]
}

// RSI averages gains and losses over the trailing period deltas.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	window := closes[len(closes)-period-1:]
	var gainSum, lossSum float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	return rsiFromAvg(gainSum/float64(period), lossSum/float64(period))
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Bollinger returns upper, middle and lower bands over the trailing window.
// With fewer than period values the bands sit 2% around the simple average.
func Bollinger(values []float64, period int, stdDevs float64) (float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	if period <= 0 || len(values) < period {
		mean, _ := MeanStd(values)
		return mean * 1.02, mean, mean * 0.98
	}
	mean, std := MeanStd(values[len(values)-period:])
	return mean + stdDevs*std, mean, mean - stdDevs*std
}

// ATR averages the true range of the trailing period bars.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0
	}
	var sum float64
	for i := n - period; i < n; i++ {
		prevClose := closes[i-1]
		tr := math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-prevClose), math.Abs(lows[i]-prevClose)))
		sum += tr
	}
	return sum / float64(period)
}

func Momentum(closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 {
		return 0
	}
	past := closes[n-1-period]
	if past == 0 {
		return 0
	}
	return (closes[n-1] - past) / past
}

// Volatility is the annualized std-dev of trailing bar-to-bar returns.
func Volatility(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < 3 {
		return 0
	}
	window := closes
	if len(closes) > period+1 {
		window = closes[len(closes)-period-1:]
	}
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		returns = append(returns, (window[i]-window[i-1])/window[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	_, std := MeanStd(returns)
	return std * annualizationFactor
}
