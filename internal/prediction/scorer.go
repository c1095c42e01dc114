package prediction

import (
	"fmt"
	"math"
	"time"

	"crypto-paper-trader/internal/domain"
	"crypto-paper-trader/internal/ta"

	"github.com/rs/zerolog"
)

const (
	baseConfidence = 0.5

	minReturn     = -0.15
	maxReturn     = 0.15
	minConfidence = 0.4
	maxConfidence = 0.95

	floorThreshold = 0.005
	floorCap       = 0.02

	quantileSpread = 0.7

	// DefaultMinBars is the history below which the scorer emits a neutral prediction.
	DefaultMinBars = 100
)

// Estimate is the pure result of reducing contributions.
type Estimate struct {
	PredictedReturn float64        `json:"predicted_return"`
	Confidence      float64        `json:"confidence"`
	SignalStrength  float64        `json:"signal_strength"`
	Contributions   []Contribution `json:"contributions"`
}

// Reduce sums contributions and applies the horizon, clamp and floor rules.
func Reduce(contribs []Contribution, ind ta.Indicators, horizonHours int) Estimate {
	ret := 0.0
	conf := baseConfidence
	strength := 0.0
	for _, c := range contribs {
		ret += c.ReturnDelta
		conf += c.ConfidenceDelta
		strength += c.Strength
	}

	switch {
	case strength >= 2:
		conf += 0.15
	case strength >= 1.5:
		conf += 0.10
	}

	horizon := float64(horizonHours) / 24
	ret *= 1 + math.Min(ind.Volatility*horizon, 0.6)*0.8
	ret *= math.Sqrt(horizon)

	ret = clamp(ret, minReturn, maxReturn)
	conf = clamp(conf, minConfidence, maxConfidence)

	if math.Abs(ret) < floorThreshold {
		ret = clamp(ind.Momentum*0.5, -floorCap, floorCap)
	}

	return Estimate{
		PredictedReturn: ret,
		Confidence:      conf,
		SignalStrength:  strength,
		Contributions:   contribs,
	}
}

// Scorer turns bar history into predictions.
type Scorer struct {
	minBars int
	logger  zerolog.Logger
}

func NewScorer(minBars int, logger zerolog.Logger) *Scorer {
	if minBars < DefaultMinBars {
		minBars = DefaultMinBars
	}
	return &Scorer{minBars: minBars, logger: logger}
}

// Score is deterministic for identical input. Short history or a failed
// computation yields Neutral.
func (s *Scorer) Score(symbol string, candles []*domain.Candle, currentPrice float64, horizonHours int, at time.Time) domain.Prediction {
	if horizonHours <= 0 {
		horizonHours = 24
	}
	if len(candles) < s.minBars {
		return Neutral(symbol, currentPrice, horizonHours, at)
	}

	est, err := s.estimate(candles, currentPrice, horizonHours)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("scoring failed, using neutral prediction")
		return Neutral(symbol, currentPrice, horizonHours, at)
	}
	return FromEstimate(symbol, currentPrice, horizonHours, at, est)
}

// Explain returns the indicator snapshot, trend and reduced estimate used by Score.
func (s *Scorer) Explain(candles []*domain.Candle, currentPrice float64, horizonHours int) (ta.Indicators, ta.Trend, Estimate, error) {
	ind, err := ta.Compute(candles)
	if err != nil {
		return ta.Indicators{}, ta.Trend{}, Estimate{}, err
	}
	if currentPrice > 0 {
		ind.Price = currentPrice
	}
	trend := ta.AnalyzeTrend(ta.Closes(candles))
	return ind, trend, Reduce(Contributions(ind, trend), ind, horizonHours), nil
}

func (s *Scorer) estimate(candles []*domain.Candle, currentPrice float64, horizonHours int) (est Estimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring panic: %v", r)
		}
	}()

	_, _, est, err = s.Explain(candles, currentPrice, horizonHours)
	if err != nil {
		return Estimate{}, err
	}
	if !finite(est.PredictedReturn) || !finite(est.Confidence) {
		return Estimate{}, fmt.Errorf("non-finite estimate return=%v confidence=%v", est.PredictedReturn, est.Confidence)
	}
	return est, nil
}

// FromEstimate builds the prediction record for an estimate.
func FromEstimate(symbol string, currentPrice float64, horizonHours int, at time.Time, est Estimate) domain.Prediction {
	predicted := currentPrice * (1 + est.PredictedReturn)
	band := math.Abs(est.PredictedReturn) * quantileSpread
	return domain.Prediction{
		Symbol:          symbol,
		Timestamp:       at.UTC(),
		HorizonHours:    horizonHours,
		CurrentPrice:    currentPrice,
		PredictedPrice:  predicted,
		PredictedReturn: est.PredictedReturn,
		ConfidenceScore: est.Confidence,
		QuantileLow:     predicted * (1 - band),
		QuantileHigh:    predicted * (1 + band),
	}
}

// Neutral is the fallback prediction: flat return, 0.5 confidence, ±2% band.
func Neutral(symbol string, currentPrice float64, horizonHours int, at time.Time) domain.Prediction {
	return domain.Prediction{
		Symbol:          symbol,
		Timestamp:       at.UTC(),
		HorizonHours:    horizonHours,
		CurrentPrice:    currentPrice,
		PredictedPrice:  currentPrice,
		PredictedReturn: 0,
		ConfidenceScore: baseConfidence,
		QuantileLow:     currentPrice * 0.98,
		QuantileHigh:    currentPrice * 1.02,
		Neutral:         true,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
