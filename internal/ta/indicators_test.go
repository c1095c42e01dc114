package ta

import (
	"errors"
	"math"
	"testing"
	"time"

	"crypto-paper-trader/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSI(t *testing.T) {
	t.Run("defaults to 50 on short history", func(t *testing.T) {
		assert.Equal(t, 50.0, RSI([]float64{1, 2, 3}, 14))
	})

	t.Run("no losses is 100", func(t *testing.T) {
		closes := make([]float64, 15)
		for i := range closes {
			closes[i] = float64(100 + i)
		}
		assert.Equal(t, 100.0, RSI(closes, 14))
	})

	t.Run("mixed gains and losses", func(t *testing.T) {
		closes := []float64{100}
		for i := 0; i < 14; i++ {
			delta := 2.0
			if i%2 == 1 {
				delta = -1
			}
			closes = append(closes, closes[len(closes)-1]+delta)
		}
		// avg gain 1, avg loss 0.5 -> rs 2
		assert.InDelta(t, 100-100.0/3, RSI(closes, 14), 1e-9)
	})

	t.Run("only uses trailing window", func(t *testing.T) {
		closes := []float64{500, 1}
		for i := 0; i < 14; i++ {
			closes = append(closes, closes[len(closes)-1]+1)
		}
		assert.Equal(t, 100.0, RSI(closes, 14))
	})
}

func TestEMA(t *testing.T) {
	assert.InDelta(t, 4.0, EMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)
	assert.InDelta(t, 3.0, EMA([]float64{2, 4}, 3), 1e-9)
	assert.Equal(t, 0.0, EMA(nil, 3))

	series := EMASeries([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, series, 3)
	assert.InDelta(t, 2.0, series[0], 1e-9)
}

func TestBollinger(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 10
	}
	upper, middle, lower := Bollinger(flat, 20, 2)
	assert.InDelta(t, 10.0, upper, 1e-9)
	assert.InDelta(t, 10.0, middle, 1e-9)
	assert.InDelta(t, 10.0, lower, 1e-9)

	upper, middle, lower = Bollinger([]float64{10, 10}, 20, 2)
	assert.InDelta(t, 10.2, upper, 1e-9)
	assert.InDelta(t, 10.0, middle, 1e-9)
	assert.InDelta(t, 9.8, lower, 1e-9)

	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21}
	mean, std := MeanStd(values[1:])
	upper, middle, lower = Bollinger(values, 20, 2)
	assert.InDelta(t, mean, middle, 1e-9)
	assert.InDelta(t, mean+2*std, upper, 1e-9)
	assert.InDelta(t, mean-2*std, lower, 1e-9)
}

func TestATR(t *testing.T) {
	closes := []float64{10, 11, 12}
	highs := []float64{10.5, 12, 12.5}
	lows := []float64{9.5, 10.5, 11}
	assert.InDelta(t, 1.75, ATR(highs, lows, closes, 2), 1e-9)
	assert.Equal(t, 0.0, ATR(highs, lows, closes, 14))
}

func TestMomentum(t *testing.T) {
	closes := make([]float64, 11)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	assert.InDelta(t, 0.1, Momentum(closes, 10), 1e-9)
	assert.Equal(t, 0.0, Momentum(closes[:5], 10))
}

func TestVolatility(t *testing.T) {
	flat := []float64{100, 100, 100, 100, 100}
	assert.Equal(t, 0.0, Volatility(flat, 20))

	closes := []float64{100, 102, 99, 103, 101}
	var returns []float64
	for i := 1; i < len(closes); i++ {
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	_, std := MeanStd(returns)
	assert.InDelta(t, std*math.Sqrt(365*24), Volatility(closes, 20), 1e-9)
}

func TestComputeInsufficientData(t *testing.T) {
	_, err := Compute(makeCandles(19, 1))
	require.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestComputeUptrend(t *testing.T) {
	candles := makeCandles(80, 1)
	ind, err := Compute(candles)
	require.NoError(t, err)

	assert.Equal(t, candles[len(candles)-1].Close, ind.Price)
	assert.Equal(t, 100.0, ind.RSI)
	assert.Greater(t, ind.EMAFast, ind.EMASlow)
	assert.Greater(t, ind.Momentum, 0.0)
	assert.Greater(t, ind.ATR, 0.0)
	assert.Greater(t, ind.BollingerUpper, ind.BollingerLower)
}

func makeCandles(n int, step float64) []*domain.Candle {
	out := make([]*domain.Candle, 0, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < n; i++ {
		price += step
		out = append(out, &domain.Candle{
			Symbol:   "BTC",
			Interval: domain.IntervalHourly,
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     price - 0.2,
			High:     price + 0.4,
			Low:      price - 0.6,
			Close:    price,
			Volume:   1000,
		})
	}
	return out
}
