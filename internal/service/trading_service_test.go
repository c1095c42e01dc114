package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"crypto-paper-trader/internal/domain"
	"crypto-paper-trader/internal/ledger"
	"crypto-paper-trader/internal/prediction"
	"crypto-paper-trader/internal/signal"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	mu       sync.Mutex
	prices   map[string]float64
	bars     []*domain.Candle
	priceErr error
	barsErr  error

	barCalls int
}

func (f *fakeMarket) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeMarket) GetCurrentPrice(_ context.Context, symbol string) (*domain.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	p, ok := f.prices[symbol]
	if !ok {
		return nil, domain.ErrUpstreamUnavailable
	}
	return &domain.PriceSnapshot{Symbol: symbol, PriceUSD: p}, nil
}

func (f *fakeMarket) GetHistoricalBars(_ context.Context, symbol string, lookbackHours, minBars int) ([]*domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barCalls++
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars, nil
}

type fakePredictionStore struct {
	inserted []domain.Prediction
	nextID   int64
	err      error
}

func (f *fakePredictionStore) InsertPrediction(_ context.Context, p *domain.Prediction) error {
	if f.err != nil {
		return f.err
	}
	f.nextID++
	p.ID = f.nextID
	f.inserted = append(f.inserted, *p)
	return nil
}

func (f *fakePredictionStore) ListPredictions(_ context.Context, symbol string, limit int) ([]*domain.Prediction, error) {
	var out []*domain.Prediction
	for i := len(f.inserted) - 1; i >= 0 && len(out) < limit; i-- {
		if f.inserted[i].Symbol == symbol {
			p := f.inserted[i]
			out = append(out, &p)
		}
	}
	return out, nil
}

type tallyRecorder struct {
	predictions map[bool]int
	signals     map[domain.SignalAction]int
}

func newTallyRecorder() *tallyRecorder {
	return &tallyRecorder{predictions: map[bool]int{}, signals: map[domain.SignalAction]int{}}
}

func (r *tallyRecorder) Prediction(_ string, neutral bool)           { r.predictions[neutral]++ }
func (r *tallyRecorder) Signal(_ string, action domain.SignalAction) { r.signals[action]++ }

// trendingBars rises steadily with a small oscillation so volatility is non-zero.
func trendingBars(n int) []*domain.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Candle, n)
	for i := range out {
		c := 100 + float64(i)*0.5 + math.Sin(float64(i)/3)
		out[i] = &domain.Candle{
			Symbol:   "BTC",
			Interval: domain.IntervalHourly,
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c - 0.2,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1000,
		}
	}
	return out
}

type tradingFixture struct {
	svc    *TradingService
	market *fakeMarket
	preds  *fakePredictionStore
	rec    *tallyRecorder
	store  *ledger.MemoryStore
}

func newTradingFixture(t *testing.T, execution, earlyExit signal.Gate) *tradingFixture {
	t.Helper()

	levels := signal.Levels{StopLossPct: 0.05, TakeProfitPct: 0.15}
	store := ledger.NewMemoryStore()
	l := ledger.New(testTracer, zerolog.Nop(), store, nil, ledger.Config{
		InitialBalance:      10000,
		FeeBpsPerSide:       10,
		MaxPositionFraction: 0.1,
		MaxOpenPerSymbol:    1,
		Levels:              levels,
		EarlyExit:           earlyExit,
	})
	market := &fakeMarket{prices: map[string]float64{"BTC": 100, "ETH": 2000}}
	preds := &fakePredictionStore{}
	rec := newTallyRecorder()
	gen := signal.NewGenerator(signal.GenerationGate(0.6, 0.02), execution, levels)

	svc := NewTradingService(testTracer, zerolog.Nop(), market, prediction.NewScorer(100, zerolog.Nop()), gen, l, preds, rec, TradingOptions{
		HorizonHours:          24,
		EarlyExitHorizonHours: 6,
		LookbackBars:          400,
		MinBars:               100,
		MetricsWindowDays:     30,
	})
	fixed := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	return &tradingFixture{svc: svc, market: market, preds: preds, rec: rec, store: store}
}

func TestGeneratePredictionNeutralOnShortHistory(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	f.market.bars = trendingBars(50)

	pred, err := f.svc.GeneratePrediction(context.Background(), "BTC", 0)
	require.NoError(t, err)

	assert.True(t, pred.Neutral)
	assert.Equal(t, 24, pred.HorizonHours)
	assert.Equal(t, 0.0, pred.PredictedReturn)
	assert.Equal(t, 0.5, pred.ConfidenceScore)
	assert.InDelta(t, 98, pred.QuantileLow, 1e-9)
	assert.InDelta(t, 102, pred.QuantileHigh, 1e-9)

	require.Len(t, f.preds.inserted, 1)
	assert.Equal(t, int64(1), pred.ID)
	assert.Equal(t, 1, f.rec.predictions[true])
}

func TestGeneratePredictionDeterministic(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	f.market.bars = trendingBars(200)
	f.svc.predictions = nil

	first, err := f.svc.GeneratePrediction(context.Background(), "BTC", 24)
	require.NoError(t, err)
	second, err := f.svc.GeneratePrediction(context.Background(), "BTC", 24)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.False(t, first.Neutral)
	assert.GreaterOrEqual(t, first.PredictedReturn, -0.15)
	assert.LessOrEqual(t, first.PredictedReturn, 0.15)
	assert.GreaterOrEqual(t, first.ConfidenceScore, 0.4)
	assert.LessOrEqual(t, first.ConfidenceScore, 0.95)
}

func TestGeneratePredictionErrors(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))

	_, err := f.svc.GeneratePrediction(context.Background(), "NOPE", 24)
	assert.ErrorIs(t, err, domain.ErrUnsupportedSymbol)

	_, err = f.svc.GeneratePrediction(context.Background(), "BTC", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.GeneratePrediction(context.Background(), "BTC", 721)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	f.market.barsErr = errors.Join(domain.ErrUpstreamUnavailable, errors.New("timeout"))
	_, err = f.svc.GeneratePrediction(context.Background(), "BTC", 24)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	f.market.priceErr = domain.ErrUpstreamUnavailable
	_, err = f.svc.GeneratePrediction(context.Background(), "BTC", 24)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestGeneratePredictionSurvivesPersistenceFailure(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	f.preds.err = errors.New("db down")

	_, err := f.svc.GeneratePrediction(context.Background(), "BTC", 24)
	assert.NoError(t, err)
}

func TestGenerateSignalHoldOnNeutral(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))

	sig, err := f.svc.GenerateSignal(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, sig.Action)
	assert.Equal(t, 2000.0, sig.Price)
	assert.Nil(t, sig.StopLoss)
	assert.Nil(t, sig.TakeProfit)
	assert.Equal(t, 1, f.rec.signals[domain.ActionHold])
}

func TestExecuteSignalValidation(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	ctx := context.Background()

	_, err := f.svc.ExecuteSignal(ctx, domain.TradingSignal{Symbol: "BTC", Action: "moon", Price: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.ExecuteSignal(ctx, domain.TradingSignal{Symbol: "FOO", Action: domain.ActionBuy, Price: 100})
	assert.ErrorIs(t, err, domain.ErrUnsupportedSymbol)

	trade, err := f.svc.ExecuteSignal(ctx, domain.TradingSignal{Symbol: "BTC", Action: domain.ActionHold, Price: 100})
	assert.NoError(t, err)
	assert.Nil(t, trade)
}

func TestClosePositionUsesMarketPrice(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	ctx := context.Background()

	trade, err := f.svc.ExecuteSignal(ctx, domain.TradingSignal{Symbol: "BTC", Action: domain.ActionBuy, Price: 100})
	require.NoError(t, err)
	require.NotNil(t, trade)

	f.market.setPrice("BTC", 110)
	closed, err := f.svc.ClosePosition(ctx, trade.ID, 0, "")
	require.NoError(t, err)
	require.NotNil(t, closed.ExitPrice)
	assert.Equal(t, 110.0, *closed.ExitPrice)
	require.NotNil(t, closed.ExitReason)
	assert.Equal(t, domain.ExitManual, *closed.ExitReason)

	_, err = f.svc.ClosePosition(ctx, trade.ID, 0, domain.ExitManual)
	assert.ErrorIs(t, err, domain.ErrNoOpenPosition)

	_, err = f.svc.ClosePosition(ctx, "missing", 120, domain.ExitManual)
	assert.ErrorIs(t, err, domain.ErrNoOpenPosition)
}

func TestCheckAllStopLossTakeProfit(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	ctx := context.Background()

	_, err := f.svc.ExecuteSignal(ctx, domain.TradingSignal{Symbol: "BTC", Action: domain.ActionBuy, Price: 100})
	require.NoError(t, err)
	_, err = f.svc.ExecuteSignal(ctx, domain.TradingSignal{Symbol: "ETH", Action: domain.ActionSell, Price: 2000})
	require.NoError(t, err)

	f.market.setPrice("BTC", 94)
	f.market.setPrice("ETH", 1990)

	closed, err := f.svc.CheckAllStopLossTakeProfit(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "BTC", closed[0].Symbol)
	assert.Equal(t, domain.ExitStopLoss, *closed[0].ExitReason)

	open, err := f.svc.GetOpenPositions(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ETH", open[0].Symbol)
}

func TestCheckStopLossTakeProfitExplicitPrice(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	ctx := context.Background()

	_, err := f.svc.ExecuteSignal(ctx, domain.TradingSignal{Symbol: "BTC", Action: domain.ActionSell, Price: 100})
	require.NoError(t, err)

	closed, err := f.svc.CheckStopLossTakeProfit(ctx, "BTC", 84)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitTakeProfit, *closed[0].ExitReason)
}

func TestRunAutomationHoldsOnNeutral(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	f.market.bars = trendingBars(20)

	res, err := f.svc.RunAutomation(context.Background(), "BTC")
	require.NoError(t, err)
	require.NotNil(t, res.Signal)
	assert.Equal(t, domain.ActionHold, res.Signal.Action)
	assert.Nil(t, res.Opened)
	assert.Equal(t, 2, f.market.barCalls)
}

func TestRunAutomationOpensOncePerDirection(t *testing.T) {
	// A zero execution gate authorizes any non-zero prediction.
	f := newTradingFixture(t, signal.ExecutionGate(0, 0), signal.ExecutionGate(0.99, 0.5))
	f.market.bars = trendingBars(200)
	f.market.setPrice("BTC", f.market.bars[199].Close)
	ctx := context.Background()

	res, err := f.svc.RunAutomation(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, res.Signal)
	require.NotEqual(t, domain.ActionHold, res.Signal.Action)
	require.NotNil(t, res.Opened)
	wantSide, _ := domain.SideForAction(res.Signal.Action)
	assert.Equal(t, wantSide, res.Opened.Side)
	assert.Empty(t, res.StoppedOut)
	assert.Empty(t, res.EarlyExited)

	again, err := f.svc.RunAutomation(ctx, "BTC")
	require.NoError(t, err)
	assert.Nil(t, again.Opened)

	open, err := f.svc.GetOpenPositions(ctx, "BTC")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRunAutomationPropagatesUpstreamFailure(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	f.market.priceErr = domain.ErrUpstreamUnavailable

	_, err := f.svc.RunAutomation(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestPerformanceAndPredictionHistory(t *testing.T) {
	f := newTradingFixture(t, signal.ExecutionGate(0.59, 0.012), signal.ExecutionGate(0.65, 0.01))
	ctx := context.Background()

	m, err := f.svc.GetPerformanceMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, m.WindowDays)
	assert.Equal(t, 10000.0, m.CurrentBalance)

	_, err = f.svc.GetPerformanceMetrics(ctx, -3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	for i := 0; i < 3; i++ {
		_, err := f.svc.GeneratePrediction(ctx, "BTC", 24)
		require.NoError(t, err)
	}
	history, err := f.svc.ListPredictions(ctx, "BTC", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(3), history[0].ID)

	_, err = f.svc.ListPredictions(ctx, "???", 2)
	assert.ErrorIs(t, err, domain.ErrUnsupportedSymbol)

	balance, err := f.svc.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, balance)
}
