package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-paper-trader/internal/domain"
	"crypto-paper-trader/internal/prediction"
	"crypto-paper-trader/internal/signal"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxHorizonHours = 720

type MarketData interface {
	GetCurrentPrice(ctx context.Context, symbol string) (*domain.PriceSnapshot, error)
	GetHistoricalBars(ctx context.Context, symbol string, lookbackHours, minBars int) ([]*domain.Candle, error)
}

type PredictionStore interface {
	InsertPrediction(ctx context.Context, p *domain.Prediction) error
	ListPredictions(ctx context.Context, symbol string, limit int) ([]*domain.Prediction, error)
}

// Ledger is the slice of *ledger.Ledger the trading service drives.
type Ledger interface {
	Execute(ctx context.Context, sig domain.TradingSignal) (*domain.PaperTrade, error)
	Close(ctx context.Context, tradeID string, exitPrice float64, reason domain.ExitReason) (*domain.PaperTrade, error)
	CheckStopLossTakeProfit(ctx context.Context, symbol string, price float64) ([]*domain.PaperTrade, error)
	EvaluateEarlyExit(ctx context.Context, pred domain.Prediction) ([]*domain.PaperTrade, error)
	Balance(ctx context.Context) (float64, error)
	Performance(ctx context.Context, windowDays int) (domain.PerformanceMetrics, error)
	OpenPositions(ctx context.Context, symbol string) ([]*domain.PaperTrade, error)
}

type SignalRecorder interface {
	Prediction(symbol string, neutral bool)
	Signal(symbol string, action domain.SignalAction)
}

type TradingOptions struct {
	HorizonHours          int
	EarlyExitHorizonHours int
	LookbackBars          int
	MinBars               int
	MetricsWindowDays     int
}

// AutomationResult summarizes one automation pass for a symbol.
type AutomationResult struct {
	Symbol      string                `json:"symbol"`
	StoppedOut  []*domain.PaperTrade  `json:"stopped_out,omitempty"`
	EarlyExited []*domain.PaperTrade  `json:"early_exited,omitempty"`
	Signal      *domain.TradingSignal `json:"signal,omitempty"`
	Opened      *domain.PaperTrade    `json:"opened,omitempty"`
}

// TradingService is the trading API: prediction, signal generation and
// the paper ledger behind one facade. predictions and recorder may be nil.
type TradingService struct {
	tracer      trace.Tracer
	logger      zerolog.Logger
	market      MarketData
	scorer      *prediction.Scorer
	generator   *signal.Generator
	ledger      Ledger
	predictions PredictionStore
	recorder    SignalRecorder
	opts        TradingOptions
	now         func() time.Time
}

func NewTradingService(
	tracer trace.Tracer,
	logger zerolog.Logger,
	market MarketData,
	scorer *prediction.Scorer,
	generator *signal.Generator,
	ledger Ledger,
	predictions PredictionStore,
	recorder SignalRecorder,
	opts TradingOptions,
) *TradingService {
	if opts.HorizonHours <= 0 {
		opts.HorizonHours = 24
	}
	if opts.EarlyExitHorizonHours <= 0 {
		opts.EarlyExitHorizonHours = 6
	}
	if opts.MinBars < prediction.DefaultMinBars {
		opts.MinBars = prediction.DefaultMinBars
	}
	if opts.LookbackBars < opts.MinBars {
		opts.LookbackBars = opts.MinBars
	}
	if opts.MetricsWindowDays <= 0 {
		opts.MetricsWindowDays = 30
	}
	return &TradingService{
		tracer:      tracer,
		logger:      logger.With().Str("component", "trading-service").Logger(),
		market:      market,
		scorer:      scorer,
		generator:   generator,
		ledger:      ledger,
		predictions: predictions,
		recorder:    recorder,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *TradingService) Options() TradingOptions {
	return s.opts
}

// GeneratePrediction scores the latest hourly history for symbol. A zero
// horizon uses the configured default. Short or unusable history yields a
// neutral prediction; market-data failures are returned.
func (s *TradingService) GeneratePrediction(ctx context.Context, symbol string, horizonHours int) (domain.Prediction, error) {
	ctx, span := s.tracer.Start(ctx, "trading-service.generate-prediction")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol), attribute.Int("horizon_hours", horizonHours))

	if horizonHours == 0 {
		horizonHours = s.opts.HorizonHours
	}
	if horizonHours < 0 || horizonHours > maxHorizonHours {
		return domain.Prediction{}, fmt.Errorf("%w: horizon must be between 1 and %d hours", domain.ErrInvalidInput, maxHorizonHours)
	}
	if !domain.IsSupportedSymbol(symbol) {
		return domain.Prediction{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, symbol)
	}

	snap, err := s.market.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return domain.Prediction{}, err
	}
	bars, err := s.market.GetHistoricalBars(ctx, symbol, s.opts.LookbackBars, s.opts.MinBars)
	if err != nil {
		return domain.Prediction{}, err
	}
	if len(bars) > s.opts.LookbackBars {
		bars = bars[len(bars)-s.opts.LookbackBars:]
	}

	pred := s.scorer.Score(symbol, bars, snap.PriceUSD, horizonHours, s.now())
	if s.recorder != nil {
		s.recorder.Prediction(symbol, pred.Neutral)
	}
	if pred.Neutral {
		s.logger.Info().
			Err(domain.ErrInsufficientData).
			Str("symbol", symbol).
			Int("bars", len(bars)).
			Msg("neutral prediction")
	}

	if s.predictions != nil {
		if err := s.predictions.InsertPrediction(ctx, &pred); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("persist prediction failed")
		}
	}
	return pred, nil
}

// GenerateSignal derives a signal from a fresh default-horizon prediction
// using the generation gate.
func (s *TradingService) GenerateSignal(ctx context.Context, symbol string) (domain.TradingSignal, error) {
	ctx, span := s.tracer.Start(ctx, "trading-service.generate-signal")
	defer span.End()

	pred, err := s.GeneratePrediction(ctx, symbol, s.opts.HorizonHours)
	if err != nil {
		return domain.TradingSignal{}, err
	}
	sig := s.generator.Generate(pred, pred.CurrentPrice)
	if s.recorder != nil {
		s.recorder.Signal(symbol, sig.Action)
	}
	return sig, nil
}

// ExecuteSignal hands a signal to the ledger. Hold signals and ignored
// same-direction duplicates return a nil trade.
func (s *TradingService) ExecuteSignal(ctx context.Context, sig domain.TradingSignal) (*domain.PaperTrade, error) {
	ctx, span := s.tracer.Start(ctx, "trading-service.execute-signal")
	defer span.End()

	if !domain.IsSupportedSymbol(sig.Symbol) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, sig.Symbol)
	}
	switch sig.Action {
	case domain.ActionBuy, domain.ActionSell, domain.ActionHold:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, sig.Action)
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = s.now()
	}
	return s.ledger.Execute(ctx, sig)
}

// ClosePosition closes an open trade. A non-positive exit price means the
// current market price.
func (s *TradingService) ClosePosition(ctx context.Context, tradeID string, exitPrice float64, reason domain.ExitReason) (*domain.PaperTrade, error) {
	ctx, span := s.tracer.Start(ctx, "trading-service.close-position")
	defer span.End()
	span.SetAttributes(attribute.String("trade_id", tradeID))

	if reason == "" {
		reason = domain.ExitManual
	}
	if exitPrice <= 0 {
		open, err := s.findOpen(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		snap, err := s.market.GetCurrentPrice(ctx, open.Symbol)
		if err != nil {
			return nil, err
		}
		exitPrice = snap.PriceUSD
	}
	return s.ledger.Close(ctx, tradeID, exitPrice, reason)
}

func (s *TradingService) findOpen(ctx context.Context, tradeID string) (*domain.PaperTrade, error) {
	open, err := s.ledger.OpenPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, t := range open {
		if t.ID == tradeID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNoOpenPosition, tradeID)
}

// CheckStopLossTakeProfit sweeps open positions for symbol at price. A
// non-positive price means the current market price.
func (s *TradingService) CheckStopLossTakeProfit(ctx context.Context, symbol string, price float64) ([]*domain.PaperTrade, error) {
	ctx, span := s.tracer.Start(ctx, "trading-service.check-sl-tp")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, symbol)
	}
	if price <= 0 {
		snap, err := s.market.GetCurrentPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		price = snap.PriceUSD
	}
	return s.ledger.CheckStopLossTakeProfit(ctx, symbol, price)
}

// CheckAllStopLossTakeProfit sweeps every symbol with an open position.
// Per-symbol failures are joined so one bad quote does not block the rest.
func (s *TradingService) CheckAllStopLossTakeProfit(ctx context.Context) ([]*domain.PaperTrade, error) {
	ctx, span := s.tracer.Start(ctx, "trading-service.check-all-sl-tp")
	defer span.End()

	open, err := s.ledger.OpenPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var closed []*domain.PaperTrade
	var errs []error
	for _, t := range open {
		if seen[t.Symbol] {
			continue
		}
		seen[t.Symbol] = true
		c, err := s.CheckStopLossTakeProfit(ctx, t.Symbol, 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Symbol, err))
			continue
		}
		closed = append(closed, c...)
	}
	return closed, errors.Join(errs...)
}

// GetPerformanceMetrics uses the configured window when windowDays is zero.
func (s *TradingService) GetPerformanceMetrics(ctx context.Context, windowDays int) (domain.PerformanceMetrics, error) {
	if windowDays == 0 {
		windowDays = s.opts.MetricsWindowDays
	}
	return s.ledger.Performance(ctx, windowDays)
}

// GetOpenPositions lists open trades, for one symbol or all when symbol is empty.
func (s *TradingService) GetOpenPositions(ctx context.Context, symbol string) ([]*domain.PaperTrade, error) {
	if symbol != "" && !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, symbol)
	}
	return s.ledger.OpenPositions(ctx, symbol)
}

func (s *TradingService) GetBalance(ctx context.Context) (float64, error) {
	return s.ledger.Balance(ctx)
}

// ListPredictions returns recent persisted predictions, newest first.
func (s *TradingService) ListPredictions(ctx context.Context, symbol string, limit int) ([]*domain.Prediction, error) {
	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, symbol)
	}
	if s.predictions == nil {
		return []*domain.Prediction{}, nil
	}
	return s.predictions.ListPredictions(ctx, symbol, limit)
}

// RunAutomation performs one automated pass for symbol: stop-loss and
// take-profit sweep, early exit on a short-horizon prediction, then an
// execution-gated signal that is placed when authorized.
func (s *TradingService) RunAutomation(ctx context.Context, symbol string) (AutomationResult, error) {
	ctx, span := s.tracer.Start(ctx, "trading-service.run-automation")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	res := AutomationResult{Symbol: symbol}

	stopped, err := s.CheckStopLossTakeProfit(ctx, symbol, 0)
	if err != nil {
		return res, fmt.Errorf("sl/tp sweep: %w", err)
	}
	res.StoppedOut = stopped

	short, err := s.GeneratePrediction(ctx, symbol, s.opts.EarlyExitHorizonHours)
	if err != nil {
		return res, fmt.Errorf("early exit prediction: %w", err)
	}
	exited, err := s.ledger.EvaluateEarlyExit(ctx, short)
	if err != nil {
		return res, fmt.Errorf("early exit: %w", err)
	}
	res.EarlyExited = exited

	pred, err := s.GeneratePrediction(ctx, symbol, s.opts.HorizonHours)
	if err != nil {
		return res, fmt.Errorf("prediction: %w", err)
	}
	sig := s.generator.GenerateForExecution(pred, pred.CurrentPrice)
	res.Signal = &sig
	if s.recorder != nil {
		s.recorder.Signal(symbol, sig.Action)
	}
	if !s.generator.Authorized(sig) {
		return res, nil
	}

	trade, err := s.ledger.Execute(ctx, sig)
	if err != nil {
		return res, fmt.Errorf("execute: %w", err)
	}
	res.Opened = trade
	if trade != nil {
		s.logger.Info().
			Str("symbol", symbol).
			Str("trade_id", trade.ID).
			Str("side", string(trade.Side)).
			Float64("entry_price", trade.EntryPrice).
			Msg("automation opened position")
	}
	return res, nil
}
