package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"crypto-paper-trader/internal/domain"
	"crypto-paper-trader/internal/signal"
)

// Store persists paper trades. CloseTrade must only update a trade that is
// still open and return domain.ErrNoOpenPosition otherwise. GetTrade returns
// domain.ErrNoOpenPosition for unknown IDs.
type Store interface {
	InsertTrade(ctx context.Context, trade *domain.PaperTrade) error
	CloseTrade(ctx context.Context, trade *domain.PaperTrade) error
	GetTrade(ctx context.Context, id string) (*domain.PaperTrade, error)
	ListOpenTrades(ctx context.Context, symbol string) ([]*domain.PaperTrade, error)
	ListClosedTradesSince(ctx context.Context, since time.Time) ([]*domain.PaperTrade, error)
	SumClosedNetPnL(ctx context.Context) (float64, error)
}

// Recorder receives ledger events for metrics.
type Recorder interface {
	TradeOpened(symbol string, side domain.PositionSide)
	TradeClosed(symbol string, reason domain.ExitReason, netPnL float64)
	Balance(balance float64)
}

type Config struct {
	InitialBalance      float64
	FeeBpsPerSide       float64
	MaxPositionFraction float64
	MaxOpenPerSymbol    int
	Levels              signal.Levels
	EarlyExit           signal.Gate
}

// Ledger owns the paper trading state machine. All open/close decisions for
// a symbol run under that symbol's lock.
type Ledger struct {
	tracer   trace.Tracer
	logger   zerolog.Logger
	store    Store
	recorder Recorder
	cfg      Config
	locks    *symbolLocks

	now   func() time.Time
	newID func() string
}

func New(tracer trace.Tracer, logger zerolog.Logger, store Store, recorder Recorder, cfg Config) *Ledger {
	if cfg.MaxOpenPerSymbol < 1 {
		cfg.MaxOpenPerSymbol = 1
	}
	return &Ledger{
		tracer:   tracer,
		logger:   logger.With().Str("component", "ledger").Logger(),
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		locks:    newSymbolLocks(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
}

// Execute applies a signal. Hold signals and same-direction duplicates return
// a nil trade. An opposite open position is closed with signal_change before
// the new one opens, and stop-loss/take-profit levels are checked at the
// signal price first.
func (l *Ledger) Execute(ctx context.Context, sig domain.TradingSignal) (*domain.PaperTrade, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.execute")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", sig.Symbol), attribute.String("action", string(sig.Action)))

	side, ok := domain.SideForAction(sig.Action)
	if !ok {
		return nil, nil
	}
	if sig.Price <= 0 {
		return nil, fmt.Errorf("%w: signal price must be positive", domain.ErrInvalidInput)
	}
	stopLoss, takeProfit, err := l.levels(side, sig.Price, sig.StopLoss, sig.TakeProfit)
	if err != nil {
		return nil, err
	}
	sig.StopLoss, sig.TakeProfit = &stopLoss, &takeProfit

	unlock := l.locks.lock(sig.Symbol)
	defer unlock()

	if _, err := l.sweepLocked(ctx, sig.Symbol, sig.Price); err != nil {
		return nil, err
	}

	open, err := l.store.ListOpenTrades(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	sameSide := 0
	for _, t := range open {
		if t.Side == side {
			sameSide++
			continue
		}
		if _, err := l.closeLocked(ctx, t, sig.Price, domain.ExitSignalChange); err != nil {
			return nil, err
		}
	}
	if sameSide >= l.cfg.MaxOpenPerSymbol {
		l.logger.Info().
			Err(domain.ErrPositionConflict).
			Str("symbol", sig.Symbol).
			Str("side", string(side)).
			Msg("signal ignored")
		return nil, nil
	}

	return l.openLocked(ctx, sig, side)
}

func (l *Ledger) openLocked(ctx context.Context, sig domain.TradingSignal, side domain.PositionSide) (*domain.PaperTrade, error) {
	balance, err := l.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if balance <= 0 {
		return nil, fmt.Errorf("%w: %.2f", domain.ErrInsufficientBalance, balance)
	}

	notional := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(l.cfg.MaxPositionFraction))
	quantity := notional.Div(decimal.NewFromFloat(sig.Price))
	entryFee := Fee(notional.InexactFloat64(), l.cfg.FeeBpsPerSide)

	trade := &domain.PaperTrade{
		ID:              l.newID(),
		Symbol:          sig.Symbol,
		Side:            side,
		EntryPrice:      sig.Price,
		Quantity:        quantity.InexactFloat64(),
		EntryFee:        entryFee,
		Fees:            entryFee,
		StopLossPrice:   sig.StopLoss,
		TakeProfitPrice: sig.TakeProfit,
		Status:          domain.StatusOpen,
		OpenedAt:        l.now(),
	}
	if err := l.store.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}

	if l.recorder != nil {
		l.recorder.TradeOpened(trade.Symbol, trade.Side)
	}
	l.logger.Info().
		Str("trade_id", trade.ID).
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("entry_price", trade.EntryPrice).
		Float64("quantity", trade.Quantity).
		Msg("position opened")
	return trade, nil
}

// levels fills a missing stop-loss or take-profit from the configured
// percentages and requires the stop below entry and the target above it for
// longs, mirrored for shorts.
func (l *Ledger) levels(side domain.PositionSide, entry float64, stopLoss, takeProfit *float64) (float64, float64, error) {
	sl, tp := l.cfg.Levels.Prices(side, entry)
	if stopLoss != nil {
		sl = *stopLoss
	}
	if takeProfit != nil {
		tp = *takeProfit
	}
	valid := sl < entry && tp > entry
	if side == domain.SideShort {
		valid = sl > entry && tp < entry
	}
	if !valid {
		return 0, 0, fmt.Errorf("%w: %s levels stop_loss=%.8g take_profit=%.8g are on the wrong side of entry %.8g",
			domain.ErrInvalidInput, side, sl, tp, entry)
	}
	return sl, tp, nil
}

// Close settles an open trade at exitPrice.
func (l *Ledger) Close(ctx context.Context, tradeID string, exitPrice float64, reason domain.ExitReason) (*domain.PaperTrade, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.close")
	defer span.End()
	span.SetAttributes(attribute.String("trade_id", tradeID), attribute.String("reason", string(reason)))

	if !reason.IsValid() {
		return nil, fmt.Errorf("%w: unknown exit reason %q", domain.ErrInvalidInput, reason)
	}
	if exitPrice <= 0 {
		return nil, fmt.Errorf("%w: exit price must be positive", domain.ErrInvalidInput)
	}

	trade, err := l.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(trade.Symbol)
	defer unlock()

	// re-read under the lock
	trade, err = l.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.IsOpen() {
		return nil, fmt.Errorf("trade %s: %w", tradeID, domain.ErrNoOpenPosition)
	}
	return l.closeLocked(ctx, trade, exitPrice, reason)
}

func (l *Ledger) closeLocked(ctx context.Context, trade *domain.PaperTrade, exitPrice float64, reason domain.ExitReason) (*domain.PaperTrade, error) {
	s := Settle(trade.Side, trade.EntryPrice, exitPrice, trade.Quantity, trade.EntryFee, l.cfg.FeeBpsPerSide)
	closedAt := l.now()

	closed := *trade
	closed.Status = domain.StatusClosed
	closed.ExitPrice = &exitPrice
	closed.Fees = s.Fees
	closed.GrossPnL = &s.GrossPnL
	closed.NetPnL = &s.NetPnL
	closed.ExitReason = &reason
	closed.ClosedAt = &closedAt

	if err := l.store.CloseTrade(ctx, &closed); err != nil {
		if errors.Is(err, domain.ErrNoOpenPosition) {
			return nil, err
		}
		return nil, fmt.Errorf("close trade %s: %w", trade.ID, err)
	}

	if l.recorder != nil {
		l.recorder.TradeClosed(closed.Symbol, reason, s.NetPnL)
	}
	l.logger.Info().
		Str("trade_id", closed.ID).
		Str("symbol", closed.Symbol).
		Str("reason", string(reason)).
		Float64("exit_price", exitPrice).
		Float64("net_pnl", s.NetPnL).
		Msg("position closed")
	return &closed, nil
}

// CheckStopLossTakeProfit closes every open position for symbol whose
// stop-loss or take-profit is crossed by price.
func (l *Ledger) CheckStopLossTakeProfit(ctx context.Context, symbol string, price float64) ([]*domain.PaperTrade, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.check-sl-tp")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
	}

	unlock := l.locks.lock(symbol)
	defer unlock()
	return l.sweepLocked(ctx, symbol, price)
}

func (l *Ledger) sweepLocked(ctx context.Context, symbol string, price float64) ([]*domain.PaperTrade, error) {
	open, err := l.store.ListOpenTrades(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	var closed []*domain.PaperTrade
	for _, t := range open {
		reason, hit := breach(t, price)
		if !hit {
			continue
		}
		c, err := l.closeLocked(ctx, t, price, reason)
		if err != nil {
			return closed, err
		}
		closed = append(closed, c)
	}
	return closed, nil
}

// EvaluateEarlyExit closes positions held against a fresh short-horizon
// prediction that clears the early-exit gate in the opposite direction.
// Neutral predictions never trigger an exit.
func (l *Ledger) EvaluateEarlyExit(ctx context.Context, pred domain.Prediction) ([]*domain.PaperTrade, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.evaluate-early-exit")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", pred.Symbol))

	if pred.Neutral || pred.CurrentPrice <= 0 {
		return nil, nil
	}
	predictedSide, ok := domain.SideForAction(l.cfg.EarlyExit.Action(pred.ConfidenceScore, pred.PredictedReturn))
	if !ok {
		return nil, nil
	}

	unlock := l.locks.lock(pred.Symbol)
	defer unlock()

	open, err := l.store.ListOpenTrades(ctx, pred.Symbol)
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	var closed []*domain.PaperTrade
	for _, t := range open {
		if t.Side != predictedSide.Opposite() {
			continue
		}
		c, err := l.closeLocked(ctx, t, pred.CurrentPrice, domain.ExitIntelligentExit)
		if err != nil {
			return closed, err
		}
		closed = append(closed, c)
	}
	return closed, nil
}

// Balance is the initial balance plus realized net P&L.
func (l *Ledger) Balance(ctx context.Context) (float64, error) {
	realized, err := l.store.SumClosedNetPnL(ctx)
	if err != nil {
		return 0, fmt.Errorf("sum realized pnl: %w", err)
	}
	balance := decimal.NewFromFloat(l.cfg.InitialBalance).Add(decimal.NewFromFloat(realized)).InexactFloat64()
	if l.recorder != nil {
		l.recorder.Balance(balance)
	}
	return balance, nil
}

// Performance computes metrics over closed trades in the trailing window.
func (l *Ledger) Performance(ctx context.Context, windowDays int) (domain.PerformanceMetrics, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.performance")
	defer span.End()

	if windowDays <= 0 {
		return domain.PerformanceMetrics{}, fmt.Errorf("%w: window must be positive", domain.ErrInvalidInput)
	}
	since := l.now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	trades, err := l.store.ListClosedTradesSince(ctx, since)
	if err != nil {
		return domain.PerformanceMetrics{}, fmt.Errorf("list closed trades: %w", err)
	}

	m := ComputeMetrics(trades, l.cfg.InitialBalance)
	m.WindowDays = windowDays
	balance, err := l.Balance(ctx)
	if err != nil {
		return domain.PerformanceMetrics{}, err
	}
	m.CurrentBalance = balance
	return m, nil
}

func (l *Ledger) OpenPositions(ctx context.Context, symbol string) ([]*domain.PaperTrade, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.open-positions")
	defer span.End()
	return l.store.ListOpenTrades(ctx, symbol)
}
