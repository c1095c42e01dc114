package job

import (
	"context"
	"time"

	"crypto-paper-trader/internal/domain"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// PricePoller keeps the price cache and the hourly candle store warm.
type PricePoller struct {
	tracer       trace.Tracer
	logger       zerolog.Logger
	priceService PriceDataRefresher
	pollInterval time.Duration

	shortEvery, shortDelay time.Duration
	longEvery, longDelay   time.Duration
	symbolsPerShortTick    int
}

type PriceDataRefresher interface {
	RefreshPrices(ctx context.Context) error
	RefreshShortCandles(ctx context.Context, symbol string) error
	RefreshLongCandles(ctx context.Context, symbol string) error
}

func NewPricePoller(tracer trace.Tracer, logger zerolog.Logger, priceService PriceDataRefresher, pollIntervalSecs int) *PricePoller {
	return &PricePoller{
		tracer:              tracer,
		logger:              logger.With().Str("component", "price-poller").Logger(),
		priceService:        priceService,
		pollInterval:        time.Duration(pollIntervalSecs) * time.Second,
		shortEvery:          5 * time.Minute,
		shortDelay:          10 * time.Second,
		longEvery:           30 * time.Minute,
		longDelay:           30 * time.Second,
		symbolsPerShortTick: 2,
	}
}

// Start launches the polling goroutines and blocks until ctx is cancelled.
func (p *PricePoller) Start(ctx context.Context) {
	p.logger.Info().Dur("interval", p.pollInterval).Msg("price poller starting")

	go pollLoop(ctx, p.logger, "current-prices", 0, p.pollInterval, func(ctx context.Context) error {
		ctx, span := p.tracer.Start(ctx, "price-poller.refresh-prices")
		defer span.End()
		return p.priceService.RefreshPrices(ctx)
	})

	// Hourly candles for a couple of coins per tick, round-robin.
	shortIdx := 0
	go pollLoop(ctx, p.logger, "short-candles", p.shortDelay, p.shortEvery, func(ctx context.Context) error {
		p.fetchShortBatch(ctx, &shortIdx, p.symbolsPerShortTick)
		return nil
	})

	// 30 days of 1h/4h/1d for one coin per tick.
	longIdx := 0
	go pollLoop(ctx, p.logger, "long-candles", p.longDelay, p.longEvery, func(ctx context.Context) error {
		p.fetchLongBatch(ctx, &longIdx)
		return nil
	})

	<-ctx.Done()
	p.logger.Info().Msg("price poller stopped")
}

func (p *PricePoller) fetchShortBatch(ctx context.Context, coinIndex *int, count int) {
	ctx, span := p.tracer.Start(ctx, "price-poller.short-candles")
	defer span.End()

	symbols := domain.SupportedSymbols
	for i := 0; i < count; i++ {
		symbol := symbols[*coinIndex%len(symbols)]
		*coinIndex++

		if err := p.priceService.RefreshShortCandles(ctx, symbol); err != nil {
			p.logger.Warn().Err(err).Str("symbol", symbol).Msg("short candle refresh failed")
		}
	}
}

func (p *PricePoller) fetchLongBatch(ctx context.Context, coinIndex *int) {
	ctx, span := p.tracer.Start(ctx, "price-poller.long-candles")
	defer span.End()

	symbols := domain.SupportedSymbols
	symbol := symbols[*coinIndex%len(symbols)]
	*coinIndex++

	if err := p.priceService.RefreshLongCandles(ctx, symbol); err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("long candle refresh failed")
	}
}

// pollLoop waits delay, runs fn, then runs it again on every tick until ctx
// is done.
func pollLoop(ctx context.Context, logger zerolog.Logger, name string, delay, interval time.Duration, fn func(context.Context) error) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if err := fn(ctx); err != nil {
		logger.Warn().Err(err).Str("loop", name).Msg("initial run failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Warn().Err(err).Str("loop", name).Msg("run failed")
			}
		}
	}
}
