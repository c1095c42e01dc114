package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crypto-paper-trader/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	priceCacheTTL = 90 * time.Second

	// CoinGecko serves hourly points for ranges of 2 to 90 days.
	maxChartDays = 90
)

type PriceProvider interface {
	FetchPrices(ctx context.Context) (map[string]*domain.PriceSnapshot, error)
	FetchMarketChart(ctx context.Context, symbol string, days int, intervals []string) ([]*domain.Candle, error)
}

type CandleRepository interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)
	GetCandlesInRange(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Candle, error)
	UpsertCandles(ctx context.Context, candles []*domain.Candle) error
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PriceService is the market-data collaborator: live prices behind a Redis
// cache and hourly bars from Postgres, backfilled from the provider.
// repo and redis may be nil.
type PriceService struct {
	tracer   trace.Tracer
	logger   zerolog.Logger
	provider PriceProvider
	repo     CandleRepository
	redis    RedisClient
	now      func() time.Time
}

func NewPriceService(
	tracer trace.Tracer,
	logger zerolog.Logger,
	provider PriceProvider,
	repo CandleRepository,
	redisClient RedisClient,
) *PriceService {
	return &PriceService{
		tracer:   tracer,
		logger:   logger.With().Str("component", "price-service").Logger(),
		provider: provider,
		repo:     repo,
		redis:    redisClient,
		now:      time.Now,
	}
}

// GetCurrentPrice returns the latest cached price for a symbol.
// Falls back to a live API call if cache is empty/expired.
func (s *PriceService) GetCurrentPrice(ctx context.Context, symbol string) (*domain.PriceSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "price-service.get-current-price")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, symbol)
	}

	if s.redis != nil {
		cached, err := s.getPriceCache(ctx, symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("redis cache read failed")
		}
		if cached != nil {
			return cached, nil
		}
	}

	// Cache miss: one batched call refreshes every symbol.
	prices, err := s.fetchAndCache(ctx)
	if err != nil {
		return nil, err
	}

	snap, ok := prices[symbol]
	if !ok || snap.PriceUSD <= 0 {
		return nil, fmt.Errorf("%w: no price for %s", domain.ErrUpstreamUnavailable, symbol)
	}
	return snap, nil
}

// GetCurrentPrices returns latest cached prices for all supported symbols.
func (s *PriceService) GetCurrentPrices(ctx context.Context) ([]*domain.PriceSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "price-service.get-current-prices")
	defer span.End()

	var snapshots []*domain.PriceSnapshot
	missing := 0

	for _, symbol := range domain.SupportedSymbols {
		if s.redis != nil {
			cached, _ := s.getPriceCache(ctx, symbol)
			if cached != nil {
				snapshots = append(snapshots, cached)
				continue
			}
		}
		missing++
	}

	if missing > 0 {
		prices, err := s.fetchAndCache(ctx)
		if err != nil {
			return snapshots, err
		}
		have := make(map[string]bool, len(snapshots))
		for _, snap := range snapshots {
			have[snap.Symbol] = true
		}
		for _, symbol := range domain.SupportedSymbols {
			if snap, ok := prices[symbol]; ok && !have[symbol] {
				snapshots = append(snapshots, snap)
			}
		}
	}

	return snapshots, nil
}

// GetCandles returns up to limit candles, newest first. Without a repository
// the provider is queried directly.
func (s *PriceService) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	ctx, span := s.tracer.Start(ctx, "price-service.get-candles")
	defer span.End()

	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, symbol)
	}
	if s.repo != nil {
		return s.repo.GetCandles(ctx, symbol, interval, limit)
	}

	candles, err := s.provider.FetchMarketChart(ctx, symbol, 30, []string{interval})
	if err != nil {
		return nil, upstream(err)
	}
	reverse(candles)
	if limit > 0 && len(candles) > limit {
		candles = candles[:limit]
	}
	return candles, nil
}

// GetHistoricalBars returns hourly bars covering the last lookbackHours,
// oldest first. When storage holds fewer than minBars the range is backfilled
// from the provider and persisted.
func (s *PriceService) GetHistoricalBars(ctx context.Context, symbol string, lookbackHours, minBars int) ([]*domain.Candle, error) {
	ctx, span := s.tracer.Start(ctx, "price-service.get-historical-bars")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol), attribute.Int("lookback_hours", lookbackHours))

	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, symbol)
	}
	if lookbackHours <= 0 {
		return nil, fmt.Errorf("%w: lookback must be positive", domain.ErrInvalidInput)
	}

	to := s.now().UTC()
	from := to.Add(-time.Duration(lookbackHours) * time.Hour)

	if s.repo != nil {
		stored, err := s.repo.GetCandlesInRange(ctx, symbol, domain.IntervalHourly, from, to)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle read failed, backfilling from provider")
		} else if len(stored) >= minBars {
			reverse(stored)
			return stored, nil
		}
	}

	days := min((lookbackHours+23)/24+1, maxChartDays)
	fetched, err := s.provider.FetchMarketChart(ctx, symbol, days, []string{domain.IntervalHourly})
	if err != nil {
		return nil, upstream(err)
	}

	if s.repo != nil && len(fetched) > 0 {
		if err := s.repo.UpsertCandles(ctx, fetched); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("persist backfilled candles failed")
		}
	}

	bars := make([]*domain.Candle, 0, len(fetched))
	for _, c := range fetched {
		if c.Interval == domain.IntervalHourly && !c.OpenTime.Before(from) {
			bars = append(bars, c)
		}
	}
	s.logger.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("backfilled hourly bars")
	return bars, nil
}

// RefreshPrices fetches latest prices from CoinGecko and caches in Redis.
func (s *PriceService) RefreshPrices(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "price-service.refresh-prices")
	defer span.End()

	prices, err := s.fetchAndCache(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Int("assets", len(prices)).Msg("refreshed prices")
	return nil
}

// RefreshShortCandles stores the last day of hourly candles.
func (s *PriceService) RefreshShortCandles(ctx context.Context, symbol string) error {
	ctx, span := s.tracer.Start(ctx, "price-service.refresh-short-candles")
	defer span.End()

	return s.refreshCandles(ctx, symbol, 1, []string{domain.IntervalHourly})
}

// RefreshLongCandles stores 30 days of 1h, 4h and 1d candles.
func (s *PriceService) RefreshLongCandles(ctx context.Context, symbol string) error {
	ctx, span := s.tracer.Start(ctx, "price-service.refresh-long-candles")
	defer span.End()

	return s.refreshCandles(ctx, symbol, 30, domain.SupportedIntervals)
}

func (s *PriceService) refreshCandles(ctx context.Context, symbol string, days int, intervals []string) error {
	if s.repo == nil {
		return nil
	}
	candles, err := s.provider.FetchMarketChart(ctx, symbol, days, intervals)
	if err != nil {
		return upstream(err)
	}
	if err := s.repo.UpsertCandles(ctx, candles); err != nil {
		return fmt.Errorf("upsert candles for %s: %w", symbol, err)
	}
	s.logger.Debug().Str("symbol", symbol).Int("days", days).Int("candles", len(candles)).Msg("refreshed candles")
	return nil
}

func (s *PriceService) fetchAndCache(ctx context.Context) (map[string]*domain.PriceSnapshot, error) {
	prices, err := s.provider.FetchPrices(ctx)
	if err != nil {
		return nil, upstream(err)
	}
	if s.redis != nil {
		for _, snap := range prices {
			if err := s.setPriceCache(ctx, snap); err != nil {
				s.logger.Warn().Err(err).Str("symbol", snap.Symbol).Msg("redis cache write failed")
			}
		}
	}
	return prices, nil
}

func (s *PriceService) setPriceCache(ctx context.Context, snapshot *domain.PriceSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, "price:"+snapshot.Symbol, data, priceCacheTTL).Err()
}

func (s *PriceService) getPriceCache(ctx context.Context, symbol string) (*domain.PriceSnapshot, error) {
	data, err := s.redis.Get(ctx, "price:"+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot domain.PriceSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func upstream(err error) error {
	if errors.Is(err, domain.ErrUpstreamUnavailable) || errors.Is(err, domain.ErrUnsupportedSymbol) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
}

func reverse(candles []*domain.Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}
