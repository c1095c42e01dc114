package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"crypto-paper-trader/internal/bot"
	"crypto-paper-trader/internal/cache"
	"crypto-paper-trader/internal/config"
	"crypto-paper-trader/internal/db"
	"crypto-paper-trader/internal/handler"
	"crypto-paper-trader/internal/job"
	"crypto-paper-trader/internal/ledger"
	"crypto-paper-trader/internal/metrics"
	"crypto-paper-trader/internal/prediction"
	"crypto-paper-trader/internal/provider"
	"crypto-paper-trader/internal/repository"
	"crypto-paper-trader/internal/service"
	tradesignal "crypto-paper-trader/internal/signal"
	"crypto-paper-trader/pkg/logger"
	"crypto-paper-trader/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "crypto-paper-trader/docs"
)

var (
	loadEnvFunc              = godotenv.Load
	loadConfigFunc           = config.Load
	newLoggerFunc            = logger.New
	initPostgresFunc         = db.InitPostgres
	initRedisFunc            = cache.InitRedis
	initTracerFunc           = tracing.InitTracer
	newCoinGeckoProviderFunc = func(tracer trace.Tracer, logger zerolog.Logger) service.PriceProvider {
		return provider.NewCoinGeckoProvider(tracer, nil, logger)
	}
	startPollerFunc        = func(p *job.PricePoller, ctx context.Context) { go p.Start(ctx) }
	startTradingJobFunc    = func(j *job.TradingJob, ctx context.Context) { go j.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newRouterFunc          = gin.New
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Crypto Paper Trader API
// @version         1.0
// @description     Technical-indicator predictions, trading signals and a paper trading ledger for major crypto assets.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run() error {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLoggerFunc(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer provider shutdown failed")
		}
	}()

	pool, err := initPostgresFunc(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	var redisClient service.RedisClient
	if rc, err := initRedisFunc(ctx, cfg.RedisURL, logger); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, price cache disabled")
	} else {
		defer rc.Close()
		redisClient = rc
	}

	stores, err := buildStores(ctx, pool, tracer)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	priceService := service.NewPriceService(tracer, logger, newCoinGeckoProviderFunc(tracer, logger), stores.candles, redisClient)
	tradingService := newTradingService(cfg, tracer, logger, priceService, stores, recorder)

	startPollerFunc(job.NewPricePoller(tracer, logger, priceService, cfg.CoinGeckoPollSecs), ctx)
	if cfg.Automation.Enabled {
		startTradingJobFunc(job.NewTradingJob(tracer, logger, tradingService, cfg.Automation.IntervalSecs, cfg.Automation.Concurrency), ctx)
	}

	if err := startTelegramBotFunc(ctx, cfg.TelegramBotToken, logger, priceService, tradingService); err != nil {
		logger.Error().Err(err).Msg("telegram bot disabled")
	}

	r := newRouterFunc()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(tracing.ServiceName))
	r.Use(handler.RequestLogger(logger, recorder))

	h := handler.New(tracer, logger, priceService, tradingService)
	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serve := startHTTPServerFunc
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := serve(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	wait := waitForSignalFunc
	stop := make(chan struct{})
	go func() {
		wait(quit)
		close(stop)
	}()

	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-stop:
	}
	logger.Info().Msg("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info().Msg("server exiting")
	return nil
}

type storeSet struct {
	trades      ledger.Store
	candles     service.CandleRepository
	predictions service.PredictionStore
}

// buildStores uses Postgres when a pool is available and falls back to an
// in-memory trade store with no candle or prediction persistence.
func buildStores(ctx context.Context, pool *pgxpool.Pool, tracer trace.Tracer) (storeSet, error) {
	if pool == nil {
		return storeSet{trades: ledger.NewMemoryStore()}, nil
	}
	candles := repository.NewCandleRepository(pool, tracer)
	trades := repository.NewTradeRepository(pool, tracer)
	predictions := repository.NewPredictionRepository(pool, tracer)
	for name, m := range map[string]interface{ RunMigrations(context.Context) error }{
		"candles":      candles,
		"paper_trades": trades,
		"predictions":  predictions,
	} {
		if err := m.RunMigrations(ctx); err != nil {
			return storeSet{}, fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return storeSet{trades: trades, candles: candles, predictions: predictions}, nil
}

func newTradingService(
	cfg *config.Config,
	tracer trace.Tracer,
	logger zerolog.Logger,
	market service.MarketData,
	stores storeSet,
	recorder *metrics.Recorder,
) *service.TradingService {
	t := cfg.Trading
	levels := tradesignal.Levels{StopLossPct: t.StopLossPct, TakeProfitPct: t.TakeProfitPct}

	l := ledger.New(tracer, logger, stores.trades, recorder, ledger.Config{
		InitialBalance:      t.InitialBalance,
		FeeBpsPerSide:       t.FeeBpsPerSide,
		MaxPositionFraction: t.MaxPositionFraction,
		MaxOpenPerSymbol:    t.MaxOpenPerSymbol,
		Levels:              levels,
		EarlyExit:           tradesignal.ExecutionGate(t.EarlyExitConfidenceGate, t.EarlyExitReturnGate),
	})
	gen := tradesignal.NewGenerator(
		tradesignal.GenerationGate(t.MinConfidenceGeneration, t.MinReturnGeneration),
		tradesignal.ExecutionGate(t.ExecutionConfidenceGate, t.ExecutionReturnGate),
		levels,
	)
	return service.NewTradingService(
		tracer, logger, market,
		prediction.NewScorer(t.MinPredictionBars, logger),
		gen, l, stores.predictions, recorder,
		service.TradingOptions{
			HorizonHours:          t.PredictionHorizonHours,
			EarlyExitHorizonHours: t.EarlyExitHorizonHours,
			LookbackBars:          t.IndicatorLookbackBars,
			MinBars:               t.MinPredictionBars,
			MetricsWindowDays:     t.MetricsWindowDays,
		},
	)
}
