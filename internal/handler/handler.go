package handler

import (
	"context"

	"crypto-paper-trader/internal/domain"
	"crypto-paper-trader/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type PriceReader interface {
	GetCurrentPrice(ctx context.Context, symbol string) (*domain.PriceSnapshot, error)
	GetCurrentPrices(ctx context.Context) ([]*domain.PriceSnapshot, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)
}

type TradingAPI interface {
	GeneratePrediction(ctx context.Context, symbol string, horizonHours int) (domain.Prediction, error)
	GenerateSignal(ctx context.Context, symbol string) (domain.TradingSignal, error)
	ExecuteSignal(ctx context.Context, sig domain.TradingSignal) (*domain.PaperTrade, error)
	ClosePosition(ctx context.Context, tradeID string, exitPrice float64, reason domain.ExitReason) (*domain.PaperTrade, error)
	CheckStopLossTakeProfit(ctx context.Context, symbol string, price float64) ([]*domain.PaperTrade, error)
	CheckAllStopLossTakeProfit(ctx context.Context) ([]*domain.PaperTrade, error)
	GetPerformanceMetrics(ctx context.Context, windowDays int) (domain.PerformanceMetrics, error)
	GetOpenPositions(ctx context.Context, symbol string) ([]*domain.PaperTrade, error)
	GetBalance(ctx context.Context) (float64, error)
	ListPredictions(ctx context.Context, symbol string, limit int) ([]*domain.Prediction, error)
	RunAutomation(ctx context.Context, symbol string) (service.AutomationResult, error)
}

type Handler struct {
	tracer       trace.Tracer
	logger       zerolog.Logger
	priceService PriceReader
	trading      TradingAPI
}

func New(tracer trace.Tracer, logger zerolog.Logger, priceService PriceReader, trading TradingAPI) *Handler {
	return &Handler{
		tracer:       tracer,
		logger:       logger.With().Str("component", "http").Logger(),
		priceService: priceService,
		trading:      trading,
	}
}

// RegisterRoutes mounts the read routes openly and the mutating routes behind
// the API key.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/prices", h.GetAllPrices)
	api.GET("/prices/:symbol", h.GetPrice)
	api.GET("/candles/:symbol", h.GetCandles)
	api.GET("/predictions/:symbol", h.GetPrediction)
	api.GET("/predictions/:symbol/history", h.GetPredictionHistory)
	api.GET("/signals/:symbol", h.GetSignal)
	api.GET("/positions", h.GetPositions)
	api.GET("/performance", h.GetPerformance)
	api.GET("/balance", h.GetBalance)

	protected := api.Group("", APIKeyAuth(apiKey))
	protected.POST("/signals/:symbol/execute", h.ExecuteSignal)
	protected.POST("/positions/:id/close", h.ClosePosition)
	protected.POST("/positions/check", h.CheckPositions)
	protected.POST("/automation/:symbol/run", h.RunAutomation)
}
