package handler

import (
	"net/http"
	"strings"

	"crypto-paper-trader/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type predictionQuery struct {
	HorizonHours int `form:"horizon" validate:"gte=0,lte=720"`
}

type historyQuery struct {
	Limit int `form:"limit" default:"50" validate:"gt=0,lte=500"`
}

type positionsQuery struct {
	Symbol string `form:"symbol"`
}

type performanceQuery struct {
	WindowDays int `form:"window_days" validate:"gte=0,lte=3650"`
}

// ExecuteSignalRequest places a caller-supplied signal. An empty action means
// generate a fresh signal and execute it; a zero price means the current
// market price.
type ExecuteSignalRequest struct {
	Action          domain.SignalAction `json:"action" validate:"omitempty,oneof=buy sell hold"`
	Price           float64             `json:"price" validate:"gte=0"`
	Confidence      float64             `json:"confidence" validate:"gte=0,lte=1"`
	PredictedReturn float64             `json:"predicted_return"`
	StopLoss        *float64            `json:"stop_loss" validate:"omitempty,gt=0"`
	TakeProfit      *float64            `json:"take_profit" validate:"omitempty,gt=0"`
}

type ClosePositionRequest struct {
	ExitPrice float64           `json:"exit_price" validate:"gte=0"`
	Reason    domain.ExitReason `json:"reason" default:"manual" validate:"oneof=manual stop_loss take_profit signal_change intelligent_exit"`
}

type CheckPositionsRequest struct {
	Symbol string  `json:"symbol" form:"symbol"`
	Price  float64 `json:"price" form:"price" validate:"gte=0"`
}

// GetPrediction godoc
// @Summary      Generate a price prediction
// @Description  Scores recent hourly bars into a predicted return, confidence and quantile band
// @Tags         trading
// @Produce      json
// @Param        symbol   path   string  true   "Asset symbol"
// @Param        horizon  query  int     false  "Horizon in hours (default from config)"
// @Success      200  {object}  domain.Prediction
// @Failure      400  {object}  map[string]interface{}
// @Failure      502  {object}  map[string]string
// @Router       /api/predictions/{symbol} [get]
func (h *Handler) GetPrediction(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-prediction")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	var q predictionQuery
	if err := bindRequest(c, &q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	pred, err := h.trading.GeneratePrediction(ctx, symbol, q.HorizonHours)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

// GetPredictionHistory godoc
// @Summary      List stored predictions
// @Tags         trading
// @Produce      json
// @Param        symbol  path   string  true   "Asset symbol"
// @Param        limit   query  int     false  "Max rows (default 50, max 500)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/predictions/{symbol}/history [get]
func (h *Handler) GetPredictionHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-prediction-history")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))

	var q historyQuery
	if err := bindRequest(c, &q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	preds, err := h.trading.ListPredictions(ctx, symbol, q.Limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "predictions": preds})
}

// GetSignal godoc
// @Summary      Generate a trading signal
// @Description  Buy, sell or hold with stop-loss and take-profit levels, using the generation gate
// @Tags         trading
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol"
// @Success      200  {object}  domain.TradingSignal
// @Failure      400  {object}  map[string]interface{}
// @Failure      502  {object}  map[string]string
// @Router       /api/signals/{symbol} [get]
func (h *Handler) GetSignal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-signal")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	sig, err := h.trading.GenerateSignal(ctx, symbol)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// ExecuteSignal godoc
// @Summary      Execute a trading signal on the paper ledger
// @Description  Executes the posted signal, or a freshly generated one when no action is given. Hold signals and same-direction duplicates open nothing.
// @Tags         trading
// @Accept       json
// @Produce      json
// @Param        symbol  path  string                true   "Asset symbol"
// @Param        body    body  ExecuteSignalRequest  false  "Signal"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      502  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/signals/{symbol}/execute [post]
func (h *Handler) ExecuteSignal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.execute-signal")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	var req ExecuteSignalRequest
	if err := bindRequest(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	var sig domain.TradingSignal
	if req.Action == "" {
		generated, err := h.trading.GenerateSignal(ctx, symbol)
		if err != nil {
			h.writeError(c, err)
			return
		}
		sig = generated
	} else {
		price := req.Price
		if price == 0 {
			snap, err := h.priceService.GetCurrentPrice(ctx, symbol)
			if err != nil {
				h.writeError(c, err)
				return
			}
			price = snap.PriceUSD
		}
		sig = domain.TradingSignal{
			Symbol:          symbol,
			Action:          req.Action,
			Confidence:      req.Confidence,
			Price:           price,
			PredictedReturn: req.PredictedReturn,
			StopLoss:        req.StopLoss,
			TakeProfit:      req.TakeProfit,
		}
	}

	trade, err := h.trading.ExecuteSignal(ctx, sig)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"signal":   sig,
		"trade":    trade,
		"executed": trade != nil,
	})
}

// GetPositions godoc
// @Summary      List open paper positions
// @Tags         trading
// @Produce      json
// @Param        symbol  query  string  false  "Filter by symbol"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/positions [get]
func (h *Handler) GetPositions(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-positions")
	defer span.End()

	var q positionsQuery
	if err := bindRequest(c, &q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}
	symbol := strings.ToUpper(q.Symbol)

	positions, err := h.trading.GetOpenPositions(ctx, symbol)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if positions == nil {
		positions = []*domain.PaperTrade{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// ClosePosition godoc
// @Summary      Close an open paper position
// @Tags         trading
// @Accept       json
// @Produce      json
// @Param        id    path  string                true   "Trade ID"
// @Param        body  body  ClosePositionRequest  false  "Exit price (0 = market) and reason"
// @Success      200  {object}  domain.PaperTrade
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/positions/{id}/close [post]
func (h *Handler) ClosePosition(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.close-position")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("trade_id", id))

	var req ClosePositionRequest
	if err := bindRequest(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	trade, err := h.trading.ClosePosition(ctx, id, req.ExitPrice, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

// CheckPositions godoc
// @Summary      Run the stop-loss / take-profit sweep
// @Description  Sweeps one symbol (optionally at a given price) or every symbol with open positions at market prices
// @Tags         trading
// @Accept       json
// @Produce      json
// @Param        body  body  CheckPositionsRequest  false  "Symbol and price"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      502  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/positions/check [post]
func (h *Handler) CheckPositions(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.check-positions")
	defer span.End()

	var req CheckPositionsRequest
	if err := bindRequest(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	var (
		closed []*domain.PaperTrade
		err    error
	)
	if req.Symbol == "" {
		closed, err = h.trading.CheckAllStopLossTakeProfit(ctx)
	} else {
		closed, err = h.trading.CheckStopLossTakeProfit(ctx, strings.ToUpper(req.Symbol), req.Price)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	if closed == nil {
		closed = []*domain.PaperTrade{}
	}
	c.JSON(http.StatusOK, gin.H{"closed": closed, "count": len(closed)})
}

// RunAutomation godoc
// @Summary      Run one automated trading pass for a symbol
// @Tags         trading
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol"
// @Success      200  {object}  service.AutomationResult
// @Failure      400  {object}  map[string]interface{}
// @Failure      502  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/automation/{symbol}/run [post]
func (h *Handler) RunAutomation(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.run-automation")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	res, err := h.trading.RunAutomation(ctx, symbol)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetPerformance godoc
// @Summary      Paper trading performance
// @Description  Win rate, P&L, drawdown and profit factor over a trailing window
// @Tags         trading
// @Produce      json
// @Param        window_days  query  int  false  "Trailing window in days (default from config)"
// @Success      200  {object}  domain.PerformanceMetrics
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/performance [get]
func (h *Handler) GetPerformance(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-performance")
	defer span.End()

	var q performanceQuery
	if err := bindRequest(c, &q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
		return
	}

	m, err := h.trading.GetPerformanceMetrics(ctx, q.WindowDays)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// GetBalance godoc
// @Summary      Current paper balance
// @Tags         trading
// @Produce      json
// @Success      200  {object}  map[string]float64
// @Router       /api/balance [get]
func (h *Handler) GetBalance(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-balance")
	defer span.End()

	balance, err := h.trading.GetBalance(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
