package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"crypto-paper-trader/internal/domain"
)

// Recorder exports prediction, signal and ledger activity to Prometheus.
type Recorder struct {
	predictions  *prometheus.CounterVec
	signals      *prometheus.CounterVec
	tradesOpened *prometheus.CounterVec
	tradesClosed *prometheus.CounterVec
	realizedPnL  *prometheus.CounterVec
	balance      prometheus.Gauge
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. Passing nil uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_trader_predictions_total",
				Help: "Predictions generated, by symbol and whether the neutral fallback was used",
			},
			[]string{"symbol", "fallback"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_trader_signals_total",
				Help: "Trading signals generated",
			},
			[]string{"symbol", "action"},
		),
		tradesOpened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_trader_trades_opened_total",
				Help: "Paper positions opened",
			},
			[]string{"symbol", "side"},
		),
		tradesClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_trader_trades_closed_total",
				Help: "Paper positions closed",
			},
			[]string{"symbol", "reason"},
		),
		realizedPnL: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_trader_realized_pnl_abs_total",
				Help: "Absolute realized net P&L, split by sign",
			},
			[]string{"symbol", "sign"},
		),
		balance: f.NewGauge(prometheus.GaugeOpts{
			Name: "paper_trader_balance",
			Help: "Current paper balance (initial plus realized net P&L)",
		}),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paper_trader_http_request_duration_seconds",
				Help:    "HTTP request duration by route template",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method", "status"},
		),
	}
}

func (r *Recorder) Prediction(symbol string, neutral bool) {
	fallback := "false"
	if neutral {
		fallback = "true"
	}
	r.predictions.WithLabelValues(symbol, fallback).Inc()
}

func (r *Recorder) Signal(symbol string, action domain.SignalAction) {
	r.signals.WithLabelValues(symbol, string(action)).Inc()
}

func (r *Recorder) TradeOpened(symbol string, side domain.PositionSide) {
	r.tradesOpened.WithLabelValues(symbol, string(side)).Inc()
}

// TradeClosed counts the close. Counters cannot go down, so losses and gains
// are tracked as separate series.
func (r *Recorder) TradeClosed(symbol string, reason domain.ExitReason, netPnL float64) {
	r.tradesClosed.WithLabelValues(symbol, string(reason)).Inc()
	switch {
	case netPnL > 0:
		r.realizedPnL.WithLabelValues(symbol, "gain").Add(netPnL)
	case netPnL < 0:
		r.realizedPnL.WithLabelValues(symbol, "loss").Add(-netPnL)
	}
}

func (r *Recorder) Balance(balance float64) {
	r.balance.Set(balance)
}

// HTTPRequest observes one request. route should be the template, not the raw path.
func (r *Recorder) HTTPRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
