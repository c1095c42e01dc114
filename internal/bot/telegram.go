package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto-paper-trader/internal/domain"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

const commandTimeout = 15 * time.Second

type PriceReader interface {
	GetCurrentPrice(ctx context.Context, symbol string) (*domain.PriceSnapshot, error)
}

type TradingReader interface {
	GenerateSignal(ctx context.Context, symbol string) (domain.TradingSignal, error)
	GetOpenPositions(ctx context.Context, symbol string) ([]*domain.PaperTrade, error)
	GetPerformanceMetrics(ctx context.Context, windowDays int) (domain.PerformanceMetrics, error)
}

// commands renders replies for the read-only chat commands.
type commands struct {
	prices  PriceReader
	trading TradingReader
}

var newBot = tele.NewBot

// StartTelegramBot registers the commands and starts long polling in the
// background. An empty token disables the bot. The bot stops when ctx is done.
func StartTelegramBot(ctx context.Context, token string, logger zerolog.Logger, prices PriceReader, trading TradingReader) error {
	if token == "" {
		logger.Info().Msg("telegram token not set, skipping bot startup")
		return nil
	}
	b, err := newBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			logger.Warn().Err(err).Msg("telegram handler error")
		},
	})
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	cmds := &commands{prices: prices, trading: trading}
	reply := func(fn func(ctx context.Context, args []string) string) tele.HandlerFunc {
		return func(c tele.Context) error {
			cctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()
			return c.Send(fn(cctx, c.Args()))
		}
	}

	b.Handle("/ping", func(c tele.Context) error { return c.Send("pong") })
	b.Handle("/price", reply(cmds.price))
	b.Handle("/signal", reply(cmds.signal))
	b.Handle("/positions", reply(cmds.positions))
	b.Handle("/performance", reply(cmds.performance))

	go b.Start()
	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	logger.Info().Msg("telegram bot started")
	return nil
}

func (m *commands) price(ctx context.Context, args []string) string {
	symbol, usage := symbolArg(args, "/price BTC")
	if usage != "" {
		return usage
	}
	snap, err := m.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return failure("price", symbol, err)
	}
	return fmt.Sprintf(
		"%s\nPrice: $%.2f\n24h Change: %.2f%%\n24h Volume: $%.0f",
		symbol, snap.PriceUSD, snap.Change24hPct, snap.Volume24h,
	)
}

func (m *commands) signal(ctx context.Context, args []string) string {
	symbol, usage := symbolArg(args, "/signal ETH")
	if usage != "" {
		return usage
	}
	sig, err := m.trading.GenerateSignal(ctx, symbol)
	if err != nil {
		return failure("signal", symbol, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s signal: %s\n", symbol, strings.ToUpper(string(sig.Action)))
	fmt.Fprintf(&b, "Price: $%.2f\nExpected return: %+.2f%%\nConfidence: %.0f%%",
		sig.Price, sig.PredictedReturn*100, sig.Confidence*100)
	if sig.StopLoss != nil && sig.TakeProfit != nil {
		fmt.Fprintf(&b, "\nStop-loss: $%.2f\nTake-profit: $%.2f", *sig.StopLoss, *sig.TakeProfit)
	}
	return b.String()
}

func (m *commands) positions(ctx context.Context, args []string) string {
	symbol := ""
	if len(args) > 0 {
		symbol = strings.ToUpper(args[0])
	}
	open, err := m.trading.GetOpenPositions(ctx, symbol)
	if err != nil {
		return failure("positions", symbol, err)
	}
	if len(open) == 0 {
		return "No open positions"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Open positions (%d)", len(open))
	for _, t := range open {
		fmt.Fprintf(&b, "\n%s %s %.6f @ $%.2f", t.Symbol, strings.ToUpper(string(t.Side)), t.Quantity, t.EntryPrice)
		if t.StopLossPrice != nil && t.TakeProfitPrice != nil {
			fmt.Fprintf(&b, " (SL $%.2f / TP $%.2f)", *t.StopLossPrice, *t.TakeProfitPrice)
		}
	}
	return b.String()
}

func (m *commands) performance(ctx context.Context, _ []string) string {
	p, err := m.trading.GetPerformanceMetrics(ctx, 0)
	if err != nil {
		return failure("performance", "", err)
	}
	return fmt.Sprintf(
		"Performance (%dd)\nTrades: %d (W %d / L %d)\nWin rate: %.1f%%\nNet P&L: $%.2f\nFees: $%.2f\nMax drawdown: %.2f%%\nProfit factor: %.2f\nBalance: $%.2f",
		p.WindowDays, p.TotalTrades, p.WinningTrades, p.LosingTrades, p.WinRate*100,
		p.NetPnL, p.TotalFees, p.MaxDrawdown*100, p.ProfitFactor, p.CurrentBalance,
	)
}

func symbolArg(args []string, example string) (string, string) {
	supported := strings.Join(domain.SupportedSymbols, ", ")
	if len(args) == 0 {
		return "", fmt.Sprintf("Usage: %s\nSupported: %s", example, supported)
	}
	symbol := strings.ToUpper(args[0])
	if !domain.IsSupportedSymbol(symbol) {
		return "", fmt.Sprintf("Unknown symbol: %s\nSupported: %s", symbol, supported)
	}
	return symbol, ""
}

func failure(what, symbol string, err error) string {
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		return fmt.Sprintf("Market data is unavailable right now, try again shortly (%s %s)", what, symbol)
	}
	return fmt.Sprintf("Error fetching %s %s: %v", what, symbol, err)
}
