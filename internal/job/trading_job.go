package job

import (
	"context"
	"errors"
	"time"

	"crypto-paper-trader/internal/domain"
	"crypto-paper-trader/internal/service"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Automator interface {
	RunAutomation(ctx context.Context, symbol string) (service.AutomationResult, error)
}

// TradingJob runs the automated trading pass for every supported symbol on
// a fixed interval. Symbols run in parallel up to the concurrency limit; the
// ledger serializes work within a symbol.
type TradingJob struct {
	tracer      trace.Tracer
	logger      zerolog.Logger
	automator   Automator
	interval    time.Duration
	concurrency int
	symbols     []string
}

func NewTradingJob(tracer trace.Tracer, logger zerolog.Logger, automator Automator, intervalSecs, concurrency int) *TradingJob {
	if concurrency < 1 {
		concurrency = 1
	}
	return &TradingJob{
		tracer:      tracer,
		logger:      logger.With().Str("component", "trading-job").Logger(),
		automator:   automator,
		interval:    time.Duration(intervalSecs) * time.Second,
		concurrency: concurrency,
		symbols:     domain.SupportedSymbols,
	}
}

// Start blocks until ctx is cancelled.
func (j *TradingJob) Start(ctx context.Context) {
	j.logger.Info().Dur("interval", j.interval).Int("concurrency", j.concurrency).Msg("trading automation starting")
	pollLoop(ctx, j.logger, "trading", 0, j.interval, j.RunOnce)
	j.logger.Info().Msg("trading automation stopped")
}

// RunOnce runs one automation pass over all symbols. Failures for one symbol
// do not stop the others; they are returned joined.
func (j *TradingJob) RunOnce(ctx context.Context) error {
	ctx, span := j.tracer.Start(ctx, "trading-job.run-once")
	defer span.End()

	errs := make([]error, len(j.symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	for i, symbol := range j.symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			res, err := j.automator.RunAutomation(gctx, symbol)
			if err != nil {
				errs[i] = err
				return nil
			}
			if res.Opened != nil || len(res.StoppedOut) > 0 || len(res.EarlyExited) > 0 {
				j.logger.Info().
					Str("symbol", symbol).
					Bool("opened", res.Opened != nil).
					Int("stopped_out", len(res.StoppedOut)).
					Int("early_exited", len(res.EarlyExited)).
					Msg("automation pass")
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
