package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-paper-trader/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const createTradesTable = `
CREATE TABLE IF NOT EXISTS paper_trades (
    id                TEXT        PRIMARY KEY,
    symbol            TEXT        NOT NULL,
    side              TEXT        NOT NULL,
    entry_price       DOUBLE PRECISION NOT NULL,
    quantity          DOUBLE PRECISION NOT NULL,
    entry_fee         DOUBLE PRECISION NOT NULL,
    fees              DOUBLE PRECISION NOT NULL,
    stop_loss_price   DOUBLE PRECISION,
    take_profit_price DOUBLE PRECISION,
    status            TEXT        NOT NULL,
    opened_at         TIMESTAMPTZ NOT NULL,
    exit_price        DOUBLE PRECISION,
    gross_pnl         DOUBLE PRECISION,
    net_pnl           DOUBLE PRECISION,
    exit_reason       TEXT,
    closed_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_paper_trades_open
    ON paper_trades (symbol) WHERE status = 'open';

CREATE INDEX IF NOT EXISTS idx_paper_trades_closed_at
    ON paper_trades (closed_at) WHERE status = 'closed';
`

const tradeColumns = `id, symbol, side, entry_price, quantity, entry_fee, fees,
       stop_loss_price, take_profit_price, status, opened_at,
       exit_price, gross_pnl, net_pnl, exit_reason, closed_at`

// TradeRepository stores paper trades in Postgres.
type TradeRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewTradeRepository(pool PgxPool, tracer trace.Tracer) *TradeRepository {
	return &TradeRepository{pool: pool, tracer: tracer}
}

func (r *TradeRepository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "trade-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createTradesTable)
	return err
}

func (r *TradeRepository) InsertTrade(ctx context.Context, t *domain.PaperTrade) error {
	ctx, span := r.tracer.Start(ctx, "trade-repo.insert")
	defer span.End()
	span.SetAttributes(attribute.String("trade_id", t.ID))

	_, err := r.pool.Exec(ctx,
		`INSERT INTO paper_trades (`+tradeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.Symbol, string(t.Side), t.EntryPrice, t.Quantity, t.EntryFee, t.Fees,
		t.StopLossPrice, t.TakeProfitPrice, string(t.Status), t.OpenedAt.UTC(),
		t.ExitPrice, t.GrossPnL, t.NetPnL, exitReasonArg(t.ExitReason), timeArg(t.ClosedAt),
	)
	return err
}

// CloseTrade writes the settlement of a trade that is still open.
func (r *TradeRepository) CloseTrade(ctx context.Context, t *domain.PaperTrade) error {
	ctx, span := r.tracer.Start(ctx, "trade-repo.close")
	defer span.End()
	span.SetAttributes(attribute.String("trade_id", t.ID))

	tag, err := r.pool.Exec(ctx,
		`UPDATE paper_trades
		 SET status = $2,
		     exit_price = $3,
		     gross_pnl = $4,
		     net_pnl = $5,
		     fees = $6,
		     exit_reason = $7,
		     closed_at = $8
		 WHERE id = $1 AND status = 'open'`,
		t.ID, string(domain.StatusClosed), t.ExitPrice, t.GrossPnL, t.NetPnL, t.Fees,
		exitReasonArg(t.ExitReason), timeArg(t.ClosedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s: %w", t.ID, domain.ErrNoOpenPosition)
	}
	return nil
}

func (r *TradeRepository) GetTrade(ctx context.Context, id string) (*domain.PaperTrade, error) {
	ctx, span := r.tracer.Start(ctx, "trade-repo.get")
	defer span.End()

	row := r.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM paper_trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, domain.ErrNoOpenPosition)
	}
	return t, err
}

// ListOpenTrades returns open trades for symbol, or for every symbol when
// symbol is empty, oldest first.
func (r *TradeRepository) ListOpenTrades(ctx context.Context, symbol string) ([]*domain.PaperTrade, error) {
	ctx, span := r.tracer.Start(ctx, "trade-repo.list-open")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM paper_trades
		 WHERE status = 'open' AND ($1 = '' OR symbol = $1)
		 ORDER BY opened_at ASC`,
		symbol,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (r *TradeRepository) ListClosedTradesSince(ctx context.Context, since time.Time) ([]*domain.PaperTrade, error) {
	ctx, span := r.tracer.Start(ctx, "trade-repo.list-closed-since")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM paper_trades
		 WHERE status = 'closed' AND closed_at >= $1
		 ORDER BY closed_at ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (r *TradeRepository) SumClosedNetPnL(ctx context.Context) (float64, error) {
	ctx, span := r.tracer.Start(ctx, "trade-repo.sum-net-pnl")
	defer span.End()

	var sum float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(net_pnl), 0)::DOUBLE PRECISION FROM paper_trades WHERE status = 'closed'`,
	).Scan(&sum)
	return sum, err
}

func collectTrades(rows pgx.Rows) ([]*domain.PaperTrade, error) {
	var trades []*domain.PaperTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(s scanner) (*domain.PaperTrade, error) {
	var t domain.PaperTrade
	var side, status string
	var stopLoss, takeProfit, exitPrice, gross, net pgtype.Float8
	var exitReason pgtype.Text
	var closedAt pgtype.Timestamptz

	if err := s.Scan(
		&t.ID, &t.Symbol, &side, &t.EntryPrice, &t.Quantity, &t.EntryFee, &t.Fees,
		&stopLoss, &takeProfit, &status, &t.OpenedAt,
		&exitPrice, &gross, &net, &exitReason, &closedAt,
	); err != nil {
		return nil, err
	}
	t.Side = domain.PositionSide(side)
	t.Status = domain.TradeStatus(status)
	t.OpenedAt = t.OpenedAt.UTC()
	t.StopLossPrice = floatPtr(stopLoss)
	t.TakeProfitPrice = floatPtr(takeProfit)
	t.ExitPrice = floatPtr(exitPrice)
	t.GrossPnL = floatPtr(gross)
	t.NetPnL = floatPtr(net)
	if exitReason.Valid {
		reason := domain.ExitReason(exitReason.String)
		t.ExitReason = &reason
	}
	if closedAt.Valid {
		ts := closedAt.Time.UTC()
		t.ClosedAt = &ts
	}
	return &t, nil
}

func floatPtr(v pgtype.Float8) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func exitReasonArg(r *domain.ExitReason) pgtype.Text {
	if r == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: string(*r), Valid: true}
}

func timeArg(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}
