package repository

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"crypto-paper-trader/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, v := range r.values {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

type fakePool struct {
	execSQL  []string
	execArgs [][]any
	execTag  pgconn.CommandTag
	execErr  error
	row      fakeRow
	queryErr error
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	return p.execTag, p.execErr
}

func (p *fakePool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, p.queryErr
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.row
}

func TestRunMigrations(t *testing.T) {
	pool := &fakePool{}
	ctx := context.Background()

	require.NoError(t, NewCandleRepository(pool, testTracer).RunMigrations(ctx))
	require.NoError(t, NewTradeRepository(pool, testTracer).RunMigrations(ctx))
	require.NoError(t, NewPredictionRepository(pool, testTracer).RunMigrations(ctx))

	require.Len(t, pool.execSQL, 3)
	assert.Contains(t, pool.execSQL[0], "CREATE TABLE IF NOT EXISTS candles")
	assert.Contains(t, pool.execSQL[1], "CREATE TABLE IF NOT EXISTS paper_trades")
	assert.Contains(t, pool.execSQL[2], "CREATE TABLE IF NOT EXISTS predictions")
}

func TestUpsertCandlesEmptyIsNoop(t *testing.T) {
	pool := &fakePool{}
	require.NoError(t, NewCandleRepository(pool, testTracer).UpsertCandles(context.Background(), nil))
	assert.Empty(t, pool.execSQL)
}

func TestCloseTradeRequiresOpenRow(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewTradeRepository(pool, testTracer)

	exit := 110.0
	err := repo.CloseTrade(context.Background(), &domain.PaperTrade{ID: "abc", ExitPrice: &exit})
	assert.True(t, errors.Is(err, domain.ErrNoOpenPosition))
	require.Len(t, pool.execSQL, 1)
	assert.True(t, strings.Contains(pool.execSQL[0], "status = 'open'"))

	pool.execTag = pgconn.NewCommandTag("UPDATE 1")
	assert.NoError(t, repo.CloseTrade(context.Background(), &domain.PaperTrade{ID: "abc", ExitPrice: &exit}))
}

func TestInsertTradeNullableArgs(t *testing.T) {
	pool := &fakePool{}
	repo := NewTradeRepository(pool, testTracer)

	err := repo.InsertTrade(context.Background(), &domain.PaperTrade{
		ID: "abc", Symbol: "BTC", Side: domain.SideLong, Status: domain.StatusOpen, OpenedAt: time.Now(),
	})
	require.NoError(t, err)

	args := pool.execArgs[0]
	require.Len(t, args, 16)
	assert.Equal(t, "long", args[2])
	assert.Equal(t, pgtype.Text{}, args[14])
	assert.Equal(t, pgtype.Timestamptz{}, args[15])
}

func TestGetTradeNotFound(t *testing.T) {
	pool := &fakePool{row: fakeRow{err: pgx.ErrNoRows}}
	_, err := NewTradeRepository(pool, testTracer).GetTrade(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNoOpenPosition))
}

func TestGetTradeScansNullableColumns(t *testing.T) {
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(2 * time.Hour)
	pool := &fakePool{row: fakeRow{values: []any{
		"abc", "ETH", "short", 100.0, 2.0, 0.2, 0.39,
		pgtype.Float8{Float64: 105, Valid: true}, pgtype.Float8{Float64: 85, Valid: true}, "closed", opened,
		pgtype.Float8{Float64: 95, Valid: true}, pgtype.Float8{Float64: 10, Valid: true}, pgtype.Float8{Float64: 9.61, Valid: true},
		pgtype.Text{String: "manual", Valid: true}, pgtype.Timestamptz{Time: closed, Valid: true},
	}}}

	trade, err := NewTradeRepository(pool, testTracer).GetTrade(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, trade.Side)
	assert.Equal(t, domain.StatusClosed, trade.Status)
	assert.Equal(t, 105.0, *trade.StopLossPrice)
	assert.Equal(t, 9.61, *trade.NetPnL)
	assert.Equal(t, domain.ExitManual, *trade.ExitReason)
	assert.Equal(t, closed, *trade.ClosedAt)

	pool.row = fakeRow{values: []any{
		"def", "ETH", "long", 100.0, 2.0, 0.2, 0.2,
		pgtype.Float8{}, pgtype.Float8{}, "open", opened,
		pgtype.Float8{}, pgtype.Float8{}, pgtype.Float8{},
		pgtype.Text{}, pgtype.Timestamptz{},
	}}
	open, err := NewTradeRepository(pool, testTracer).GetTrade(context.Background(), "def")
	require.NoError(t, err)
	assert.True(t, open.IsOpen())
	assert.Nil(t, open.StopLossPrice)
	assert.Nil(t, open.ExitReason)
	assert.Nil(t, open.ClosedAt)
}

func TestSumClosedNetPnL(t *testing.T) {
	pool := &fakePool{row: fakeRow{values: []any{42.5}}}
	sum, err := NewTradeRepository(pool, testTracer).SumClosedNetPnL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.5, sum)
}

func TestInsertPredictionSetsID(t *testing.T) {
	pool := &fakePool{row: fakeRow{values: []any{int64(7)}}}
	p := &domain.Prediction{Symbol: "BTC", Timestamp: time.Now()}

	require.NoError(t, NewPredictionRepository(pool, testTracer).InsertPrediction(context.Background(), p))
	assert.Equal(t, int64(7), p.ID)
}

func TestListQueriesPropagateErrors(t *testing.T) {
	boom := errors.New("boom")
	pool := &fakePool{queryErr: boom}
	ctx := context.Background()

	_, err := NewTradeRepository(pool, testTracer).ListOpenTrades(ctx, "")
	assert.ErrorIs(t, err, boom)
	_, err = NewTradeRepository(pool, testTracer).ListClosedTradesSince(ctx, time.Now())
	assert.ErrorIs(t, err, boom)
	_, err = NewPredictionRepository(pool, testTracer).ListPredictions(ctx, "BTC", 10)
	assert.ErrorIs(t, err, boom)
	_, err = NewCandleRepository(pool, testTracer).GetCandles(ctx, "BTC", "1h", 10)
	assert.ErrorIs(t, err, boom)
}
