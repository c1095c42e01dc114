package repository

import (
	"context"

	"crypto-paper-trader/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const createPredictionsTable = `
CREATE TABLE IF NOT EXISTS predictions (
    id               BIGSERIAL   PRIMARY KEY,
    symbol           TEXT        NOT NULL,
    predicted_at     TIMESTAMPTZ NOT NULL,
    horizon_hours    INTEGER     NOT NULL,
    current_price    DOUBLE PRECISION NOT NULL,
    predicted_price  DOUBLE PRECISION NOT NULL,
    predicted_return DOUBLE PRECISION NOT NULL,
    confidence       DOUBLE PRECISION NOT NULL,
    quantile_low     DOUBLE PRECISION NOT NULL,
    quantile_high    DOUBLE PRECISION NOT NULL,
    neutral          BOOLEAN     NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_predictions_symbol_time
    ON predictions (symbol, predicted_at DESC);
`

// PredictionRepository is the append-only prediction audit log.
type PredictionRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPredictionRepository(pool PgxPool, tracer trace.Tracer) *PredictionRepository {
	return &PredictionRepository{pool: pool, tracer: tracer}
}

func (r *PredictionRepository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "prediction-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createPredictionsTable)
	return err
}

// InsertPrediction stores p and sets its ID.
func (r *PredictionRepository) InsertPrediction(ctx context.Context, p *domain.Prediction) error {
	ctx, span := r.tracer.Start(ctx, "prediction-repo.insert")
	defer span.End()

	return r.pool.QueryRow(ctx,
		`INSERT INTO predictions (
		     symbol, predicted_at, horizon_hours, current_price, predicted_price,
		     predicted_return, confidence, quantile_low, quantile_high, neutral
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		p.Symbol, p.Timestamp.UTC(), p.HorizonHours, p.CurrentPrice, p.PredictedPrice,
		p.PredictedReturn, p.ConfidenceScore, p.QuantileLow, p.QuantileHigh, p.Neutral,
	).Scan(&p.ID)
}

// ListPredictions returns the most recent predictions for symbol, newest first.
func (r *PredictionRepository) ListPredictions(ctx context.Context, symbol string, limit int) ([]*domain.Prediction, error) {
	ctx, span := r.tracer.Start(ctx, "prediction-repo.list")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, predicted_at, horizon_hours, current_price, predicted_price,
		        predicted_return, confidence, quantile_low, quantile_high, neutral
		 FROM predictions
		 WHERE symbol = $1
		 ORDER BY predicted_at DESC
		 LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.Timestamp, &p.HorizonHours, &p.CurrentPrice, &p.PredictedPrice,
			&p.PredictedReturn, &p.ConfidenceScore, &p.QuantileLow, &p.QuantileHigh, &p.Neutral,
		); err != nil {
			return nil, err
		}
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, &p)
	}
	return out, rows.Err()
}
