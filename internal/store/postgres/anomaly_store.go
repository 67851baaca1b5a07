package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// AnomalyStore implements domain.AnomalyStore using PostgreSQL.
type AnomalyStore struct {
	pool *pgxpool.Pool
}

// NewAnomalyStore creates a new AnomalyStore backed by the given connection pool.
func NewAnomalyStore(pool *pgxpool.Pool) *AnomalyStore {
	return &AnomalyStore{pool: pool}
}

var _ domain.AnomalyStore = (*AnomalyStore)(nil)

// InsertBatch records the anomalies of one cycle. An anomaly already stored
// for the same cycle, kind and exec_id is skipped.
func (s *AnomalyStore) InsertBatch(ctx context.Context, anomalies []domain.AnomalyRecord) error {
	if len(anomalies) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO anomalies (cycle_id, kind, exec_id, symbol, commission, currency, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cycle_id, kind, exec_id) DO NOTHING`

	for _, a := range anomalies {
		batch.Queue(query,
			a.CycleID, string(a.Kind), a.ExecID, a.Symbol,
			nullDecimal(a.Commission), a.Currency, a.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range anomalies {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert anomaly batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByCycle returns the anomalies recorded for a cycle in detection order.
func (s *AnomalyStore) ListByCycle(ctx context.Context, cycleID string) ([]domain.AnomalyRecord, error) {
	const query = `
		SELECT cycle_id, kind, exec_id, symbol, commission, currency, detected_at
		FROM anomalies WHERE cycle_id = $1 ORDER BY id`

	rows, err := s.pool.Query(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list anomalies for cycle %s: %w", cycleID, err)
	}
	defer rows.Close()

	var out []domain.AnomalyRecord
	for rows.Next() {
		var (
			a    domain.AnomalyRecord
			comm decimal.NullDecimal
		)
		if err := rows.Scan(&a.CycleID, &a.Kind, &a.ExecID, &a.Symbol, &comm, &a.Currency, &a.DetectedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan anomaly: %w", err)
		}
		if comm.Valid {
			a.Commission = &comm.Decimal
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate anomalies: %w", err)
	}
	return out, nil
}
