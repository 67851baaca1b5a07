package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

var _ domain.FillStore = (*FillStore)(nil)

const fillSelectCols = `exec_id, con_id, symbol, sec_type, last_trade_date,
	strike, right_code, multiplier, exchange, primary_exchange, currency,
	order_id, perm_id, client_id, account, exec_exchange, side,
	shares, price, cum_qty, avg_price, executed_at, order_ref, last_liquidity,
	commission, commission_currency, realized_pnl, yield, cycle_id`

func scanFill(row pgx.Row) (domain.FillRecord, error) {
	var (
		f          domain.FillRecord
		executedAt *time.Time
		pnl, yield decimal.NullDecimal
	)
	err := row.Scan(
		&f.ExecID, &f.ConID, &f.Symbol, &f.SecType, &f.LastTradeDate,
		&f.Strike, &f.Right, &f.Multiplier, &f.Exchange, &f.PrimaryExchange, &f.Currency,
		&f.OrderID, &f.PermID, &f.ClientID, &f.Account, &f.ExecExchange, &f.Side,
		&f.Shares, &f.Price, &f.CumQty, &f.AvgPrice, &executedAt, &f.OrderRef, &f.LastLiquidity,
		&f.Commission, &f.CommissionCcy, &pnl, &yield, &f.CycleID,
	)
	if err != nil {
		return domain.FillRecord{}, err
	}
	if executedAt != nil {
		f.ExecutedAt = executedAt.UTC()
	}
	if pnl.Valid {
		f.RealizedPNL = &pnl.Decimal
	}
	if yield.Valid {
		f.Yield = &yield.Decimal
	}
	return f, nil
}

func scanFillRows(rows pgx.Rows) ([]domain.FillRecord, error) {
	var fills []domain.FillRecord
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// InsertBatch inserts fills using a pgx Batch. A fill whose exec_id is
// already stored is skipped, so replaying a cycle is harmless.
func (s *FillStore) InsertBatch(ctx context.Context, fills []domain.FillRecord) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fills (
			exec_id, con_id, symbol, sec_type, last_trade_date,
			strike, right_code, multiplier, exchange, primary_exchange, currency,
			order_id, perm_id, client_id, account, exec_exchange, side,
			shares, price, cum_qty, avg_price, executed_at, order_ref, last_liquidity,
			commission, commission_currency, realized_pnl, yield, cycle_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24,
			$25, $26, $27, $28, $29
		) ON CONFLICT (exec_id) DO NOTHING`

	for _, f := range fills {
		batch.Queue(query,
			f.ExecID, f.ConID, f.Symbol, f.SecType, f.LastTradeDate,
			f.Strike, f.Right, f.Multiplier, f.Exchange, f.PrimaryExchange, f.Currency,
			f.OrderID, f.PermID, f.ClientID, f.Account, f.ExecExchange, string(f.Side),
			f.Shares, f.Price, f.CumQty, f.AvgPrice, nullTime(f.ExecutedAt), f.OrderRef, f.LastLiquidity,
			f.Commission, f.CommissionCcy, nullDecimal(f.RealizedPNL), nullDecimal(f.Yield), f.CycleID,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d (%s): %w", i, fills[i].ExecID, err)
		}
	}
	return nil
}

// GetByExecID returns the fill with the given execution identifier.
func (s *FillStore) GetByExecID(ctx context.Context, execID string) (domain.FillRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+fillSelectCols+` FROM fills WHERE exec_id = $1`, execID)
	f, err := scanFill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FillRecord{}, fmt.Errorf("postgres: fill %s: %w", execID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.FillRecord{}, fmt.Errorf("postgres: get fill %s: %w", execID, err)
	}
	return f, nil
}

// ListByAccount returns fills for an account, newest first.
func (s *FillStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.FillRecord, error) {
	return s.list(ctx, "account", account, opts)
}

// ListBySymbol returns fills for a symbol, newest first.
func (s *FillStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.FillRecord, error) {
	return s.list(ctx, "symbol", symbol, opts)
}

// list runs a filtered, paginated query. column is always a constant chosen
// by the caller.
func (s *FillStore) list(ctx context.Context, column, value string, opts domain.ListOpts) ([]domain.FillRecord, error) {
	query, args := listFillsQuery(column, value, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by %s: %w", column, err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by %s: %w", column, err)
	}
	return fills, nil
}

func listFillsQuery(column, value string, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE ` + column + ` = $1`
	args := []any{value}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC, exec_id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
