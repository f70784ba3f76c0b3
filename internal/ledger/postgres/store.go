package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratescope/internal/position"
)

// Store provides Postgres persistence for the position ledger.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const positionColumns = `
	chain_id, vamm_address, owner_address, tick_lower, tick_upper,
	margin_engine_address, rate_oracle, rate_oracle_index, underlying_token,
	liquidity, notional_liquidity_provided, tick_previous,
	net_notional_locked, net_fixed_rate_locked,
	cashflow_li_factor, cashflow_time_factor, cashflow_free_term,
	fixed_token_balance, variable_token_balance,
	realized_pnl_from_swaps, realized_pnl_from_fees_paid,
	realized_pnl_from_fees_collected, net_margin_deposited,
	position_initialization_block_number,
	last_updated_block_number, last_updated_timestamp,
	last_event_block, last_event_tx_index, last_event_log_index`

// ActivePositions returns the pool's rows last updated strictly before the
// given timestamp.
func (s *Store) ActivePositions(ctx context.Context, chainID uint64, vammAddress string, updatedBefore int64) ([]position.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM lp_positions
		WHERE chain_id = $1 AND vamm_address = $2 AND last_updated_timestamp < $3
		ORDER BY owner_address, tick_lower, tick_upper
	`, int64(chainID), vammAddress, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	out := make([]position.Row, 0)
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetPosition returns the row for an identity key, reporting absence.
func (s *Store) GetPosition(ctx context.Context, key position.Key) (position.Row, bool, error) {
	row, err := scanRow(s.pool.QueryRow(ctx, `
		SELECT `+positionColumns+`
		FROM lp_positions
		WHERE chain_id = $1 AND vamm_address = $2 AND owner_address = $3
		  AND tick_lower = $4 AND tick_upper = $5
	`, int64(key.ChainID), key.VAMMAddress, key.OwnerAddress, key.TickLower, key.TickUpper))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return position.Row{}, false, nil
		}
		return position.Row{}, false, fmt.Errorf("query position: %w", err)
	}
	return row, true, nil
}

// UpsertPositions writes the batch inside one transaction so a persist step
// is all-or-nothing.
func (s *Store) UpsertPositions(ctx context.Context, rows []position.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO lp_positions (`+positionColumns+`, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,now(),now())
			ON CONFLICT (chain_id, vamm_address, owner_address, tick_lower, tick_upper)
			DO UPDATE SET
				liquidity = EXCLUDED.liquidity,
				notional_liquidity_provided = EXCLUDED.notional_liquidity_provided,
				tick_previous = EXCLUDED.tick_previous,
				net_notional_locked = EXCLUDED.net_notional_locked,
				net_fixed_rate_locked = EXCLUDED.net_fixed_rate_locked,
				cashflow_li_factor = EXCLUDED.cashflow_li_factor,
				cashflow_time_factor = EXCLUDED.cashflow_time_factor,
				cashflow_free_term = EXCLUDED.cashflow_free_term,
				fixed_token_balance = EXCLUDED.fixed_token_balance,
				variable_token_balance = EXCLUDED.variable_token_balance,
				realized_pnl_from_swaps = EXCLUDED.realized_pnl_from_swaps,
				realized_pnl_from_fees_paid = EXCLUDED.realized_pnl_from_fees_paid,
				realized_pnl_from_fees_collected = EXCLUDED.realized_pnl_from_fees_collected,
				net_margin_deposited = EXCLUDED.net_margin_deposited,
				last_updated_block_number = EXCLUDED.last_updated_block_number,
				last_updated_timestamp = EXCLUDED.last_updated_timestamp,
				last_event_block = EXCLUDED.last_event_block,
				last_event_tx_index = EXCLUDED.last_event_tx_index,
				last_event_log_index = EXCLUDED.last_event_log_index,
				updated_at = now()
		`,
			int64(row.ChainID),
			row.VAMMAddress,
			row.OwnerAddress,
			row.TickLower,
			row.TickUpper,
			row.MarginEngineAddress,
			row.RateOracle,
			row.RateOracleIndex,
			row.UnderlyingToken,
			row.Liquidity,
			row.NotionalLiquidityProvided,
			row.TickPrevious,
			row.NetNotionalLocked,
			row.NetFixedRateLocked,
			row.CashflowLiFactor,
			row.CashflowTimeFactor,
			row.CashflowFreeTerm,
			row.FixedTokenBalance,
			row.VariableTokenBalance,
			row.RealizedPnLFromSwaps,
			row.RealizedPnLFromFeesPaid,
			row.RealizedPnLFromFeesCollected,
			row.NetMarginDeposited,
			int64(row.PositionInitializationBlockNumber),
			int64(row.LastUpdatedBlockNumber),
			row.LastUpdatedTimestamp,
			int64(row.LastEventBlock),
			int64(row.LastEventTxIndex),
			int64(row.LastEventLogIndex),
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert position: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

func scanRow(scanner pgx.Row) (position.Row, error) {
	var row position.Row
	var chainID, initBlock, lastBlock, eventBlock, eventTxIndex, eventLogIndex int64

	err := scanner.Scan(
		&chainID,
		&row.VAMMAddress,
		&row.OwnerAddress,
		&row.TickLower,
		&row.TickUpper,
		&row.MarginEngineAddress,
		&row.RateOracle,
		&row.RateOracleIndex,
		&row.UnderlyingToken,
		&row.Liquidity,
		&row.NotionalLiquidityProvided,
		&row.TickPrevious,
		&row.NetNotionalLocked,
		&row.NetFixedRateLocked,
		&row.CashflowLiFactor,
		&row.CashflowTimeFactor,
		&row.CashflowFreeTerm,
		&row.FixedTokenBalance,
		&row.VariableTokenBalance,
		&row.RealizedPnLFromSwaps,
		&row.RealizedPnLFromFeesPaid,
		&row.RealizedPnLFromFeesCollected,
		&row.NetMarginDeposited,
		&initBlock,
		&lastBlock,
		&row.LastUpdatedTimestamp,
		&eventBlock,
		&eventTxIndex,
		&eventLogIndex,
	)
	if err != nil {
		return position.Row{}, err
	}

	row.ChainID = uint64(chainID)
	row.PositionInitializationBlockNumber = uint64(initBlock)
	row.LastUpdatedBlockNumber = uint64(lastBlock)
	row.LastEventBlock = uint64(eventBlock)
	row.LastEventTxIndex = uint(eventTxIndex)
	row.LastEventLogIndex = uint(eventLogIndex)
	return row, nil
}
