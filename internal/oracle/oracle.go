package oracle

import (
	"context"

	"ratescope/internal/amm"
)

// RateOracle supplies the liquidity-index values that scale variable-rate
// cashflow. Implementations are external collaborators; the sync engine only
// consumes this contract.
type RateOracle interface {
	// LiquidityIndexAt returns the index value prevailing at the given
	// unix-seconds timestamp.
	LiquidityIndexAt(ctx context.Context, pool amm.AMM, timestamp int64) (float64, error)
	// VariableFactorBetween returns the variable factor accrued between
	// two unix-milliseconds timestamps.
	VariableFactorBetween(ctx context.Context, pool amm.AMM, fromMS, toMS int64) (float64, error)
}

// Fixed is a RateOracle returning a constant index, for tests.
type Fixed struct {
	Index  float64
	Factor float64
}

func (f Fixed) LiquidityIndexAt(context.Context, amm.AMM, int64) (float64, error) {
	return f.Index, nil
}

func (f Fixed) VariableFactorBetween(context.Context, amm.AMM, int64, int64) (float64, error) {
	return f.Factor, nil
}
