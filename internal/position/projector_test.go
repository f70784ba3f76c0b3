package position

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ratescope/internal/amm"
	"ratescope/internal/cashflow"
	"ratescope/internal/vamm"
)

func testPool() amm.AMM {
	return amm.AMM{
		ChainID:              1,
		VAMMAddress:          "0xa1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
		MarginEngineAddress:  "0x1111111111111111111111111111111111111111",
		RateOracleAddress:    "0x2222222222222222222222222222222222222222",
		RateOracleIndex:      1,
		UnderlyingToken:      "0x3333333333333333333333333333333333333333",
		TokenDecimals:        18,
		TermStartTimestampMS: 1_600_000_000_000,
		TermEndTimestampMS:   1_660_000_000_000,
		GenesisBlock:         100,
	}
}

func metaAt(block uint64, txIndex, logIndex uint, ts int64) vamm.LogMeta {
	return vamm.LogMeta{
		BlockNumber: block,
		TxIndex:     txIndex,
		LogIndex:    logIndex,
		TxHash:      "0xdeadbeef",
		Timestamp:   ts,
	}
}

func swapAt(pool amm.AMM, owner string, vtd, ftdu, fee float64, ts int64) *vamm.SwapEvent {
	return &vamm.SwapEvent{
		EventID:                   "0xdeadbeef_3",
		ChainID:                   pool.ChainID,
		VAMMAddress:               pool.VAMMAddress,
		OwnerAddress:              owner,
		TickLower:                 -60,
		TickUpper:                 60,
		VariableTokenDelta:        vtd,
		FixedTokenDeltaUnbalanced: ftdu,
		FeePaidToLps:              fee,
		BlockNumber:               200,
		Timestamp:                 ts,
	}
}

func TestApplySwapFoldsCashflowTuple(t *testing.T) {
	pool := testPool()
	projector := NewProjector(pool)

	const (
		vtd   = -1000.0
		ftdu  = 5000.0
		fee   = 2.5
		index = 1.05
		ts    = int64(1_650_000_000)
	)

	row, applied, err := projector.ApplySwap(nil, swapAt(pool, "0xowner", vtd, ftdu, fee, ts), metaAt(200, 3, 7, ts), 30, index)
	require.NoError(t, err)
	require.True(t, applied)

	require.InEpsilon(t, vtd/index, row.CashflowLiFactor, 1e-12)
	require.InEpsilon(t, ftdu*0.01, row.CashflowTimeFactor, 1e-12)
	require.InEpsilon(t, -vtd-(ftdu*0.01*float64(ts))/cashflow.SecondsInYear, row.CashflowFreeTerm, 1e-12)
	require.Equal(t, vtd, row.NetNotionalLocked)
	require.Equal(t, vtd, row.VariableTokenBalance)
	require.Equal(t, ftdu, row.FixedTokenBalance)
	require.Equal(t, -fee, row.RealizedPnLFromFeesPaid)

	require.Equal(t, uint64(200), row.LastEventBlock)
	require.Equal(t, uint(3), row.LastEventTxIndex)
	require.Equal(t, uint(7), row.LastEventLogIndex)
	require.Equal(t, ts, row.LastUpdatedTimestamp)
	require.Equal(t, int32(30), row.TickPrevious)

	// At inception PnL evaluates to zero at the event's own index and time.
	require.InDelta(t, 0, row.UnrealizedPnL(index, ts), 1e-6)
}

func TestApplySwapReplayIsNoOp(t *testing.T) {
	pool := testPool()
	projector := NewProjector(pool)
	meta := metaAt(200, 3, 7, 1_650_000_000)
	event := swapAt(pool, "0xowner", -1000, 5000, 2.5, 1_650_000_000)

	first, applied, err := projector.ApplySwap(nil, event, meta, 30, 1.05)
	require.NoError(t, err)
	require.True(t, applied)

	second, applied, err := projector.ApplySwap(&first, event, meta, 30, 1.05)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, first, second)
}

func TestApplySwapRejectsStaleEvent(t *testing.T) {
	pool := testPool()
	projector := NewProjector(pool)

	row, applied, err := projector.ApplySwap(nil, swapAt(pool, "0xowner", -1000, 5000, 0, 1_650_000_000), metaAt(200, 3, 7, 1_650_000_000), 30, 1.05)
	require.NoError(t, err)
	require.True(t, applied)

	stale := metaAt(150, 1, 1, 1_640_000_000)
	_, applied, err = projector.ApplySwap(&row, swapAt(pool, "0xowner", -500, 2000, 0, 1_640_000_000), stale, 30, 1.05)
	require.NoError(t, err)
	require.False(t, applied)
}

func TestApplySwapRejectsNonPositiveIndex(t *testing.T) {
	pool := testPool()
	projector := NewProjector(pool)

	_, _, err := projector.ApplySwap(nil, swapAt(pool, "0xowner", -1000, 5000, 0, 1_650_000_000), metaAt(200, 3, 7, 1_650_000_000), 30, 0)
	require.Error(t, err)
}

func TestApplyMintThenBurnRoundTrips(t *testing.T) {
	pool := testPool()
	projector := NewProjector(pool)

	mint := &vamm.MintEvent{
		ChainID:        pool.ChainID,
		VAMMAddress:    pool.VAMMAddress,
		OwnerAddress:   "0xlp",
		TickLower:      -60,
		TickUpper:      60,
		LiquidityDelta: 10,
	}

	row, applied, err := projector.ApplyMint(nil, mint, metaAt(200, 0, 0, 1_650_000_000), 0)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 10.0, row.Liquidity)
	require.Greater(t, row.NetNotionalLocked, 0.0)
	require.Equal(t, row.NetNotionalLocked, row.NotionalLiquidityProvided)

	provided := row.NotionalLiquidityProvided

	burn := (*vamm.BurnEvent)(mint)
	row, applied, err = projector.ApplyBurn(&row, burn, metaAt(201, 0, 0, 1_650_000_100), 0)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 0.0, row.Liquidity)
	require.InDelta(t, 0, row.NetNotionalLocked, 1e-9)
	// Lifetime provided notional survives the burn.
	require.Equal(t, provided, row.NotionalLiquidityProvided)
}

func TestApplyMintReplayIsNoOp(t *testing.T) {
	pool := testPool()
	projector := NewProjector(pool)

	mint := &vamm.MintEvent{
		ChainID:        pool.ChainID,
		VAMMAddress:    pool.VAMMAddress,
		OwnerAddress:   "0xlp",
		TickLower:      -60,
		TickUpper:      60,
		LiquidityDelta: 10,
	}
	meta := metaAt(200, 0, 0, 1_650_000_000)

	first, applied, err := projector.ApplyMint(nil, mint, meta, 0)
	require.NoError(t, err)
	require.True(t, applied)

	second, applied, err := projector.ApplyMint(&first, mint, meta, 0)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, first, second)
}

func TestSequentialSwapsMergeComponentWise(t *testing.T) {
	pool := testPool()
	projector := NewProjector(pool)

	first, applied, err := projector.ApplySwap(nil, swapAt(pool, "0xowner", -1000, 5000, 0, 1_650_000_000), metaAt(200, 1, 1, 1_650_000_000), 0, 1.05)
	require.NoError(t, err)
	require.True(t, applied)

	event2 := swapAt(pool, "0xowner", 400, -1500, 0, 1_650_100_000)
	second, applied, err := projector.ApplySwap(&first, event2, metaAt(210, 1, 1, 1_650_100_000), 0, 1.06)
	require.NoError(t, err)
	require.True(t, applied)

	require.InEpsilon(t, -1000.0/1.05+400.0/1.06, second.CashflowLiFactor, 1e-12)
	require.InEpsilon(t, (5000.0-1500.0)*0.01, second.CashflowTimeFactor, 1e-12)
	require.Equal(t, -600.0, second.NetNotionalLocked)
	require.Equal(t, -600.0, second.VariableTokenBalance)
	require.Equal(t, 3500.0, second.FixedTokenBalance)
}
