package position

import (
	"fmt"
	"strings"

	"ratescope/internal/amm"
	"ratescope/internal/cashflow"
	"ratescope/internal/vamm"
)

// Key is the identity of a position row. One LP owns one row per tick range
// per pool; rows are never deleted.
type Key struct {
	ChainID      uint64
	VAMMAddress  string
	OwnerAddress string
	TickLower    int32
	TickUpper    int32
}

// String renders the key for logs and map lookups.
func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%s:%d:%d", k.ChainID, strings.ToLower(k.VAMMAddress), strings.ToLower(k.OwnerAddress), k.TickLower, k.TickUpper)
}

// Row is the reconciled aggregate of one LP position. The cashflow triple
// keeps unrealized PnL a closed-form function of liquidity index and time,
// which is what lets swaps fold in without replaying history.
type Row struct {
	Key

	MarginEngineAddress string
	RateOracle          string
	RateOracleIndex     int
	UnderlyingToken     string

	Liquidity                 float64
	NotionalLiquidityProvided float64

	// TickPrevious is the tick at which this position's passive exposure
	// was last evaluated.
	TickPrevious int32

	NetNotionalLocked  float64
	NetFixedRateLocked float64
	CashflowLiFactor   float64
	CashflowTimeFactor float64
	CashflowFreeTerm   float64

	FixedTokenBalance    float64
	VariableTokenBalance float64

	RealizedPnLFromSwaps         float64
	RealizedPnLFromFeesPaid      float64
	RealizedPnLFromFeesCollected float64
	NetMarginDeposited           float64

	PositionInitializationBlockNumber uint64
	LastUpdatedBlockNumber            uint64
	LastUpdatedTimestamp              int64

	// Replay watermark: log position of the last event folded into this
	// row. Re-applying an event at or below it is a no-op, which is what
	// makes checkpoint replay safe.
	LastEventBlock    uint64
	LastEventTxIndex  uint
	LastEventLogIndex uint
}

// NewRow builds the fresh zero-valued row for a key first seen at meta.
func NewRow(key Key, pool amm.AMM, meta vamm.LogMeta, currentTick int32) Row {
	return Row{
		Key:                               key,
		MarginEngineAddress:               strings.ToLower(pool.MarginEngineAddress),
		RateOracle:                        strings.ToLower(pool.RateOracleAddress),
		RateOracleIndex:                   pool.RateOracleIndex,
		UnderlyingToken:                   pool.UnderlyingToken,
		TickPrevious:                      currentTick,
		PositionInitializationBlockNumber: meta.BlockNumber,
	}
}

// Cashflow assembles the row's merged cashflow tuple.
func (r Row) Cashflow() cashflow.Info {
	return cashflow.Info{
		Notional:   r.NetNotionalLocked,
		LiFactor:   r.CashflowLiFactor,
		TimeFactor: r.CashflowTimeFactor,
		FreeTerm:   r.CashflowFreeTerm,
	}
}

// UnrealizedPnL evaluates the row's PnL at the given index and time.
func (r Row) UnrealizedPnL(liquidityIndex float64, timestamp int64) float64 {
	return cashflow.UnrealizedPnL(r.Cashflow(), liquidityIndex, timestamp)
}

// seen reports whether the event at meta is already folded into the row.
func (r Row) seen(meta vamm.LogMeta) bool {
	if r.LastEventBlock == 0 && r.LastEventTxIndex == 0 && r.LastEventLogIndex == 0 && r.LastUpdatedBlockNumber == 0 {
		return false
	}
	if meta.BlockNumber != r.LastEventBlock {
		return meta.BlockNumber < r.LastEventBlock
	}
	if meta.TxIndex != r.LastEventTxIndex {
		return meta.TxIndex < r.LastEventTxIndex
	}
	return meta.LogIndex <= r.LastEventLogIndex
}

func (r *Row) advanceWatermark(meta vamm.LogMeta) {
	r.LastEventBlock = meta.BlockNumber
	r.LastEventTxIndex = meta.TxIndex
	r.LastEventLogIndex = meta.LogIndex
	r.LastUpdatedBlockNumber = meta.BlockNumber
	r.LastUpdatedTimestamp = meta.Timestamp
}
