package vamm

import (
	"fmt"
	"strings"
)

// Kind discriminates the decoded vAMM event variants.
type Kind string

const (
	KindMint        Kind = "mint"
	KindBurn        Kind = "burn"
	KindSwap        Kind = "swap"
	KindPriceChange Kind = "price_change"
)

// LogMeta carries the on-chain position of an event. (BlockNumber, TxIndex)
// establishes the total order the projector depends on; LogIndex breaks no
// ties but anchors the per-row replay watermark.
type LogMeta struct {
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
	TxHash      string
	Timestamp   int64
}

// Event is a tagged variant: exactly one payload pointer matching Kind is set.
type Event struct {
	Kind Kind
	Meta LogMeta

	Mint        *MintEvent
	Burn        *BurnEvent
	Swap        *SwapEvent
	PriceChange *PriceChangeEvent
}

// MintEvent adds liquidity to a tick range.
type MintEvent struct {
	ChainID      uint64
	VAMMAddress  string
	OwnerAddress string
	TickLower    int32
	TickUpper    int32

	// LiquidityDelta is descaled by the underlying token's decimals.
	LiquidityDelta float64
}

// BurnEvent removes liquidity from a tick range.
type BurnEvent struct {
	ChainID      uint64
	VAMMAddress  string
	OwnerAddress string
	TickLower    int32
	TickUpper    int32

	LiquidityDelta float64
}

// SwapEvent is a trade against the pool, real or synthesized. Synthetic
// events are never persisted; only their effect on the position row is.
type SwapEvent struct {
	EventID      string
	ChainID      uint64
	VAMMAddress  string
	OwnerAddress string
	TickLower    int32
	TickUpper    int32

	VariableTokenDelta        float64
	FixedTokenDeltaUnbalanced float64
	FeePaidToLps              float64

	BlockNumber uint64
	Timestamp   int64
}

// PriceChangeEvent records the pool tick moving. IsInitial marks pool
// genesis and supplies the first tickPrevious for every position.
type PriceChangeEvent struct {
	ChainID     uint64
	VAMMAddress string
	Tick        int32
	IsInitial   bool

	BlockNumber uint64
	Timestamp   int64
}

// SyntheticSwapID derives the deterministic id of a passive swap. Determinism
// matters: replaying the same price change must produce the same id.
func SyntheticSwapID(chainID uint64, vammAddress, ownerAddress string, timestamp int64) string {
	return strings.ToLower(fmt.Sprintf("%d_%s_%s_%d", chainID, vammAddress, ownerAddress, timestamp))
}
