package position

import (
	"fmt"
	"math/big"

	"ratescope/internal/amm"
	"ratescope/internal/cashflow"
	"ratescope/internal/tickmath"
	"ratescope/internal/vamm"
)

// Projector folds ordered vAMM events onto position rows. Every Apply method
// is idempotent under re-application: events at or below the row's replay
// watermark leave the row untouched and report applied=false.
type Projector struct {
	pool amm.AMM
}

func NewProjector(pool amm.AMM) *Projector {
	return &Projector{pool: pool}
}

// ApplySwap folds one swap (real or synthetic) onto the prior row. The
// incoming cashflow tuple is scaled against the liquidity index prevailing at
// the event and merged component-wise with the row's existing tuple.
func (p *Projector) ApplySwap(prior *Row, event *vamm.SwapEvent, meta vamm.LogMeta, currentTick int32, liquidityIndex float64) (Row, bool, error) {
	if event == nil {
		return Row{}, false, fmt.Errorf("nil swap event")
	}
	if liquidityIndex <= 0 {
		return Row{}, false, fmt.Errorf("liquidity index must be positive, got %v", liquidityIndex)
	}

	row := p.priorOrFresh(prior, swapKey(event), meta, currentTick)
	if row.seen(meta) {
		return row, false, nil
	}

	incoming := cashflow.FromSwap(event.VariableTokenDelta, event.FixedTokenDeltaUnbalanced, liquidityIndex, event.Timestamp)
	merged := cashflow.Merge(row.Cashflow(), incoming, p.pool.MaturityTimestamp())

	row.NetNotionalLocked = merged.Notional
	row.CashflowLiFactor = merged.LiFactor
	row.CashflowTimeFactor = merged.TimeFactor
	row.CashflowFreeTerm = merged.FreeTerm
	row.NetFixedRateLocked = cashflow.NetFixedRateLocked(merged)

	row.VariableTokenBalance += event.VariableTokenDelta
	row.FixedTokenBalance += event.FixedTokenDeltaUnbalanced
	row.RealizedPnLFromFeesPaid -= event.FeePaidToLps

	row.advanceWatermark(meta)
	return row, true, nil
}

// ApplyMint folds a liquidity add. The notional the liquidity represents over
// the full range is derived from tick math and recorded directly, outside the
// cashflow merge.
func (p *Projector) ApplyMint(prior *Row, event *vamm.MintEvent, meta vamm.LogMeta, currentTick int32) (Row, bool, error) {
	if event == nil {
		return Row{}, false, fmt.Errorf("nil mint event")
	}

	row := p.priorOrFresh(prior, liquidityKey(event), meta, currentTick)
	if row.seen(meta) {
		return row, false, nil
	}

	notional, err := p.rangeNotional(event.TickLower, event.TickUpper, event.LiquidityDelta)
	if err != nil {
		return Row{}, false, err
	}

	row.Liquidity += event.LiquidityDelta
	row.NetNotionalLocked += notional
	row.NotionalLiquidityProvided += notional

	row.advanceWatermark(meta)
	return row, true, nil
}

// ApplyBurn folds a liquidity removal. Liquidity may decay to zero but the
// row survives for historical PnL queries.
func (p *Projector) ApplyBurn(prior *Row, event *vamm.BurnEvent, meta vamm.LogMeta, currentTick int32) (Row, bool, error) {
	if event == nil {
		return Row{}, false, fmt.Errorf("nil burn event")
	}

	row := p.priorOrFresh(prior, liquidityKey((*vamm.MintEvent)(event)), meta, currentTick)
	if row.seen(meta) {
		return row, false, nil
	}

	notional, err := p.rangeNotional(event.TickLower, event.TickUpper, event.LiquidityDelta)
	if err != nil {
		return Row{}, false, err
	}

	row.Liquidity -= event.LiquidityDelta
	row.NetNotionalLocked -= notional

	row.advanceWatermark(meta)
	return row, true, nil
}

// rangeNotional converts a liquidity magnitude into the variable-leg notional
// it commands across [tickLower, tickUpper).
func (p *Projector) rangeNotional(tickLower, tickUpper int32, liquidity float64) (float64, error) {
	sqrtLower, err := tickmath.SqrtRatioAtTick(tickLower)
	if err != nil {
		return 0, err
	}
	sqrtUpper, err := tickmath.SqrtRatioAtTick(tickUpper)
	if err != nil {
		return 0, err
	}

	raw := scaleLiquidity(liquidity, p.pool.TokenDecimals)
	notional := tickmath.Amount1Delta(sqrtLower, sqrtUpper, raw, false)
	return vamm.Descale(notional, p.pool.TokenDecimals), nil
}

func (p *Projector) priorOrFresh(prior *Row, key Key, meta vamm.LogMeta, currentTick int32) Row {
	if prior != nil {
		return *prior
	}
	return NewRow(key, p.pool, meta, currentTick)
}

func swapKey(event *vamm.SwapEvent) Key {
	return Key{
		ChainID:      event.ChainID,
		VAMMAddress:  event.VAMMAddress,
		OwnerAddress: event.OwnerAddress,
		TickLower:    event.TickLower,
		TickUpper:    event.TickUpper,
	}
}

func liquidityKey(event *vamm.MintEvent) Key {
	return Key{
		ChainID:      event.ChainID,
		VAMMAddress:  event.VAMMAddress,
		OwnerAddress: event.OwnerAddress,
		TickLower:    event.TickLower,
		TickUpper:    event.TickUpper,
	}
}

// scaleLiquidity lifts a descaled liquidity magnitude back into raw token
// units for the integer tick math.
func scaleLiquidity(liquidity float64, decimals int) *big.Int {
	scaled, _ := new(big.Float).Mul(big.NewFloat(liquidity), pow10Float(decimals)).Int(nil)
	return scaled
}

func pow10Float(decimals int) *big.Float {
	out := big.NewFloat(1)
	ten := big.NewFloat(10)
	for i := 0; i < decimals; i++ {
		out.Mul(out, ten)
	}
	return out
}
