package passive

import (
	"errors"
	"fmt"
	"math/big"

	"ratescope/internal/amm"
	"ratescope/internal/position"
	"ratescope/internal/tickmath"
	"ratescope/internal/vamm"
)

// ErrOutOfOrderEvent is returned when a position row claims an update after
// the price-change event being processed: the event stream is violating its
// total order and synthesizing a trade from it would corrupt the ledger.
var ErrOutOfOrderEvent = errors.New("position updated after event")

// Result pairs the synthesized swaps with the rows they affected. Events[i]
// belongs to Affected[i]; Affected rows are copies with tickPrevious advanced
// to the event tick, so the caller's input rows are never mutated.
type Result struct {
	Events   []vamm.SwapEvent
	Affected []position.Row
}

// Synthesize detects, for each LP row, the implicit trade caused by the pool
// price moving from the row's tickPrevious to the event tick, and emits one
// synthetic swap per crossed row. Rows whose range the price never touched
// are left out entirely, tickPrevious included: it still reflects the last
// time the price was observed while possibly relevant.
func Synthesize(pool amm.AMM, rows []position.Row, change vamm.PriceChangeEvent) (Result, error) {
	var out Result

	for i := range rows {
		row := rows[i]
		if row.LastUpdatedTimestamp > change.Timestamp {
			return Result{}, fmt.Errorf("%w: position %s at %d, event at %d",
				ErrOutOfOrderEvent, row.Key.String(), row.LastUpdatedTimestamp, change.Timestamp)
		}

		deltas, crossed, err := RowTokenDeltas(row.Liquidity, row.TickLower, row.TickUpper, change.Tick, row.TickPrevious, pool.TokenDecimals)
		if err != nil {
			return Result{}, err
		}
		if !crossed {
			continue
		}

		event := vamm.SwapEvent{
			EventID:                   vamm.SyntheticSwapID(change.ChainID, change.VAMMAddress, row.OwnerAddress, change.Timestamp),
			ChainID:                   change.ChainID,
			VAMMAddress:               change.VAMMAddress,
			OwnerAddress:              row.OwnerAddress,
			TickLower:                 row.TickLower,
			TickUpper:                 row.TickUpper,
			VariableTokenDelta:        deltas.VariableTokenDelta,
			FixedTokenDeltaUnbalanced: deltas.FixedTokenDeltaUnbalanced,
			FeePaidToLps:              0,
			BlockNumber:               change.BlockNumber,
			Timestamp:                 change.Timestamp,
		}

		advanced := row
		advanced.TickPrevious = change.Tick

		out.Events = append(out.Events, event)
		out.Affected = append(out.Affected, advanced)
	}

	return out, nil
}

// Deltas is the passive token delta pair assigned to one LP.
type Deltas struct {
	VariableTokenDelta        float64
	FixedTokenDeltaUnbalanced float64
}

// IsVariableTakerSwap reports the passive side the LP takes. A rising price
// means the real trade was a fixed taker, so the LP passively takes variable.
func IsVariableTakerSwap(tickCurrent, tickPrevious int32) bool {
	return tickCurrent > tickPrevious
}

// PassiveTokenDeltas computes the implicit token movements for a position
// over [tickLower, tickUpper) when the pool tick moves tickPrevious ->
// tickCurrent. The traversed sub-interval is the overlap of the price path
// with the range; crossed=false means the path never touched the range.
func PassiveTokenDeltas(liquidity *big.Int, tickLower, tickUpper, tickCurrent, tickPrevious int32) (variable, fixed *big.Int, crossed bool, err error) {
	var boundA, boundB int32

	switch {
	case tickPrevious < tickLower:
		switch {
		case tickCurrent < tickLower:
			return nil, nil, false, nil
		case tickCurrent < tickUpper:
			boundA, boundB = tickLower, tickCurrent
		default:
			boundA, boundB = tickLower, tickUpper
		}
	case tickPrevious < tickUpper:
		switch {
		case tickCurrent < tickLower:
			boundA, boundB = tickLower, tickPrevious
		case tickCurrent < tickUpper:
			boundA, boundB = tickPrevious, tickCurrent
		default:
			boundA, boundB = tickPrevious, tickUpper
		}
	default:
		switch {
		case tickCurrent < tickLower:
			boundA, boundB = tickLower, tickUpper
		case tickCurrent < tickUpper:
			boundA, boundB = tickCurrent, tickUpper
		default:
			return nil, nil, false, nil
		}
	}

	sqrtA, err := tickmath.SqrtRatioAtTick(boundA)
	if err != nil {
		return nil, nil, false, err
	}
	sqrtB, err := tickmath.SqrtRatioAtTick(boundB)
	if err != nil {
		return nil, nil, false, err
	}

	variableMagnitude := tickmath.Amount1Delta(sqrtA, sqrtB, liquidity, true)
	fixedMagnitude := tickmath.Amount0Delta(sqrtA, sqrtB, liquidity, true)

	// The LP's two legs always oppose each other: the leg on the passive
	// taker side is positive, the other is negated.
	if IsVariableTakerSwap(tickCurrent, tickPrevious) {
		fixedMagnitude.Neg(fixedMagnitude)
	} else {
		variableMagnitude.Neg(variableMagnitude)
	}

	return variableMagnitude, fixedMagnitude, true, nil
}

// RowTokenDeltas wraps PassiveTokenDeltas for descaled row quantities.
func RowTokenDeltas(liquidity float64, tickLower, tickUpper, tickCurrent, tickPrevious int32, tokenDecimals int) (Deltas, bool, error) {
	raw := scaleToRaw(liquidity, tokenDecimals)
	variable, fixed, crossed, err := PassiveTokenDeltas(raw, tickLower, tickUpper, tickCurrent, tickPrevious)
	if err != nil || !crossed {
		return Deltas{}, false, err
	}
	return Deltas{
		VariableTokenDelta:        vamm.Descale(variable, tokenDecimals),
		FixedTokenDeltaUnbalanced: vamm.Descale(fixed, tokenDecimals),
	}, true, nil
}

func scaleToRaw(value float64, decimals int) *big.Int {
	scale := big.NewFloat(1)
	ten := big.NewFloat(10)
	for i := 0; i < decimals; i++ {
		scale.Mul(scale, ten)
	}
	out, _ := new(big.Float).Mul(big.NewFloat(value), scale).Int(nil)
	return out
}
