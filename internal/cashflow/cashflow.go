package cashflow

import "math"

// SecondsInYear converts the time factor into an annualized rate.
const SecondsInYear = 31536000.0

// Info is the linear cashflow decomposition of a position. Unrealized PnL at
// liquidity index L and time t is exactly
//
//	L*LiFactor + t*TimeFactor/SecondsInYear + FreeTerm
//
// so two trades' effects combine by component-wise addition.
type Info struct {
	Notional   float64
	LiFactor   float64
	TimeFactor float64
	FreeTerm   float64
}

// Zero is the identity element of Merge.
var Zero = Info{}

// FromSwap derives the incoming cashflow tuple of one swap, real or synthetic.
// The fixed-token delta is expressed in fixed-rate percentage points, hence
// the 0.01 scaling.
func FromSwap(variableTokenDelta, fixedTokenDeltaUnbalanced, liquidityIndex float64, eventTimestamp int64) Info {
	return Info{
		Notional:   variableTokenDelta,
		LiFactor:   variableTokenDelta / liquidityIndex,
		TimeFactor: fixedTokenDeltaUnbalanced * 0.01,
		FreeTerm:   -variableTokenDelta - (fixedTokenDeltaUnbalanced*0.01*float64(eventTimestamp))/SecondsInYear,
	}
}

// Merge folds an incoming cashflow tuple into an existing one. Addition is
// valid because the PnL function is linear in (liquidityIndex, time); the
// maturity timestamp caps the horizon both tuples are already expressed
// against and is kept on the signature for callers netting at term end.
func Merge(existing, incoming Info, maturityTimestamp int64) Info {
	return Info{
		Notional:   existing.Notional + incoming.Notional,
		LiFactor:   existing.LiFactor + incoming.LiFactor,
		TimeFactor: existing.TimeFactor + incoming.TimeFactor,
		FreeTerm:   existing.FreeTerm + incoming.FreeTerm,
	}
}

// NetFixedRateLocked derives the human-readable net fixed rate from a merged
// tuple. Zero notional yields zero rather than a division by zero.
func NetFixedRateLocked(info Info) float64 {
	if info.Notional == 0 {
		return 0
	}
	return math.Abs(info.TimeFactor / info.Notional)
}

// UnrealizedPnL evaluates the closed-form PnL at the given liquidity index
// and timestamp.
func UnrealizedPnL(info Info, liquidityIndex float64, timestamp int64) float64 {
	return liquidityIndex*info.LiFactor + float64(timestamp)*info.TimeFactor/SecondsInYear + info.FreeTerm
}
