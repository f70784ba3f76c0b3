package tickmath

import (
	"errors"
	"fmt"
	"math/big"
)

// MinTick and MaxTick bound the protocol's discretized price space.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// ErrTickOutOfBounds is returned for ticks outside [MinTick, MaxTick].
var ErrTickOutOfBounds = errors.New("tick out of bounds")

var (
	// Q96 is 2^96, the fixed-point scale of sqrt prices.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	one         = big.NewInt(1)
	maxUint256  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	ratioShift  = uint(128)
	sqrtLadders = mustLadders()
)

func mustLadders() []*big.Int {
	hexes := []string{
		"fffcb933bd6fad37aa2d162d1a594001",
		"fff97272373d413259a46990580e213a",
		"fff2e50f5f656932ef12357cf3c7fdcc",
		"ffe5caca7e10e4e61c3624eaa0941cd0",
		"ffcb9843d60f6159c9db58835c926644",
		"ff973b41fa98c081472e6896dfb254c0",
		"ff2ea16466c96a3843ec78b326b52861",
		"fe5dee046a99a2a811c461f1969c3053",
		"fcbe86c7900a88aedcffc83b479aa3a4",
		"f987a7253ac413176f2b074cf7815e54",
		"f3392b0822b70005940c7a398e4b70f3",
		"e7159475a2c29b7443b29c7fa6e889d9",
		"d097f3bdfd2022b8845ad8f792aa5825",
		"a9f746462d870fdf8a65dc1f90e061e5",
		"70d869a156d2a1b890bb3df62baf32f7",
		"31be135f97d08fd981231505542fcfa6",
		"9aa508b5b7a84e1c677de54f3e99bc9",
		"5d6af8dedb81196699c329225ee604",
		"2216e584f5fa1ea926041bedfe98",
		"48a170391f7dc42444e8fa2",
	}
	ladders := make([]*big.Int, len(hexes))
	for i, h := range hexes {
		v, ok := new(big.Int).SetString(h, 16)
		if !ok {
			panic(fmt.Sprintf("bad ladder constant %q", h))
		}
		ladders[i] = v
	}
	return ladders
}

// SqrtRatioAtTick maps a tick to its Q64.96 sqrt price. The computation is
// integer-only and bit-exact with the on-chain TickMath library.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfBounds, tick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	var ratio *big.Int
	if absTick&1 != 0 {
		ratio = new(big.Int).Set(sqrtLadders[0])
	} else {
		ratio = new(big.Int).Lsh(big.NewInt(1), 128)
	}

	for i := 1; i < len(sqrtLadders); i++ {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, sqrtLadders[i])
			ratio.Rsh(ratio, ratioShift)
		}
	}

	if tick > 0 {
		ratio = new(big.Int).Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so the boundary tick always maps
	// strictly inside the next price interval.
	rem := new(big.Int).And(ratio, new(big.Int).Sub(new(big.Int).Lsh(one, 32), one))
	ratio.Rsh(ratio, 32)
	if rem.Sign() != 0 {
		ratio.Add(ratio, one)
	}

	return ratio, nil
}

// MulDiv computes floor(a * b / denominator) at full precision.
func MulDiv(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Div(product, denominator)
}

// MulDivRoundingUp computes ceil(a * b / denominator) at full precision.
func MulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	quotient, rem := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if rem.Sign() != 0 {
		quotient.Add(quotient, one)
	}
	return quotient
}

// Amount0Delta computes the token0 amount moved between two sqrt prices for
// the given liquidity magnitude. Price order is normalized internally; the
// sign of the exposure is the caller's concern. roundUp rounds toward the
// protocol-conservative value.
func Amount0Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioA.Cmp(sqrtRatioB) > 0 {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtRatioB, sqrtRatioA)

	if roundUp {
		return MulDivRoundingUp(MulDivRoundingUp(numerator1, numerator2, sqrtRatioB), one, sqrtRatioA)
	}

	out := new(big.Int).Mul(numerator1, numerator2)
	out.Div(out, sqrtRatioB)
	return out.Div(out, sqrtRatioA)
}

// Amount1Delta computes the token1 amount moved between two sqrt prices for
// the given liquidity magnitude, with the same normalization and rounding
// contract as Amount0Delta.
func Amount1Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioA.Cmp(sqrtRatioB) > 0 {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}

	diff := new(big.Int).Sub(sqrtRatioB, sqrtRatioA)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}
