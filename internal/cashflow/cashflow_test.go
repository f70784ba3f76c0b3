package cashflow

import (
	"math"
	"testing"
)

const maturity = int64(1893456000)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMergeIsComponentWise(t *testing.T) {
	a := Info{Notional: 100, LiFactor: 2, TimeFactor: -3, FreeTerm: 0.5}
	b := Info{Notional: -40, LiFactor: 1, TimeFactor: 7, FreeTerm: -0.25}

	got := Merge(a, b, maturity)
	want := Info{Notional: 60, LiFactor: 3, TimeFactor: 4, FreeTerm: 0.25}
	if got != want {
		t.Fatalf("merge mismatch: %+v != %+v", got, want)
	}
}

func TestMergeCommutativeAssociative(t *testing.T) {
	a := Info{Notional: 10, LiFactor: 1.5, TimeFactor: 2.5, FreeTerm: -1}
	b := Info{Notional: -4, LiFactor: 0.5, TimeFactor: -0.5, FreeTerm: 3}
	c := Info{Notional: 7, LiFactor: -2, TimeFactor: 1, FreeTerm: 0.125}

	if Merge(a, b, maturity) != Merge(b, a, maturity) {
		t.Fatalf("merge is not commutative")
	}
	left := Merge(Merge(a, b, maturity), c, maturity)
	right := Merge(a, Merge(b, c, maturity), maturity)
	if left != right {
		t.Fatalf("merge is not associative: %+v != %+v", left, right)
	}
}

func TestMergeZeroIdentity(t *testing.T) {
	a := Info{Notional: 12, LiFactor: -8, TimeFactor: 0.75, FreeTerm: 2}
	if Merge(a, Zero, maturity) != a {
		t.Fatalf("zero should be the merge identity")
	}
}

func TestNetFixedRateLocked(t *testing.T) {
	if got := NetFixedRateLocked(Info{Notional: 0, TimeFactor: 5}); got != 0 {
		t.Fatalf("zero notional should yield zero rate, got %v", got)
	}
	if got := NetFixedRateLocked(Info{Notional: -200, TimeFactor: 4}); !almostEqual(got, 0.02) {
		t.Fatalf("rate mismatch: %v", got)
	}
}

func TestFromSwapAnchorsPnLAtInception(t *testing.T) {
	// A swap entered at (index, t) has zero unrealized PnL at that instant.
	index := 1.05
	ts := int64(1700000000)
	info := FromSwap(1000, -50000, index, ts)

	if got := UnrealizedPnL(info, index, ts); !almostEqual(got, 0) {
		t.Fatalf("PnL at inception should be zero, got %v", got)
	}
}

func TestUnrealizedPnLMovesWithIndex(t *testing.T) {
	info := FromSwap(1000, 0, 1.0, 0)
	// Variable taker exposure gains as the liquidity index accrues.
	if got := UnrealizedPnL(info, 1.1, 0); !almostEqual(got, 100) {
		t.Fatalf("PnL mismatch: %v", got)
	}
}
