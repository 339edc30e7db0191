package sched

import "testing"

func TestNiceWeightReference(t *testing.T) {
	if w := niceWeight(0); w != Nice0Weight {
		t.Fatalf("niceWeight(0) = %d, want %d", w, Nice0Weight)
	}
	if w := niceWeight(NiceMin); w != 88761 {
		t.Fatalf("niceWeight(%d) = %d, want 88761", NiceMin, w)
	}
	if w := niceWeight(NiceMax); w != 15 {
		t.Fatalf("niceWeight(%d) = %d, want 15", NiceMax, w)
	}
}

func TestNiceWeightMonotonic(t *testing.T) {
	for nice := NiceMin; nice < NiceMax; nice++ {
		if niceWeight(nice) <= niceWeight(nice+1) {
			t.Fatalf("niceWeight(%d) = %d not greater than niceWeight(%d) = %d",
				nice, niceWeight(nice), nice+1, niceWeight(nice+1))
		}
	}
}

func TestNiceWeightClamps(t *testing.T) {
	if w := niceWeight(-100); w != niceWeight(NiceMin) {
		t.Fatalf("niceWeight(-100) = %d, want %d", w, niceWeight(NiceMin))
	}
	if w := niceWeight(100); w != niceWeight(NiceMax) {
		t.Fatalf("niceWeight(100) = %d, want %d", w, niceWeight(NiceMax))
	}
}

func TestCalcDeltaFair(t *testing.T) {
	// Nice 0 runs at wall speed.
	if got := calcDeltaFair(12345, Nice0Weight); got != 12345 {
		t.Fatalf("calcDeltaFair(12345, %d) = %d, want 12345", Nice0Weight, got)
	}
	// Half the weight accrues virtual time twice as fast.
	if got := calcDeltaFair(1000, 512); got != 2000 {
		t.Fatalf("calcDeltaFair(1000, 512) = %d, want 2000", got)
	}
	// Double the weight accrues half as fast.
	if got := calcDeltaFair(1000, 2048); got != 500 {
		t.Fatalf("calcDeltaFair(1000, 2048) = %d, want 500", got)
	}
	// Quotient overflow saturates instead of wrapping.
	if got := calcDeltaFair(^uint64(0), 1); got != ^uint64(0) {
		t.Fatalf("calcDeltaFair(max, 1) = %d, want max", got)
	}
}
