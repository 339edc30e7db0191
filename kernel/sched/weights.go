package sched

import "math/bits"

// Nice value bounds and the reference weight at nice 0.
const (
	NiceMin = -20
	NiceMax = 19

	Nice0Weight = 1024
)

// niceWeights maps nice values -20..19 to scheduling weights. The curve
// halves roughly every five nice steps, so one nice level is ~10% CPU
// between two competing threads.
var niceWeights = [40]uint64{
	/* -20 */ 88761, 71755, 56483, 46273, 36291,
	/* -15 */ 29154, 23254, 18705, 14949, 11916,
	/* -10 */ 9548, 7620, 6100, 4904, 3906,
	/*  -5 */ 3121, 2501, 1991, 1586, 1277,
	/*   0 */ 1024, 820, 655, 526, 423,
	/*   5 */ 335, 272, 215, 172, 137,
	/*  10 */ 110, 87, 70, 56, 45,
	/*  15 */ 36, 29, 23, 18, 15,
}

// clampNice bounds a nice value to [NiceMin, NiceMax].
func clampNice(nice int) int {
	if nice < NiceMin {
		return NiceMin
	}
	if nice > NiceMax {
		return NiceMax
	}
	return nice
}

// niceWeight returns the scheduling weight for a nice value.
func niceWeight(nice int) uint64 {
	return niceWeights[clampNice(nice)+20]
}

// calcDeltaFair converts an elapsed real-time delta into virtual time:
// delta * Nice0Weight / weight, with a 128-bit intermediate so large
// deltas cannot overflow.
func calcDeltaFair(delta, weight uint64) uint64 {
	if weight == Nice0Weight {
		return delta
	}
	hi, lo := bits.Mul64(delta, Nice0Weight)
	if hi >= weight {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, weight)
	return q
}
