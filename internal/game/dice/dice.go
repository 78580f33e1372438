// Package dice provides the randomness abstraction used to roll resource
// amounts and pick weighted template entries.
package dice

// Source is the randomness abstraction. Implementations must be safe for use
// from the mutator loop; the seeded source is additionally safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// Between returns a uniformly distributed int in [lo, hi].
//
// Precondition: src must be non-nil.
// Postcondition: lo <= result <= hi when lo <= hi; returns lo when hi <= lo.
func Between(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.Intn(hi-lo+1)
}

// Weighted returns the index of the weight chosen with probability
// proportional to its value. Non-positive weights are never chosen.
//
// Precondition: src must be non-nil.
// Postcondition: Returns -1 iff no weight is positive; otherwise weights[result] > 0.
func Weighted(src Source, weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return -1
	}
	roll := src.Intn(total)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if roll < w {
			return i
		}
		roll -= w
	}
	return -1
}
