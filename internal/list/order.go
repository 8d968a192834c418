package list

import "time"

// orderGap is the spacing used when appending or prepending relative to a
// single neighbor. A large gap leaves room for many midpoint insertions
// before float64 precision becomes a concern.
const orderGap = 1000

// OrderAfter returns an order key sorting immediately after existing.
func OrderAfter(existing float64) float64 {
	return existing + orderGap
}

// OrderBefore returns an order key sorting immediately before existing.
func OrderBefore(existing float64) float64 {
	return existing - orderGap
}

// OrderBetween returns the midpoint between two neighboring order keys.
// Repeated insertion into the same gap halves the spacing each time; the
// comparator's AddedAt/ID tiebreaks keep ordering deterministic if two keys
// ever collapse to the same float.
func OrderBetween(lower, upper float64) float64 {
	return (lower + upper) / 2
}

// OrderForNewRoot returns the order key for an item appended with no
// neighbor context: the current wall clock in milliseconds, so new items
// sort after everything added earlier.
func OrderForNewRoot() float64 {
	return float64(time.Now().UnixMilli())
}
