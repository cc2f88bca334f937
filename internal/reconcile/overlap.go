package reconcile

import (
	"slices"

	"github.com/dshills/codeqa/pkg/types"
)

// MatchOverlaps returns the overlap of every candidate with the 1-based span
// [lineFrom, lineTo]. Candidates are visited in ascending StartLine order, ties in input
// order, and that order is the order of the result. The candidates slice is not modified.
//
// The result is never nil.
func MatchOverlaps(candidates []types.LexicalHit, lineFrom, lineTo int) []types.OverlapRange {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b types.LexicalHit) int {
		return a.StartLine - b.StartLine
	})

	overlaps := make([]types.OverlapRange, 0, len(sorted))
	for _, hit := range sorted {
		fromA, toA := hit.OneBased()
		if r, ok := Intersect(fromA, toA, lineFrom, lineTo); ok {
			overlaps = append(overlaps, r)
		}
	}
	return overlaps
}

// Intersect computes the intersection of two closed intervals.
// A single shared line counts as an overlap.
func Intersect(aFrom, aTo, bFrom, bTo int) (types.OverlapRange, bool) {
	start := max(aFrom, bFrom)
	end := min(aTo, bTo)
	if start > end {
		return types.OverlapRange{}, false
	}
	return types.OverlapRange{OverlapFrom: start, OverlapTo: end}, true
}
