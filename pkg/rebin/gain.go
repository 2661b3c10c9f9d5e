package rebin

import (
	"errors"
	"fmt"
)

// GainRebin sums values from a gain-shifted source grid back onto the
// target grid. Source bins that moved below the target range, including
// ones with negative edges after a large offset, contribute nothing; so do
// target bins the shifted grid no longer reaches. If the shift moves the
// whole source outside the target, the result is all zeros.
//
// A shifted grid that is no longer strictly increasing (a non-positive gain
// slope, for instance) is rejected with ErrNonMonotonic rather than
// reordered.
func GainRebin(values []float64, shifted, dst Edges, fuzz float64) ([]float64, error) {
	if len(values) != shifted.Bins() {
		return nil, fmt.Errorf("%w: %d values for %d source bins", ErrSizeMismatch, len(values), shifted.Bins())
	}
	if err := shifted.Validate(); err != nil {
		return nil, fmt.Errorf("rebin: gain-shifted grid: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return nil, fmt.Errorf("rebin: target grid: %w", err)
	}
	inStart, outStart, err := FindFirstBins(shifted, dst, fuzz)
	if errors.Is(err, ErrNoOverlap) {
		return make([]float64, dst.Bins()), nil
	}
	if err != nil {
		return nil, err
	}
	m, err := InitializeBins(shifted, dst, fuzz, inStart, outStart)
	if err != nil {
		return nil, err
	}
	return Rebin(values, m)
}

// Shift returns the edges transformed by e' = slope*e + offset for the bins
// [from, to). Edges outside that range are copied unchanged, so the result
// may be non-monotonic; callers validate it through GainRebin.
func Shift(e Edges, slope, offset float64, from, to int) Edges {
	out := make(Edges, len(e))
	copy(out, e)
	if from < 0 {
		from = 0
	}
	if to > e.Bins() {
		to = e.Bins()
	}
	for i := from; i <= to && i < len(e); i++ {
		out[i] = slope*e[i] + offset
	}
	return out
}
