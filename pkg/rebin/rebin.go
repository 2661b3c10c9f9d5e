// Package rebin transfers per-bin values between two monotonic bin-edge
// grids.
//
// A [Map] records, for every bin of the target grid, the inclusive range of
// overlapping source bins and the fraction of the first and last source bin
// that falls inside the target bin. The map is built once per grid pair
// with [FindFirstBins] and [InitializeBins] (or [NewMap] and [Cache.Get])
// and then applied any number of times:
//
//   - [Rebin] sums extensive quantities such as counts or photon flux,
//     conserving the total over the shared range.
//   - [Interpolate] averages intensive quantities such as multiplicative
//     model factors, weighting every source bin by its overlap width.
//
// Edge comparisons are fuzzy: two edges closer than fuzz times the target
// bin width are treated as identical so that independently computed grids
// transfer whole bins with weights of exactly 1 or 0.
package rebin

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Map is the bin-overlap mapping from a source grid to a target grid.
//
// For target bin j, source bins StartBin[j]..EndBin[j] (inclusive) overlap
// it. StartWeight[j] and EndWeight[j] are the fractions of the first and
// last source bin lying inside the target bin; interior source bins
// contribute in full. Target bins outside the source range have
// StartBin[j] == EndBin[j] == -1.
type Map struct {
	Src Edges
	Dst Edges

	StartBin    []int
	EndBin      []int
	StartWeight []float64
	EndWeight   []float64
}

// Empty reports whether target bin j has no overlapping source bin.
func (m *Map) Empty(j int) bool {
	return m.StartBin[j] < 0
}

// Overlap returns the width of source bin k that lies inside target bin j.
func (m *Map) Overlap(j, k int) float64 {
	w := m.Src.Width(k)
	switch {
	case k == m.StartBin[j]:
		return w * m.StartWeight[j]
	case k == m.EndBin[j]:
		return w * m.EndWeight[j]
	default:
		return w
	}
}

// NewMap validates both grids and builds the overlap map between them.
func NewMap(src, dst Edges, fuzz float64) (*Map, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("rebin: source grid: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return nil, fmt.Errorf("rebin: target grid: %w", err)
	}
	inStart, outStart, err := FindFirstBins(src, dst, fuzz)
	if err != nil {
		return nil, err
	}
	return InitializeBins(src, dst, fuzz, inStart, outStart)
}

// FindFirstBins locates the first target bin overlapping the source grid
// and the first source bin overlapping that target bin. It returns
// ErrNoOverlap if the grids share no range.
func FindFirstBins(src, dst Edges, fuzz float64) (inStart, outStart int, err error) {
	nIn, nOut := src.Bins(), dst.Bins()
	if nIn == 0 || nOut == 0 {
		return 0, 0, ErrNoOverlap
	}

	j := 0
	for j < nOut && dst[j+1] <= src[0]+fuzz*dst.Width(j) {
		j++
	}
	if j == nOut || dst[j] >= src[nIn]-fuzz*dst.Width(j) {
		return 0, 0, fmt.Errorf("%w: [%g,%g] vs [%g,%g]", ErrNoOverlap, src[0], src[nIn], dst[0], dst[nOut])
	}

	tol := fuzz * dst.Width(j)
	i := 0
	for i < nIn-1 && src[i+1] <= dst[j]+tol {
		i++
	}
	return i, j, nil
}

// InitializeBins walks both grids in lock-step from the given starting bins
// and records the source range and boundary weights of every target bin.
func InitializeBins(src, dst Edges, fuzz float64, inStart, outStart int) (*Map, error) {
	nIn, nOut := src.Bins(), dst.Bins()
	if inStart < 0 || inStart >= nIn || outStart < 0 || outStart >= nOut {
		return nil, fmt.Errorf("%w: start bins (%d,%d) outside grids (%d,%d)", ErrNoOverlap, inStart, outStart, nIn, nOut)
	}

	m := &Map{
		Src:         src,
		Dst:         dst,
		StartBin:    make([]int, nOut),
		EndBin:      make([]int, nOut),
		StartWeight: make([]float64, nOut),
		EndWeight:   make([]float64, nOut),
	}
	for j := range m.StartBin {
		m.StartBin[j] = -1
		m.EndBin[j] = -1
	}

	i := inStart
	for j := outStart; j < nOut; j++ {
		lo, hi := dst[j], dst[j+1]
		tol := fuzz * (hi - lo)

		for i < nIn && src[i+1] <= lo+tol {
			i++
		}
		if i >= nIn {
			break
		}
		if src[i] >= hi-tol {
			// Gap: this target bin lies below the current source bin.
			continue
		}

		k := i
		for k+1 < nIn && src[k+1] < hi-tol {
			k++
		}
		m.StartBin[j] = i
		m.EndBin[j] = k
		m.StartWeight[j] = overlapFraction(src, i, lo, hi, tol)
		m.EndWeight[j] = overlapFraction(src, k, lo, hi, tol)

		// Bin k may straddle the next target bin as well.
		i = k
	}
	return m, nil
}

// overlapFraction returns the fraction of source bin k inside [lo, hi].
// Edges that coincide within tol snap to the source edge so full-bin
// transfers come out as exactly 1.
func overlapFraction(src Edges, k int, lo, hi, tol float64) float64 {
	a, b := src[k], src[k+1]
	left, right := a, b
	if lo > a+tol {
		left = lo
	}
	if hi < b-tol {
		right = hi
	}
	if left == a && right == b {
		return 1
	}
	f := (right - left) / (b - a)
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return 1
	}
	return f
}

// Rebin sums values over the map. Each target bin receives the full value
// of interior source bins and the weighted share of its boundary bins.
func Rebin(values []float64, m *Map) ([]float64, error) {
	out := make([]float64, m.Dst.Bins())
	if err := RebinInto(out, values, m); err != nil {
		return nil, err
	}
	return out, nil
}

// RebinInto is Rebin writing into a caller-supplied slice.
func RebinInto(out, values []float64, m *Map) error {
	if len(values) != m.Src.Bins() {
		return fmt.Errorf("%w: %d values for %d source bins", ErrSizeMismatch, len(values), m.Src.Bins())
	}
	if len(out) != m.Dst.Bins() {
		return fmt.Errorf("%w: %d outputs for %d target bins", ErrSizeMismatch, len(out), m.Dst.Bins())
	}
	for j := range out {
		s, e := m.StartBin[j], m.EndBin[j]
		if s < 0 {
			out[j] = 0
			continue
		}
		if s == e {
			out[j] = values[s] * m.StartWeight[j]
			continue
		}
		out[j] = values[s]*m.StartWeight[j] + floats.Sum(values[s+1:e]) + values[e]*m.EndWeight[j]
	}
	return nil
}

// Interpolate averages values over the map, weighting each source bin by
// the width it shares with the target bin.
//
// With exponential set the average is taken in log space (a weighted
// geometric mean) and target bins with no overlap receive 1, the identity
// of a multiplicative factor, instead of 0. A non-positive source value in
// exponential mode yields 0 for the target bin.
func Interpolate(values []float64, m *Map, exponential bool) ([]float64, error) {
	if len(values) != m.Src.Bins() {
		return nil, fmt.Errorf("%w: %d values for %d source bins", ErrSizeMismatch, len(values), m.Src.Bins())
	}
	empty := 0.0
	if exponential {
		empty = 1.0
	}

	out := make([]float64, m.Dst.Bins())
	for j := range out {
		s, e := m.StartBin[j], m.EndBin[j]
		if s < 0 {
			out[j] = empty
			continue
		}
		var num, den float64
		absorbed := false
		for k := s; k <= e; k++ {
			w := m.Overlap(j, k)
			if w <= 0 {
				continue
			}
			den += w
			if !exponential {
				num += values[k] * w
				continue
			}
			if values[k] <= 0 {
				absorbed = true
				break
			}
			num += math.Log(values[k]) * w
		}
		switch {
		case absorbed:
			out[j] = 0
		case den == 0:
			out[j] = empty
		case exponential:
			out[j] = math.Exp(num / den)
		default:
			out[j] = num / den
		}
	}
	return out, nil
}
