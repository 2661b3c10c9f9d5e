package rebin

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Fuzzy is the default fractional tolerance used when comparing bin edges.
// Two edges are considered coincident when they differ by less than Fuzzy
// times the width of the bin under consideration.
const Fuzzy = 1.0e-6

// Sentinel errors.
var (
	// ErrNoOverlap is returned when two grids share no energy range.
	ErrNoOverlap = errors.New("rebin: grids do not overlap")

	// ErrNonMonotonic is returned for edges that are not strictly ordered.
	ErrNonMonotonic = errors.New("rebin: edges are not monotonic")

	// ErrZeroWidth is returned when a grid contains a zero-width bin.
	ErrZeroWidth = errors.New("rebin: zero-width bin")

	// ErrTooFewEdges is returned for grids with fewer than two edges.
	ErrTooFewEdges = errors.New("rebin: at least two edges are required")

	// ErrSizeMismatch is returned when a value array does not match the
	// source grid of a Map.
	ErrSizeMismatch = errors.New("rebin: array length does not match grid")
)

// Edges is an increasing sequence of N+1 bin boundaries describing N bins.
type Edges []float64

// Bins returns the number of bins described by e.
func (e Edges) Bins() int {
	if len(e) < 2 {
		return 0
	}
	return len(e) - 1
}

// Width returns the width of bin i.
func (e Edges) Width(i int) float64 {
	return e[i+1] - e[i]
}

// Low returns the lowest edge, or NaN for an empty grid.
func (e Edges) Low() float64 {
	if len(e) == 0 {
		return math.NaN()
	}
	return e[0]
}

// High returns the highest edge, or NaN for an empty grid.
func (e Edges) High() float64 {
	if len(e) == 0 {
		return math.NaN()
	}
	return e[len(e)-1]
}

// Validate reports whether e is strictly increasing with no zero-width bins.
func (e Edges) Validate() error {
	if len(e) < 2 {
		return ErrTooFewEdges
	}
	for i := 0; i < len(e)-1; i++ {
		switch {
		case math.IsNaN(e[i]) || math.IsNaN(e[i+1]):
			return fmt.Errorf("%w: NaN edge at %d", ErrNonMonotonic, i)
		case e[i+1] == e[i]:
			return fmt.Errorf("%w: bin %d at %g", ErrZeroWidth, i, e[i])
		case e[i+1] < e[i]:
			return fmt.Errorf("%w: edge %d (%g) > edge %d (%g)", ErrNonMonotonic, i, e[i], i+1, e[i+1])
		}
	}
	return nil
}

// Centers returns the midpoint of every bin.
func (e Edges) Centers() []float64 {
	n := e.Bins()
	c := make([]float64, n)
	for i := 0; i < n; i++ {
		c[i] = 0.5 * (e[i] + e[i+1])
	}
	return c
}

// Normalize returns the edges in increasing order. A strictly decreasing
// input is reversed into a new slice and reversed is reported true; callers
// holding per-bin arrays must reverse those too.
func Normalize(edges []float64) (e Edges, reversed bool, err error) {
	if len(edges) < 2 {
		return nil, false, ErrTooFewEdges
	}
	e = Edges(edges)
	if edges[len(edges)-1] < edges[0] {
		e = slices.Clone(e)
		slices.Reverse(e)
		reversed = true
	}
	if err := e.Validate(); err != nil {
		return nil, false, err
	}
	return e, reversed, nil
}

// FromBounds builds contiguous edges from per-bin lower and upper bounds, as
// stored in response and EBOUNDS tables. Adjacent bins must touch within
// Fuzzy of the bin width.
func FromBounds(low, high []float64) (Edges, error) {
	if len(low) != len(high) {
		return nil, fmt.Errorf("%w: %d lower vs %d upper bounds", ErrSizeMismatch, len(low), len(high))
	}
	if len(low) == 0 {
		return nil, ErrTooFewEdges
	}
	e := make(Edges, len(low)+1)
	copy(e, low)
	e[len(low)] = high[len(high)-1]
	for i := 0; i < len(low)-1; i++ {
		w := high[i] - low[i]
		if math.Abs(high[i]-low[i+1]) > Fuzzy*math.Abs(w) {
			return nil, fmt.Errorf("rebin: bounds not contiguous at bin %d (%g vs %g)", i, high[i], low[i+1])
		}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Linear returns n equal-width bins spanning [lo, hi].
func Linear(lo, hi float64, n int) Edges {
	e := make(Edges, n+1)
	for i := 0; i <= n; i++ {
		e[i] = lo + (hi-lo)*float64(i)/float64(n)
	}
	return e
}

// Channels returns the edges 0, 1, ..., n used for channel-space maps.
func Channels(n int) Edges {
	e := make(Edges, n+1)
	for i := range e {
		e[i] = float64(i)
	}
	return e
}

// Equal reports whether e and o describe the same grid, each edge matching
// within fuzz times the width of its bin.
func (e Edges) Equal(o Edges, fuzz float64) bool { return equalWithin(e, o, fuzz) }

// equalWithin reports whether a and b describe the same grid within fuzz.
func equalWithin(a, b Edges, fuzz float64) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) > 0 && &a[0] == &b[0] {
		return true
	}
	for i := range a {
		scale := 0.0
		if i < len(a)-1 {
			scale = math.Abs(a[i+1] - a[i])
		} else if i > 0 {
			scale = math.Abs(a[i] - a[i-1])
		}
		if math.Abs(a[i]-b[i]) > fuzz*scale {
			return false
		}
	}
	return true
}
