package rebin

import "fmt"

// LinInterp integrates a coarse source array over a finer target grid.
//
// Source values are per-bin totals. They are converted to densities placed
// at the source bin centres, joined by straight lines (held flat beyond the
// first and last centre) and integrated exactly over each target bin that
// lies inside the source range. This is more accurate than box rebinning
// when the source grid is much coarser than the target.
//
// The integrator keeps its source and target cursors between calls so a
// sequence of calls over increasing target ranges does not rescan the
// source grid. A call that starts below the previous one rewinds.
type LinInterp struct {
	inputBin  int
	outputBin int
}

// Reset rewinds both cursors.
func (l *LinInterp) Reset() {
	l.inputBin = -1
	l.outputBin = 0
}

// Cursors returns the current source segment and next target bin.
func (l *LinInterp) Cursors() (inputBin, outputBin int) {
	return l.inputBin, l.outputBin
}

// Integ fills out[from:to] with the integral of the interpolated source
// density over each target bin. out must have one entry per target bin.
func (l *LinInterp) Integ(src Edges, values []float64, dst Edges, out []float64, from, to int) error {
	n := src.Bins()
	if len(values) != n {
		return fmt.Errorf("%w: %d values for %d source bins", ErrSizeMismatch, len(values), n)
	}
	if len(out) != dst.Bins() {
		return fmt.Errorf("%w: %d outputs for %d target bins", ErrSizeMismatch, len(out), dst.Bins())
	}
	if n == 0 {
		return ErrTooFewEdges
	}
	if from < 0 || to > dst.Bins() || from > to {
		return fmt.Errorf("rebin: target range [%d,%d) outside %d bins", from, to, dst.Bins())
	}
	if from < l.outputBin || l.inputBin < -1 || l.inputBin >= n {
		l.Reset()
	}

	center := func(k int) float64 { return 0.5 * (src[k] + src[k+1]) }
	density := func(k int) float64 { return values[k] / src.Width(k) }
	// at evaluates the density at x inside segment k, where segment k spans
	// [center(k), center(k+1)], -1 is everything below the first centre and
	// n-1 everything above the last.
	at := func(k int, x float64) float64 {
		switch {
		case k < 0:
			return density(0)
		case k >= n-1:
			return density(n - 1)
		}
		c0, c1 := center(k), center(k+1)
		d0, d1 := density(k), density(k+1)
		return d0 + (d1-d0)*(x-c0)/(c1-c0)
	}

	for j := from; j < to; j++ {
		a, b := dst[j], dst[j+1]
		if a < src[0] {
			a = src[0]
		}
		if b > src[n] {
			b = src[n]
		}
		if b <= a {
			out[j] = 0
			continue
		}

		k := l.inputBin
		if k >= 0 && center(k) > a {
			k = -1
		}
		for k+1 < n && center(k+1) <= a {
			k++
		}

		sum := 0.0
		x := a
		for x < b {
			end := b
			if k+1 < n && center(k+1) < b {
				end = center(k + 1)
			}
			sum += 0.5 * (at(k, x) + at(k, end)) * (end - x)
			x = end
			if end < b {
				k++
			}
		}
		out[j] = sum
		l.inputBin = k
	}
	l.outputBin = to
	return nil
}

// LinInterpInteg is a one-shot LinInterp over the whole target grid.
func LinInterpInteg(src Edges, values []float64, dst Edges) ([]float64, error) {
	var l LinInterp
	l.Reset()
	out := make([]float64, dst.Bins())
	if err := l.Integ(src, values, dst, out, 0, dst.Bins()); err != nil {
		return nil, err
	}
	return out, nil
}
