package response

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/haivivi/xfold/pkg/rebin"
)

// rowElements returns the contiguous element slice of energy bin e.
func (m *Matrix) rowElements(e int) []float64 {
	if m.NumGroups(e) == 0 {
		return nil
	}
	start := m.elementOffset[m.groupIndex[e]]
	last := m.groupIndex[e+1] - 1
	return m.elements[start : m.elementOffset[last]+m.groupLength[last]]
}

// Normalize divides every row by its sum so each row is a pure
// redistribution probability. Rows summing to zero are left untouched and
// their energy bins are returned.
func (m *Matrix) Normalize() (zeroRows []int) {
	for e := 0; e < m.NumEnergies(); e++ {
		row := m.rowElements(e)
		sum := floats.Sum(row)
		if sum == 0 {
			zeroRows = append(zeroRows, e)
			continue
		}
		floats.Scale(1/sum, row)
	}
	m.version++
	return zeroRows
}

// MultiplyArea merges an effective-area curve into the matrix, scaling row
// e by area[e]. Folding with the result needs no separate ARF.
func (m *Matrix) MultiplyArea(area []float64) error {
	if len(area) != m.NumEnergies() {
		return fmt.Errorf("%w: %d area values for %d energy bins", ErrSizeMismatch, len(area), m.NumEnergies())
	}
	for e, a := range area {
		floats.Scale(a, m.rowElements(e))
	}
	m.version++
	return nil
}

// Compress drops elements whose magnitude is below threshold and regroups
// what remains. A zero threshold keeps every stored element.
func (m *Matrix) Compress(threshold float64) {
	var b builder
	for e := 0; e < m.NumEnergies(); e++ {
		b.groupIndex = append(b.groupIndex, len(b.groupStart))
		for g := m.groupIndex[e]; g < m.groupIndex[e+1]; g++ {
			off := m.elementOffset[g]
			open := false
			for i, v := range m.elements[off : off+m.groupLength[g]] {
				if math.Abs(v) < threshold {
					open = false
					continue
				}
				if !open {
					b.groupStart = append(b.groupStart, m.groupStart[g]+i)
					b.groupLength = append(b.groupLength, 0)
					b.elementOffset = append(b.elementOffset, len(b.elements))
					open = true
				}
				b.groupLength[len(b.groupLength)-1]++
				b.elements = append(b.elements, v)
			}
		}
	}
	b.finish(m)
	m.Threshold = threshold
}

// Uncompress expands every row into a single group spanning all channels.
func (m *Matrix) Uncompress() {
	var b builder
	row := make([]float64, m.numChannels)
	for e := 0; e < m.NumEnergies(); e++ {
		m.RowInto(e, row)
		b.addRow(row, func(int, float64) bool { return true })
	}
	b.finish(m)
	m.Threshold = 0
}

// RebinChannels regroups the channel axis through a channel-space map.
// Each row is rebinned as an extensive quantity, so row sums over the
// shared range are preserved. Groups are rebuilt from the non-zero output,
// merging groups that the rebinning made contiguous.
//
// EBOUNDS follow the map: a new channel spans from the low bound of its
// first source channel to the high bound of its last. They are dropped if
// any new channel has no source channel.
func (m *Matrix) RebinChannels(cm *rebin.Map) error {
	if cm.Src.Bins() != m.numChannels {
		return fmt.Errorf("%w: channel map from %d channels, matrix has %d", ErrSizeMismatch, cm.Src.Bins(), m.numChannels)
	}
	nOut := cm.Dst.Bins()

	var b builder
	row := make([]float64, m.numChannels)
	out := make([]float64, nOut)
	for e := 0; e < m.NumEnergies(); e++ {
		m.RowInto(e, row)
		if err := rebin.RebinInto(out, row, cm); err != nil {
			return err
		}
		b.addRow(out, nonZero)
	}

	var low, high []float64
	if m.HasChannelBounds() {
		low, high = make([]float64, nOut), make([]float64, nOut)
		for j := 0; j < nOut; j++ {
			if cm.Empty(j) {
				low, high = nil, nil
				break
			}
			low[j] = m.chanLow[cm.StartBin[j]]
			high[j] = m.chanHigh[cm.EndBin[j]]
		}
	}

	b.finish(m)
	m.numChannels = nOut
	m.chanLow, m.chanHigh = low, high
	return nil
}

// RebinEnergies regrids the energy axis through an energy-space map built
// from the matrix's own energy grid. Each
// new row is the overlap-weighted average of the source rows it covers, so
// normalized rows stay normalized. New energy bins outside the source range
// have no response.
func (m *Matrix) RebinEnergies(em *rebin.Map) error {
	if em.Src.Bins() != m.NumEnergies() {
		return fmt.Errorf("%w: energy map from %d bins, matrix has %d", ErrSizeMismatch, em.Src.Bins(), m.NumEnergies())
	}
	if !em.Src.Equal(m.energy, rebin.Fuzzy) {
		return fmt.Errorf("%w: energy map from %g-%g, matrix covers %g-%g",
			ErrSizeMismatch, em.Src.Low(), em.Src.High(), m.energy.Low(), m.energy.High())
	}
	if err := em.Dst.Validate(); err != nil {
		return fmt.Errorf("%w: target energy grid: %w", ErrMalformed, err)
	}

	var b builder
	row := make([]float64, m.numChannels)
	acc := make([]float64, m.numChannels)
	for j := 0; j < em.Dst.Bins(); j++ {
		if !m.averageRows(em, j, 0, row, acc) {
			b.addEmptyRow()
			continue
		}
		b.addRow(acc, nonZero)
	}
	b.finish(m)
	m.energy = slices.Clone(em.Dst)
	return nil
}

// averageRows writes into acc the overlap-weighted mean of the source rows
// (offset by base) feeding target bin j. It reports false if none does.
func (m *Matrix) averageRows(em *rebin.Map, j, base int, row, acc []float64) bool {
	if em.Empty(j) {
		return false
	}
	clear(acc)
	den := 0.0
	for k := em.StartBin[j]; k <= em.EndBin[j]; k++ {
		w := em.Overlap(j, k)
		if w <= 0 {
			continue
		}
		m.RowInto(base+k, row)
		floats.AddScaled(acc, w, row)
		den += w
	}
	if den == 0 {
		return false
	}
	floats.Scale(1/den, acc)
	return true
}

// ShiftChannels applies a gain correction to channels [from, to): the
// content recorded at nominal channel energy E is moved to slope*E+offset
// and rebinned back onto the nominal channel grid. Content shifted out of
// the range is lost, and each row is then rescaled to its original sum so
// the response normalization is preserved. EBOUNDS are required.
func (m *Matrix) ShiftChannels(slope, offset float64, from, to int) error {
	edges, err := m.ChannelEdges()
	if err != nil {
		return err
	}
	if from < 0 || to > m.numChannels || from >= to {
		return fmt.Errorf("%w: channel range [%d,%d) outside %d channels", ErrSizeMismatch, from, to, m.numChannels)
	}
	nominal := edges[from : to+1]
	shifted := rebin.Shift(nominal, slope, offset, 0, to-from)
	if err := shifted.Validate(); err != nil {
		return fmt.Errorf("response: gain shift (slope %g, offset %g): %w", slope, offset, err)
	}

	var b builder
	row := make([]float64, m.numChannels)
	for e := 0; e < m.NumEnergies(); e++ {
		m.RowInto(e, row)
		before := floats.Sum(row)
		moved, err := rebin.GainRebin(row[from:to], shifted, nominal, rebin.Fuzzy)
		if err != nil {
			return err
		}
		copy(row[from:to], moved)
		if after := floats.Sum(row); after != 0 && before != 0 {
			floats.Scale(before/after, row)
		}
		b.addRow(row, nonZero)
	}
	b.finish(m)
	return nil
}

// ShiftEnergies applies a gain correction to energy bins [from, to): the
// response measured at energy E is taken to apply at slope*E+offset, and
// the shifted rows are averaged back onto the nominal energy grid. Nominal
// bins the shifted grid does not reach keep their original row.
func (m *Matrix) ShiftEnergies(slope, offset float64, from, to int) error {
	nE := m.NumEnergies()
	if from < 0 || to > nE || from >= to {
		return fmt.Errorf("%w: energy range [%d,%d) outside %d bins", ErrSizeMismatch, from, to, nE)
	}
	nominal := m.energy[from : to+1]
	shifted := rebin.Shift(nominal, slope, offset, 0, to-from)
	if err := shifted.Validate(); err != nil {
		return fmt.Errorf("response: energy shift (slope %g, offset %g): %w", slope, offset, err)
	}
	em, err := rebin.NewMap(shifted, nominal, rebin.Fuzzy)
	if err != nil {
		return fmt.Errorf("response: energy shift: %w", err)
	}

	var b builder
	row := make([]float64, m.numChannels)
	acc := make([]float64, m.numChannels)
	for e := 0; e < nE; e++ {
		if e < from || e >= to || !m.averageRows(em, e-from, from, row, acc) {
			m.RowInto(e, row)
			b.addRow(row, nonZero)
			continue
		}
		b.addRow(acc, nonZero)
	}
	b.finish(m)
	return nil
}
