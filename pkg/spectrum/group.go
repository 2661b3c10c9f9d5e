package spectrum

import (
	"fmt"

	"github.com/haivivi/xfold/pkg/rebin"
)

// GroupingMap returns the channel-space map defined by d's grouping flags.
// Apply the same map to the response with Matrix.RebinChannels.
func (d *Data) GroupingMap() (*rebin.Map, error) {
	return rebin.GroupingMap(d.Grouping)
}

// Group combines channels according to d's grouping flags and returns the
// grouped spectrum together with the map used, so the matching response can
// be regrouped identically.
//
// Counts and variances are summed; area and background scales are averaged
// over the members of each group. A group is bad (quality 1 or higher) if
// any member is, and is noticed only if every member is. Handles to the
// background and correction are kept: those records must be grouped with the
// same map.
func (d *Data) Group() (*Data, *rebin.Map, error) {
	m, err := d.GroupingMap()
	if err != nil {
		return nil, nil, fmt.Errorf("spectrum: group %s: %w", d.Name, err)
	}
	g, err := d.ApplyMap(m)
	if err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

// ApplyMap groups d with an integral channel map produced by GroupingMap.
func (d *Data) ApplyMap(m *rebin.Map) (*Data, error) {
	if m.Src.Bins() != len(d.Counts) {
		return nil, fmt.Errorf("%w: map from %d channels, spectrum has %d", ErrSizeMismatch, m.Src.Bins(), len(d.Counts))
	}
	n := m.Dst.Bins()

	counts, err := rebin.Rebin(d.Counts, m)
	if err != nil {
		return nil, err
	}
	variance, err := rebin.Rebin(d.Variance, m)
	if err != nil {
		return nil, err
	}
	area, err := rebin.Interpolate(d.AreaScale, m, false)
	if err != nil {
		return nil, err
	}
	back, err := rebin.Interpolate(d.BackScale, m, false)
	if err != nil {
		return nil, err
	}
	var raw []float64
	if d.RawVariance != nil {
		if raw, err = rebin.Rebin(d.RawVariance, m); err != nil {
			return nil, err
		}
	}

	g := &Data{
		Name:           d.Name,
		ChannelType:    d.ChannelType,
		StartChan:      d.StartChan,
		Exposure:       d.Exposure,
		Poisson:        d.Poisson,
		Counts:         counts,
		RawVariance:    raw,
		Variance:       variance,
		AreaScale:      area,
		BackScale:      back,
		Quality:        make([]int, n),
		Grouping:       make([]int, n),
		Background:     d.Background,
		Correction:     d.Correction,
		CorrectionNorm: d.CorrectionNorm,
		noticed:        make([]bool, n),
	}
	for j := 0; j < n; j++ {
		g.Grouping[j] = rebin.GroupStart
		g.noticed[j] = true
		if m.Empty(j) {
			g.noticed[j] = false
			continue
		}
		for c := m.StartBin[j]; c <= m.EndBin[j]; c++ {
			g.Quality[j] = max(g.Quality[j], d.Quality[c])
			g.noticed[j] = g.noticed[j] && d.noticed[c]
		}
	}
	g.rebuild()
	return g, nil
}
