package fold

import (
	"fmt"
	"slices"

	"github.com/haivivi/xfold/pkg/response"
	"github.com/haivivi/xfold/pkg/spectrum"
)

// Detector is one response contributing to a spectrum.
type Detector struct {
	// Matrix is the redistribution matrix, with any ARF already merged
	// unless Area is set.
	Matrix *response.Matrix

	// Area is an optional effective-area curve, one value per energy bin of
	// Matrix, applied at fold time.
	Area []float64

	// ChannelOffset is the spectrum channel index receiving channel 0 of
	// Matrix.
	ChannelOffset int

	// Partial marks a response that covers only part of the spectrum's
	// channels, such as one grating order. A non-partial response must have
	// exactly as many channels as the spectrum.
	Partial bool

	// Source selects the flux array folded through this response.
	Source int
}

// term holds the runs of one detector restricted to the noticed channels.
// Run r maps elements[runOffset[r]:runOffset[r]+runLength[r]] of energy bin
// runEnergy[r] onto spectrum channels starting at runChannel[r].
type term struct {
	det Detector

	// matrix state the runs were built from
	version uint64
	scaling float64

	runEnergy  []int
	runChannel []int
	runLength  []int
	runOffset  []int
}

// Plan is the precomputed sparse structure of a spectrum's responses for
// one notice state.
type Plan struct {
	channels   int
	generation uint64
	noticed    []int

	terms []term

	// noticedElements holds the matrix elements of every run, scaled by the
	// matrix area scaling and the detector's effective area.
	noticedElements []float64

	// contributors[c] lists the detectors with a run touching channel c.
	contributors [][]int
}

// NewPlan builds the fold plan for d and its detectors at d's current
// notice state.
func NewPlan(d *spectrum.Data, dets []Detector) (*Plan, error) {
	if err := validate(d, dets); err != nil {
		return nil, err
	}
	n := d.Channels()
	p := &Plan{
		channels:     n,
		generation:   d.Generation(),
		noticed:      slices.Clone(d.Noticed()),
		terms:        make([]term, len(dets)),
		contributors: make([][]int, n),
	}
	for i, det := range dets {
		t := &p.terms[i]
		t.det = det
		m := det.Matrix
		t.version, t.scaling = m.Version(), m.AreaScaling
		for e := 0; e < m.NumEnergies(); e++ {
			scale := m.AreaScaling
			if det.Area != nil {
				scale *= det.Area[e]
			}
			for g := 0; g < m.NumGroups(e); g++ {
				first, values := m.Group(e, g)
				p.addRuns(t, i, d, e, first+det.ChannelOffset, values, scale)
			}
		}
	}
	return p, nil
}

// addRuns splits one response group into runs of consecutive noticed
// spectrum channels.
func (p *Plan) addRuns(t *term, det int, d *spectrum.Data, e, first int, values []float64, scale float64) {
	open := false
	for k, v := range values {
		c := first + k
		if c < 0 || c >= p.channels || !d.IsNoticed(c) {
			open = false
			continue
		}
		if !open {
			t.runEnergy = append(t.runEnergy, e)
			t.runChannel = append(t.runChannel, c)
			t.runLength = append(t.runLength, 0)
			t.runOffset = append(t.runOffset, len(p.noticedElements))
			open = true
		}
		t.runLength[len(t.runLength)-1]++
		p.noticedElements = append(p.noticedElements, v*scale)
		if cs := p.contributors[c]; len(cs) == 0 || cs[len(cs)-1] != det {
			p.contributors[c] = append(cs, det)
		}
	}
}

func validate(d *spectrum.Data, dets []Detector) error {
	if len(dets) == 0 {
		return fmt.Errorf("%w: spectrum %s", ErrNoResponse, d.Name)
	}
	for i, det := range dets {
		m := det.Matrix
		if !m.Usable() {
			if m != nil && m.Err() != nil {
				return fmt.Errorf("fold: detector %d: %w: %w", i, response.ErrUnusable, m.Err())
			}
			return fmt.Errorf("fold: detector %d: %w", i, response.ErrUnusable)
		}
		if det.Partial {
			if det.ChannelOffset < 0 || det.ChannelOffset+m.NumChannels() > d.Channels() {
				return fmt.Errorf("%w: detector %d channels %d-%d outside spectrum of %d",
					ErrChannelMismatch, i, det.ChannelOffset, det.ChannelOffset+m.NumChannels()-1, d.Channels())
			}
		} else if m.NumChannels() != d.Channels() || det.ChannelOffset != 0 {
			return fmt.Errorf("%w: detector %d has %d channels, spectrum %s has %d",
				ErrChannelMismatch, i, m.NumChannels(), d.Name, d.Channels())
		}
		if det.Area != nil && len(det.Area) != m.NumEnergies() {
			return fmt.Errorf("%w: detector %d area has %d values for %d energy bins",
				ErrSizeMismatch, i, len(det.Area), m.NumEnergies())
		}
		if det.Source < 0 {
			return fmt.Errorf("%w: detector %d source %d", ErrSizeMismatch, i, det.Source)
		}
	}
	return nil
}

// Current reports whether the plan still matches d's notice state and the
// detector matrices it was built from.
func (p *Plan) Current(d *spectrum.Data) bool {
	if p.generation != d.Generation() {
		return false
	}
	for i := range p.terms {
		t := &p.terms[i]
		if m := t.det.Matrix; m.Version() != t.version || m.AreaScaling != t.scaling {
			return false
		}
	}
	return true
}

// Generation returns the spectrum notice generation the plan was built for.
func (p *Plan) Generation() uint64 { return p.generation }

// Channels returns the number of spectrum channels.
func (p *Plan) Channels() int { return p.channels }

// NumRuns returns the total number of runs over all detectors.
func (p *Plan) NumRuns() int {
	n := 0
	for _, t := range p.terms {
		n += len(t.runEnergy)
	}
	return n
}

// NumElements returns the number of matrix elements the plan folds.
func (p *Plan) NumElements() int { return len(p.noticedElements) }

// Contributors returns the indices of the detectors contributing to channel
// index c. The slice must not be modified.
func (p *Plan) Contributors(c int) []int { return p.contributors[c] }

// Sources returns the number of flux arrays the plan expects.
func (p *Plan) Sources() int {
	n := 0
	for _, t := range p.terms {
		n = max(n, t.det.Source+1)
	}
	return n
}
