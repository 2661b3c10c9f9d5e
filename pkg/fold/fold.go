// Package fold converts model photon fluxes into predicted channel spectra
// through one or more response matrices.
//
// A [Plan] precomputes, for a spectrum's current notice state, the runs of
// response elements that land on noticed channels. A [Folder] owns the plan
// of one spectrum, rebuilds it when the spectrum's notice generation
// changes, and folds flux arrays through it:
//
//	f, _ := fold.New(data, []fold.Detector{{Matrix: rsp}}, fold.Options{})
//	res, _ := f.Fold([]fold.Flux{{Values: flux}})
//
// Folding only reads the matrices and the spectrum. Concurrent Fold calls on
// different Folders sharing the same matrices are safe.
package fold

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/haivivi/xfold/pkg/rebin"
	"github.com/haivivi/xfold/pkg/spectrum"
)

// Sentinel errors.
var (
	// ErrChannelMismatch is returned when a response does not cover the
	// spectrum's channels.
	ErrChannelMismatch = errors.New("fold: response and spectrum channels disagree")

	// ErrSizeMismatch is returned when a flux or area array does not match
	// its grid.
	ErrSizeMismatch = errors.New("fold: size mismatch")

	// ErrNoResponse is returned when a spectrum has no detector.
	ErrNoResponse = errors.New("fold: no response")
)

// Output selects the unit of folded values.
type Output int

const (
	// Rate yields counts per second per channel.
	Rate Output = iota
	// Counts multiplies the rate by exposure × area scale of each channel.
	Counts
)

func (o Output) String() string {
	switch o {
	case Rate:
		return "rate"
	case Counts:
		return "counts"
	default:
		return fmt.Sprintf("Output(%d)", int(o))
	}
}

// Options configures a Folder.
type Options struct {
	Output Output

	// Cache maps model energy grids onto response grids. Share one cache
	// between Folders whose models use the same grid. Nil allocates a
	// private cache.
	Cache *rebin.Cache

	Logger *slog.Logger
}

// Flux is a model photon flux per energy bin.
type Flux struct {
	// Energy is the model grid. Nil means the flux is already on the
	// response energy grid.
	Energy rebin.Edges
	Values []float64
	// Errors are optional 1σ errors on Values.
	Errors []float64
}

// Result is a folded spectrum. Values and Errors have one entry per
// spectrum channel; ignored channels are 0. A spectrum with no noticed
// channels folds to an empty Result.
type Result struct {
	Values []float64
	Errors []float64
}

// Folder folds fluxes for one spectrum.
type Folder struct {
	data   *spectrum.Data
	dets   []Detector
	opts   Options
	logger *slog.Logger

	plan *Plan
}

// New validates the detectors against d and returns a Folder.
func New(d *spectrum.Data, dets []Detector, opts Options) (*Folder, error) {
	if err := validate(d, dets); err != nil {
		return nil, err
	}
	if opts.Cache == nil {
		opts.Cache = rebin.NewCache(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Folder{
		data:   d,
		dets:   append([]Detector(nil), dets...),
		opts:   opts,
		logger: logger,
	}, nil
}

// Data returns the spectrum the Folder folds for.
func (f *Folder) Data() *spectrum.Data { return f.data }

// Detectors returns the Folder's detectors.
func (f *Folder) Detectors() []Detector { return f.dets }

// Plan returns the fold plan, rebuilding it if the spectrum's notice state
// or a detector matrix changed since it was built.
func (f *Folder) Plan() (*Plan, error) {
	if f.plan != nil && f.plan.Current(f.data) {
		return f.plan, nil
	}
	p, err := NewPlan(f.data, f.dets)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("fold plan built",
		"spectrum", f.data.Name,
		"noticed", len(p.noticed),
		"runs", p.NumRuns(),
		"elements", p.NumElements())
	f.plan = p
	return p, nil
}

// Invalidate drops the cached plan. Call it after changing a detector's
// Area values in place; matrix changes are picked up by Plan.
func (f *Folder) Invalidate() { f.plan = nil }

// Fold folds one flux per source through the responses and returns the
// predicted spectrum.
func (f *Folder) Fold(fluxes []Flux) (*Result, error) {
	p, err := f.Plan()
	if err != nil {
		return nil, err
	}
	if need := p.Sources(); len(fluxes) < need {
		return nil, fmt.Errorf("%w: %d fluxes for %d sources", ErrSizeMismatch, len(fluxes), need)
	}
	if len(p.noticed) == 0 {
		return &Result{}, nil
	}

	res := &Result{Values: make([]float64, p.channels)}
	var variance []float64
	for i := range p.terms {
		t := &p.terms[i]
		flux, errs, err := f.onResponseGrid(t.det, fluxes[t.det.Source])
		if err != nil {
			return nil, fmt.Errorf("fold: detector %d: %w", i, err)
		}
		p.foldTerm(t, flux, res.Values)
		if errs != nil {
			if variance == nil {
				variance = make([]float64, p.channels)
			}
			p.foldTermVariance(t, errs, variance)
		}
	}

	if f.opts.Output == Counts {
		for _, c := range p.noticed {
			res.Values[c] *= f.data.ExposureArea(c)
		}
	}
	if variance != nil {
		res.Errors = make([]float64, p.channels)
		for _, c := range p.noticed {
			e := math.Sqrt(variance[c])
			if f.opts.Output == Counts {
				e *= f.data.ExposureArea(c)
			}
			res.Errors[c] = e
		}
	}
	return res, nil
}

// onResponseGrid returns the flux and its errors on the detector's energy
// grid, rebinning from the model grid when they differ.
func (f *Folder) onResponseGrid(det Detector, flux Flux) (values, errs []float64, err error) {
	grid := det.Matrix.EnergyEdges()
	if flux.Errors != nil && len(flux.Errors) != len(flux.Values) {
		return nil, nil, fmt.Errorf("%w: %d errors for %d values", ErrSizeMismatch, len(flux.Errors), len(flux.Values))
	}
	if flux.Energy == nil {
		if len(flux.Values) != grid.Bins() {
			return nil, nil, fmt.Errorf("%w: flux has %d bins, response %d", ErrSizeMismatch, len(flux.Values), grid.Bins())
		}
		return flux.Values, flux.Errors, nil
	}
	m, err := f.opts.Cache.Get(flux.Energy, grid)
	if err != nil {
		return nil, nil, err
	}
	if values, err = rebin.Rebin(flux.Values, m); err != nil {
		return nil, nil, err
	}
	if flux.Errors != nil {
		errs = rebinErrors(flux.Errors, m)
	}
	return values, errs, nil
}

// rebinErrors rebins independent errors: each target variance is the sum of
// the squared weighted source errors.
func rebinErrors(errs []float64, m *rebin.Map) []float64 {
	out := make([]float64, m.Dst.Bins())
	for j := range out {
		if m.Empty(j) {
			continue
		}
		v := 0.0
		for k := m.StartBin[j]; k <= m.EndBin[j]; k++ {
			w := m.Overlap(j, k) / m.Src.Width(k)
			v += w * w * errs[k] * errs[k]
		}
		out[j] = math.Sqrt(v)
	}
	return out
}

func (p *Plan) foldTerm(t *term, flux []float64, out []float64) {
	for r, e := range t.runEnergy {
		fe := flux[e]
		if fe == 0 {
			continue
		}
		c, n := t.runChannel[r], t.runLength[r]
		floats.AddScaled(out[c:c+n], fe, p.noticedElements[t.runOffset[r]:t.runOffset[r]+n])
	}
}

func (p *Plan) foldTermVariance(t *term, errs []float64, out []float64) {
	for r, e := range t.runEnergy {
		fe := errs[e]
		if fe == 0 {
			continue
		}
		c := t.runChannel[r]
		for _, v := range p.noticedElements[t.runOffset[r] : t.runOffset[r]+t.runLength[r]] {
			w := v * fe
			out[c] += w * w
			c++
		}
	}
}
