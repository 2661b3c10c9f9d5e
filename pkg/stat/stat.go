// Package stat computes fit statistics and their derivatives with respect
// to the folded model.
//
// An [Engine] follows a two-phase protocol per fit iteration. [Engine.Reset]
// takes the folded model rate of every spectrum and computes, per noticed
// channel, the first derivative of the statistic with respect to the model
// and half the second derivative. [Engine.Perform] sums the statistic.
// [Engine.SumDerivs] and [Engine.SumSecondDerivs] contract the stored
// coefficients with per-parameter model derivatives to give the gradient
// and the curvature matrix.
//
// Every statistic kind shares one driver; a kind only supplies the
// per-channel value and coefficients. Sums run in spectrum order so results
// are reproducible.
package stat

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/haivivi/xfold/pkg/spectrum"
)

// Sentinel errors.
var (
	// ErrNaN is returned when a channel's statistic is NaN or infinite.
	ErrNaN = errors.New("stat: non-finite statistic")

	// ErrSizeMismatch is returned when model or derivative arrays do not
	// match the spectra.
	ErrSizeMismatch = errors.New("stat: size mismatch")

	// ErrNotReset is returned when Perform or a derivative sum is called
	// before Reset.
	ErrNotReset = errors.New("stat: reset not called")

	// ErrUnknownKind is returned for an unrecognised statistic name.
	ErrUnknownKind = errors.New("stat: unknown statistic")
)

// NaNError reports the first non-finite channel found in a sum.
type NaNError struct {
	Spectrum spectrum.Handle
	Channel  int // channel number, counted from the spectrum's StartChan
	Value    float64
}

func (e *NaNError) Error() string {
	return fmt.Sprintf("stat: %g in spectrum %d channel %d", e.Value, e.Spectrum, e.Channel)
}

func (e *NaNError) Unwrap() error { return ErrNaN }

// Input is one spectrum taking part in the fit, with its optional
// background and correction spectra resolved.
type Input struct {
	Handle         spectrum.Handle
	Data           *spectrum.Data
	Background     *spectrum.Data
	Correction     *spectrum.Data
	CorrectionNorm float64
}

// Inputs resolves the spectra named by handles, with their backgrounds and
// corrections, from reg.
func Inputs(reg *spectrum.Registry, handles ...spectrum.Handle) ([]Input, error) {
	in := make([]Input, len(handles))
	for i, h := range handles {
		d, err := reg.Get(h)
		if err != nil {
			return nil, err
		}
		bkg, err := reg.Background(h)
		if err != nil {
			return nil, fmt.Errorf("stat: spectrum %d background: %w", h, err)
		}
		cor, err := reg.Correction(h)
		if err != nil {
			return nil, fmt.Errorf("stat: spectrum %d correction: %w", h, err)
		}
		in[i] = Input{Handle: h, Data: d, Background: bkg, Correction: cor, CorrectionNorm: d.CorrectionNorm}
	}
	return in, nil
}

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger
}

// ModelDeriv is the derivative of the folded model rate with respect to one
// parameter, indexed by spectrum then channel.
type ModelDeriv [][]float64

// kindFuncs are the per-channel pieces of one statistic kind.
type kindFuncs struct {
	point  func(channel) float64
	coeffs func(channel) (d1, d2 float64)
}

var kinds = [...]kindFuncs{
	CStat: {point: cstatPoint, coeffs: cstatCoeffs},
	Chi:   {point: chiPoint, coeffs: chiCoeffs},
}

// channel is the data and model of one channel in the source frame.
type channel struct {
	s, ts float64 // source counts and exposure × area
	b, tb float64 // background counts and scaled background exposure; tb is 0 without background
	y     float64 // model rate

	// variance is the rate variance of s/ts - b/tb, used by Chi.
	variance float64
}

func (ch channel) rate() float64 {
	r := ch.s / ch.ts
	if ch.tb > 0 {
		r -= ch.b / ch.tb
	}
	return r
}

type entry struct {
	Input
	model  []float64
	d1, d2 []float64 // per noticed channel
	points []float64 // per noticed channel, from the last Perform
	value  float64

	// generation is the notice generation the coefficients were built for.
	generation uint64
}

// Engine evaluates one statistic over a set of spectra.
type Engine struct {
	kind    Kind
	fn      kindFuncs
	entries []*entry
	logger  *slog.Logger
	reset   bool
}

// New returns an Engine computing kind over the given spectra. Spectra are
// read, never modified.
func New(kind Kind, inputs []Input, opts Options) (*Engine, error) {
	if kind < 0 || int(kind) >= len(kinds) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{kind: kind, fn: kinds[kind], logger: logger}
	for i, in := range inputs {
		if in.Data == nil {
			return nil, fmt.Errorf("%w: input %d has no data", ErrSizeMismatch, i)
		}
		n := in.Data.Channels()
		for name, aux := range map[string]*spectrum.Data{"background": in.Background, "correction": in.Correction} {
			if aux != nil && aux.Channels() != n {
				return nil, fmt.Errorf("%w: spectrum %d has %d channels, %s %d",
					ErrSizeMismatch, in.Handle, n, name, aux.Channels())
			}
		}
		if kind.Poisson() {
			e.checkPoisson(in)
		}
		e.entries = append(e.entries, &entry{Input: in})
	}
	return e, nil
}

func (e *Engine) checkPoisson(in Input) {
	if !in.Data.Poisson {
		e.logger.Warn("poisson statistic on non-poisson data",
			"stat", e.kind, "spectrum", in.Handle, "name", in.Data.Name)
	}
	if in.Background != nil && !in.Background.Poisson {
		e.logger.Warn("poisson statistic on non-poisson background",
			"stat", e.kind, "spectrum", in.Handle, "name", in.Background.Name)
	}
}

// Kind returns the statistic kind.
func (e *Engine) Kind() Kind { return e.kind }

// Len returns the number of spectra.
func (e *Engine) Len() int { return len(e.entries) }

// DOF returns the number of noticed channels over all spectra.
func (e *Engine) DOF() int {
	n := 0
	for _, en := range e.entries {
		n += en.Data.NumNoticed()
	}
	return n
}

// Reset stores the folded model rate of every spectrum, one value per
// channel, and recomputes the derivative coefficients.
func (e *Engine) Reset(models [][]float64) error {
	if len(models) != len(e.entries) {
		return fmt.Errorf("%w: %d models for %d spectra", ErrSizeMismatch, len(models), len(e.entries))
	}
	for i, en := range e.entries {
		if len(models[i]) != en.Data.Channels() {
			return fmt.Errorf("%w: spectrum %d model has %d channels, want %d",
				ErrSizeMismatch, en.Handle, len(models[i]), en.Data.Channels())
		}
	}
	e.reset = false
	for i, en := range e.entries {
		en.model = models[i]
		en.generation = en.Data.Generation()
		noticed := en.Data.Noticed()
		en.d1 = resize(en.d1, len(noticed))
		en.d2 = resize(en.d2, len(noticed))
		floored := 0
		for k, c := range noticed {
			ch, low := en.channel(c, e.kind)
			if low {
				floored++
			}
			en.d1[k], en.d2[k] = e.fn.coeffs(ch)
		}
		if floored > 0 {
			e.logger.Warn("zero variance floored to one count",
				"spectrum", en.Handle, "channels", floored)
		}
	}
	e.reset = true
	return nil
}

func resize(s []float64, n int) []float64 {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]float64, n)
}

// channel assembles channel index c in the source frame. For Chi it also
// reports whether the variance had to be floored.
func (en *entry) channel(c int, kind Kind) (channel, bool) {
	d := en.Data
	ch := channel{s: d.Counts[c], ts: d.ExposureArea(c), y: en.model[c]}
	vs := d.Variance[c] / (ch.ts * ch.ts)
	vb := 0.0

	if bkg := en.Background; bkg != nil {
		ch.tb = bkg.ScaledExposure(d, c)
		ch.b = bkg.Counts[c]
		vb = bkg.Variance[c] / (ch.tb * ch.tb)
	}
	if cor := en.Correction; cor != nil && en.CorrectionNorm != 0 {
		tc := cor.ScaledExposure(d, c)
		if ch.tb == 0 {
			ch.tb = tc
		}
		ch.b += en.CorrectionNorm * cor.Counts[c] * ch.tb / tc
		vb += en.CorrectionNorm * en.CorrectionNorm * cor.Variance[c] / (tc * tc)
	}
	if kind.Poisson() && ch.b < 0 {
		ch.b = 0
	}

	ch.variance = vs + vb
	if kind == Chi && ch.variance <= 0 {
		ch.variance = 1 / (ch.ts * ch.ts)
		return ch, true
	}
	return ch, false
}

// Perform returns the statistic summed over the noticed channels of every
// spectrum. A non-finite channel aborts the sum with a *NaNError.
func (e *Engine) Perform() (float64, error) {
	if err := e.checkReset(); err != nil {
		return 0, err
	}
	total := 0.0
	for _, en := range e.entries {
		noticed := en.Data.Noticed()
		en.points = resize(en.points, len(noticed))
		for k, c := range noticed {
			ch, _ := en.channel(c, e.kind)
			v := e.fn.point(ch)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, &NaNError{Spectrum: en.Handle, Channel: en.Data.StartChan + c, Value: v}
			}
			en.points[k] = v
		}
		en.value = floats.Sum(en.points)
		total += en.value
	}
	return total, nil
}

// Values returns the per-spectrum statistics from the last Perform.
func (e *Engine) Values() []float64 {
	v := make([]float64, len(e.entries))
	for i, en := range e.entries {
		v[i] = en.value
	}
	return v
}

// Points returns the per-channel statistic of spectrum i from the last
// Perform, one value per noticed channel.
func (e *Engine) Points(i int) []float64 {
	return slices.Clone(e.entries[i].points)
}

// SumDerivs returns the gradient of the statistic: for each parameter k,
// the sum over noticed channels of the first-derivative coefficient times
// derivs[k].
func (e *Engine) SumDerivs(derivs []ModelDeriv) ([]float64, error) {
	if err := e.checkDerivs(derivs); err != nil {
		return nil, err
	}
	grad := make([]float64, len(derivs))
	for k, dm := range derivs {
		for i, en := range e.entries {
			sum, err := en.contract(en.d1, dm[i], nil)
			if err != nil {
				return nil, err
			}
			grad[k] += sum
		}
	}
	return grad, nil
}

// SumSecondDerivs returns the curvature matrix
// α_jk = 2 Σ d2 · derivs[j] · derivs[k] over noticed channels.
func (e *Engine) SumSecondDerivs(derivs []ModelDeriv) (*mat.SymDense, error) {
	if err := e.checkDerivs(derivs); err != nil {
		return nil, err
	}
	n := len(derivs)
	if n == 0 {
		return &mat.SymDense{}, nil
	}
	alpha := mat.NewSymDense(n, nil)
	for j := 0; j < n; j++ {
		for k := j; k < n; k++ {
			v := 0.0
			for i, en := range e.entries {
				sum, err := en.contract(en.d2, derivs[j][i], derivs[k][i])
				if err != nil {
					return nil, err
				}
				v += sum
			}
			alpha.SetSym(j, k, 2*v)
		}
	}
	return alpha, nil
}

// contract returns Σ coeff·a·b over noticed channels; a nil b counts as 1.
func (en *entry) contract(coeff, a, b []float64) (float64, error) {
	sum := 0.0
	for k, c := range en.Data.Noticed() {
		v := coeff[k] * a[c]
		if b != nil {
			v *= b[c]
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, &NaNError{Spectrum: en.Handle, Channel: en.Data.StartChan + c, Value: v}
		}
		sum += v
	}
	return sum, nil
}

// checkReset fails if Reset was never called or a notice state changed
// since.
func (e *Engine) checkReset() error {
	if !e.reset {
		return ErrNotReset
	}
	for _, en := range e.entries {
		if en.generation != en.Data.Generation() {
			return fmt.Errorf("%w: spectrum %d notice state changed", ErrNotReset, en.Handle)
		}
	}
	return nil
}

func (e *Engine) checkDerivs(derivs []ModelDeriv) error {
	if err := e.checkReset(); err != nil {
		return err
	}
	for k, dm := range derivs {
		if len(dm) != len(e.entries) {
			return fmt.Errorf("%w: parameter %d has %d spectra, want %d", ErrSizeMismatch, k, len(dm), len(e.entries))
		}
		for i, en := range e.entries {
			if len(dm[i]) != en.Data.Channels() {
				return fmt.Errorf("%w: parameter %d spectrum %d has %d channels, want %d",
					ErrSizeMismatch, k, en.Handle, len(dm[i]), en.Data.Channels())
			}
		}
	}
	return nil
}
