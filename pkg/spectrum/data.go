// Package spectrum holds observed pulse-height spectra and the channel
// selection used by a fit.
//
// A [Data] owns its per-channel arrays. Backgrounds and correction spectra
// are themselves Data records; a source refers to them by [Handle] into a
// [Registry] instead of by pointer, and removing a record from the registry
// detaches every reference to it.
//
// The noticed-channel mask and the sorted index list derived from it are
// always updated together; [Data.Generation] changes whenever they do, so
// consumers can cache work keyed on it.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Sentinel errors.
var (
	// ErrSizeMismatch is returned when per-channel arrays disagree in length.
	ErrSizeMismatch = errors.New("spectrum: size mismatch")

	// ErrBadHandle is returned for handles that do not name a live record.
	ErrBadHandle = errors.New("spectrum: bad handle")

	// ErrInvalid is returned for physically meaningless inputs such as a
	// non-positive exposure.
	ErrInvalid = errors.New("spectrum: invalid data")
)

// Options describes a spectrum as decoded from a file. Only Counts and
// Exposure are required; missing scale arrays default to 1, missing
// quality to 0 (good) and missing grouping to 1 (ungrouped).
type Options struct {
	Name        string
	Counts      []float64
	StatErr     []float64 // per-channel 1σ errors; nil for Poisson data
	Poisson     *bool     // nil means detect from Counts and StatErr
	ChannelType string
	StartChan   int
	Exposure    float64
	AreaScale   []float64
	BackScale   []float64
	Quality     []int
	Grouping    []int
}

// Data is one observed spectrum.
type Data struct {
	Name        string
	ChannelType string
	StartChan   int
	Exposure    float64
	Poisson     bool

	Counts      []float64
	RawVariance []float64 // squared file errors, nil for Poisson data
	Variance    []float64 // working variance used by statistics
	AreaScale   []float64
	BackScale   []float64
	Quality     []int
	Grouping    []int

	// Background and Correction refer to records in the owning Registry.
	Background Handle
	Correction Handle
	// CorrectionNorm scales the correction spectrum before it is added to
	// the background term.
	CorrectionNorm float64

	noticed    []bool
	indirect   []int
	generation uint64
}

// New validates opts and returns a spectrum with every channel noticed.
func New(opts Options) (*Data, error) {
	n := len(opts.Counts)
	if n == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrInvalid)
	}
	if !(opts.Exposure > 0) || math.IsInf(opts.Exposure, 0) {
		return nil, fmt.Errorf("%w: exposure %g", ErrInvalid, opts.Exposure)
	}
	for name, l := range map[string]int{
		"stat_err":   len(opts.StatErr),
		"area_scale": len(opts.AreaScale),
		"back_scale": len(opts.BackScale),
		"quality":    len(opts.Quality),
		"grouping":   len(opts.Grouping),
	} {
		if l != 0 && l != n {
			return nil, fmt.Errorf("%w: %s has %d entries for %d channels", ErrSizeMismatch, name, l, n)
		}
	}

	d := &Data{
		Name:        opts.Name,
		ChannelType: opts.ChannelType,
		StartChan:   opts.StartChan,
		Exposure:    opts.Exposure,
		Counts:      slices.Clone(opts.Counts),
		AreaScale:   fillOr(opts.AreaScale, n, 1),
		BackScale:   fillOr(opts.BackScale, n, 1),
		Quality:     slices.Clone(opts.Quality),
		Grouping:    slices.Clone(opts.Grouping),
	}
	if d.ChannelType == "" {
		d.ChannelType = "PI"
	}
	if d.Quality == nil {
		d.Quality = make([]int, n)
	}
	if d.Grouping == nil {
		d.Grouping = make([]int, n)
		for i := range d.Grouping {
			d.Grouping[i] = 1
		}
	}
	if opts.StatErr != nil {
		d.RawVariance = make([]float64, n)
		for i, e := range opts.StatErr {
			d.RawVariance[i] = e * e
		}
	}
	if opts.Poisson != nil {
		d.Poisson = *opts.Poisson
	} else {
		d.Poisson = opts.StatErr == nil && IsPoissonCounts(d.Counts)
	}
	d.resetVariance()
	d.NoticeAll()
	return d, nil
}

func fillOr(v []float64, n int, fill float64) []float64 {
	if v != nil {
		return slices.Clone(v)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = fill
	}
	return out
}

// IsPoissonCounts reports whether every value is a non-negative integer.
func IsPoissonCounts(counts []float64) bool {
	for _, c := range counts {
		if c < 0 || c != math.Trunc(c) {
			return false
		}
	}
	return true
}

// resetVariance derives the working variance: the file errors if present,
// otherwise the Poisson estimate max(counts, 0).
func (d *Data) resetVariance() {
	if d.RawVariance != nil {
		d.Variance = slices.Clone(d.RawVariance)
		return
	}
	d.Variance = make([]float64, len(d.Counts))
	for i, c := range d.Counts {
		d.Variance[i] = math.Max(c, 0)
	}
}

// Channels returns the number of channels.
func (d *Data) Channels() int { return len(d.Counts) }

// EndChan returns the number of the last channel.
func (d *Data) EndChan() int { return d.StartChan + len(d.Counts) - 1 }

// ExposureArea returns exposure × area scale for channel index c, the factor
// converting a count rate into expected counts.
func (d *Data) ExposureArea(c int) float64 { return d.Exposure * d.AreaScale[c] }

// ScaledExposure returns the exposure of d, as a background or correction
// of src, rescaled onto the source frame for channel index c:
// exposure × area scale × backscale / source backscale.
func (d *Data) ScaledExposure(src *Data, c int) float64 {
	return d.Exposure * d.AreaScale[c] * d.BackScale[c] / src.BackScale[c]
}

// Rate returns the count rate per channel.
func (d *Data) Rate() []float64 {
	t := floats.ScaleTo(make([]float64, len(d.AreaScale)), d.Exposure, d.AreaScale)
	return floats.DivTo(t, d.Counts, t)
}

// RateVariance returns the variance of Rate per channel.
func (d *Data) RateVariance() []float64 {
	t := floats.ScaleTo(make([]float64, len(d.AreaScale)), d.Exposure, d.AreaScale)
	floats.Mul(t, t)
	return floats.DivTo(t, d.Variance, t)
}

// TotalCounts returns the sum of counts over noticed channels.
func (d *Data) TotalCounts() float64 {
	sum := 0.0
	for _, c := range d.indirect {
		sum += d.Counts[c]
	}
	return sum
}

// Clone returns a deep copy with the same notice state. Handles are kept.
func (d *Data) Clone() *Data {
	c := *d
	c.Counts = slices.Clone(d.Counts)
	c.RawVariance = slices.Clone(d.RawVariance)
	c.Variance = slices.Clone(d.Variance)
	c.AreaScale = slices.Clone(d.AreaScale)
	c.BackScale = slices.Clone(d.BackScale)
	c.Quality = slices.Clone(d.Quality)
	c.Grouping = slices.Clone(d.Grouping)
	c.noticed = slices.Clone(d.noticed)
	c.indirect = slices.Clone(d.indirect)
	return &c
}

// WithCounts returns a copy whose counts (and Poisson variance) are
// replaced, as used for simulated realisations. The copy is Poisson and
// keeps the notice state.
func (d *Data) WithCounts(counts []float64) (*Data, error) {
	if len(counts) != len(d.Counts) {
		return nil, fmt.Errorf("%w: %d counts for %d channels", ErrSizeMismatch, len(counts), len(d.Counts))
	}
	c := d.Clone()
	c.Counts = slices.Clone(counts)
	c.RawVariance = nil
	c.Poisson = true
	c.resetVariance()
	return c, nil
}
