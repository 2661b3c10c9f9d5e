package product

import (
	"fmt"
	"math"
	"slices"

	"github.com/haivivi/xfold/pkg/fold"
	"github.com/haivivi/xfold/pkg/rebin"
	"github.com/haivivi/xfold/pkg/spectrum"
)

// Spectrum is an observed pulse-height spectrum document. Background,
// Correction and Response name other products relative to the same store.
type Spectrum struct {
	Kind        string `json:"kind" yaml:"kind" msgpack:"kind"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty" msgpack:"name,omitempty"`
	Instrument  string `json:"instrument,omitempty" yaml:"instrument,omitempty" msgpack:"instrument,omitempty"`
	ChannelType string `json:"channel_type,omitempty" yaml:"channel_type,omitempty" msgpack:"channel_type,omitempty"`
	StartChan   int    `json:"start_chan" yaml:"start_chan" msgpack:"start_chan"`

	Exposure float64 `json:"exposure" yaml:"exposure" msgpack:"exposure"`
	Counts   Array   `json:"counts" yaml:"counts,flow" msgpack:"counts"`
	StatErr  Array   `json:"stat_err,omitempty" yaml:"stat_err,omitempty,flow" msgpack:"stat_err,omitempty"`
	Poisson  *bool   `json:"poisson,omitempty" yaml:"poisson,omitempty" msgpack:"poisson,omitempty"`

	AreaScale Array `json:"area_scale,omitempty" yaml:"area_scale,omitempty,flow" msgpack:"area_scale,omitempty"`
	BackScale Array `json:"back_scale,omitempty" yaml:"back_scale,omitempty,flow" msgpack:"back_scale,omitempty"`
	Quality   []int `json:"quality,omitempty" yaml:"quality,omitempty,flow" msgpack:"quality,omitempty"`
	Grouping  []int `json:"grouping,omitempty" yaml:"grouping,omitempty,flow" msgpack:"grouping,omitempty"`

	Background     string  `json:"background,omitempty" yaml:"background,omitempty" msgpack:"background,omitempty"`
	Correction     string  `json:"correction,omitempty" yaml:"correction,omitempty" msgpack:"correction,omitempty"`
	CorrectionNorm float64 `json:"correction_norm,omitempty" yaml:"correction_norm,omitempty" msgpack:"correction_norm,omitempty"`
	Response       string  `json:"response,omitempty" yaml:"response,omitempty" msgpack:"response,omitempty"`
}

// Data validates the document and builds the spectrum.
func (s *Spectrum) Data() (*spectrum.Data, error) {
	if err := checkKind(s.Kind, KindSpectrum); err != nil {
		return nil, err
	}
	d, err := spectrum.New(spectrum.Options{
		Name:        s.Name,
		Counts:      s.Counts,
		StatErr:     s.StatErr,
		Poisson:     s.Poisson,
		ChannelType: s.ChannelType,
		StartChan:   s.StartChan,
		Exposure:    s.Exposure,
		AreaScale:   s.AreaScale,
		BackScale:   s.BackScale,
		Quality:     s.Quality,
		Grouping:    s.Grouping,
	})
	if err != nil {
		return nil, fmt.Errorf("product: spectrum %s: %w", s.Name, err)
	}
	d.CorrectionNorm = s.CorrectionNorm
	return d, nil
}

// FromData returns the document describing d.
func FromData(instrument string, d *spectrum.Data) *Spectrum {
	s := &Spectrum{
		Kind:           KindSpectrum,
		Name:           d.Name,
		Instrument:     instrument,
		ChannelType:    d.ChannelType,
		StartChan:      d.StartChan,
		Exposure:       d.Exposure,
		Counts:         d.Counts,
		Poisson:        &d.Poisson,
		AreaScale:      d.AreaScale,
		BackScale:      d.BackScale,
		Quality:        d.Quality,
		Grouping:       d.Grouping,
		CorrectionNorm: d.CorrectionNorm,
	}
	if d.RawVariance != nil {
		s.StatErr = make(Array, len(d.RawVariance))
		for i, v := range d.RawVariance {
			s.StatErr[i] = math.Sqrt(v)
		}
	}
	return s
}

// Flux is a model photon flux document. Energy holds the bin edges of the
// model grid; without it the flux is taken to be on the response grid.
type Flux struct {
	Kind   string `json:"kind" yaml:"kind" msgpack:"kind"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty" msgpack:"name,omitempty"`
	Energy Array  `json:"energy,omitempty" yaml:"energy,omitempty,flow" msgpack:"energy,omitempty"`
	Values Array  `json:"values" yaml:"values,flow" msgpack:"values"`
	Errors Array  `json:"errors,omitempty" yaml:"errors,omitempty,flow" msgpack:"errors,omitempty"`
}

// Flux validates the document and returns the fold input.
func (f *Flux) Flux() (fold.Flux, error) {
	if err := checkKind(f.Kind, KindFlux); err != nil {
		return fold.Flux{}, err
	}
	out := fold.Flux{Values: f.Values, Errors: f.Errors}
	if f.Energy == nil {
		return out, nil
	}
	e, reversed, err := rebin.Normalize(f.Energy)
	if err != nil {
		return fold.Flux{}, fmt.Errorf("product: flux %s energy: %w", f.Name, err)
	}
	if e.Bins() != len(f.Values) {
		return fold.Flux{}, fmt.Errorf("%w: flux %s has %d edges for %d values",
			fold.ErrSizeMismatch, f.Name, len(f.Energy), len(f.Values))
	}
	out.Energy = e
	if reversed {
		out.Values = slices.Clone(out.Values)
		slices.Reverse(out.Values)
		if out.Errors != nil {
			out.Errors = slices.Clone(out.Errors)
			slices.Reverse(out.Errors)
		}
	}
	return out, nil
}
