package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/archive"
	"github.com/haivivi/xfold/pkg/fold"
	"github.com/haivivi/xfold/pkg/product"
	"github.com/haivivi/xfold/pkg/rebin"
	"github.com/haivivi/xfold/pkg/response"
	"github.com/haivivi/xfold/pkg/spectrum"
	"github.com/haivivi/xfold/pkg/stat"
)

// caldbScheme prefixes response references served by the calibration
// database: caldb:<instrument>/<name>.
const caldbScheme = "caldb:"

// observationFlags select and prepare the spectrum of a command.
type observationFlags struct {
	responses []string
	channels  string
	energy    string
	ignoreBad bool
	group     bool
}

func (f *observationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.responses, "response", "r", nil, "response products (default: the spectrum's own)")
	cmd.Flags().StringVar(&f.channels, "channels", "", "notice only channels lo:hi")
	cmd.Flags().StringVar(&f.energy, "energy", "", "notice only channels overlapping energies lo:hi")
	cmd.Flags().BoolVar(&f.ignoreBad, "ignore-bad", false, "ignore channels with non-zero quality")
	cmd.Flags().BoolVar(&f.group, "group", false, "apply the spectrum's grouping")
}

// observation is a spectrum loaded with its background, correction and
// responses.
type observation struct {
	reg  *spectrum.Registry
	src  spectrum.Handle
	data *spectrum.Data
	dets []fold.Detector
}

func (s *session) loadObservation(name string, f *observationFlags) (*observation, error) {
	var doc product.Spectrum
	if err := archive.LoadInto(s.ctx, s.store, name, &doc); err != nil {
		return nil, err
	}
	src, err := doc.Data()
	if err != nil {
		return nil, err
	}
	bkg, err := s.loadSpectrum(name, doc.Background)
	if err != nil {
		return nil, err
	}
	cor, err := s.loadSpectrum(name, doc.Correction)
	if err != nil {
		return nil, err
	}

	// --response paths are archive paths; the document's own is relative
	// to the spectrum.
	refs, from := f.responses, ""
	if len(refs) == 0 && doc.Response != "" {
		refs, from = []string{doc.Response}, name
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: %s names no response; use --response", fold.ErrNoResponse, name)
	}
	var dets []fold.Detector
	for _, ref := range refs {
		m, err := s.loadResponse(from, ref)
		if err != nil {
			return nil, err
		}
		dets = append(dets, fold.Detector{Matrix: m})
	}

	if f.group {
		grouped, gm, err := src.Group()
		if err != nil {
			return nil, err
		}
		src = grouped
		if bkg != nil {
			if bkg, err = bkg.ApplyMap(gm); err != nil {
				return nil, fmt.Errorf("group background: %w", err)
			}
		}
		if cor != nil {
			if cor, err = cor.ApplyMap(gm); err != nil {
				return nil, fmt.Errorf("group correction: %w", err)
			}
		}
		for _, d := range dets {
			if err := d.Matrix.RebinChannels(gm); err != nil {
				return nil, fmt.Errorf("group response: %w", err)
			}
		}
		s.logger.Debug("spectrum grouped", "spectrum", src.Name, "channels", src.Channels())
	}

	if err := s.selectChannels(src, dets, f); err != nil {
		return nil, err
	}

	obs := &observation{reg: spectrum.NewRegistry(), data: src, dets: dets}
	obs.src = obs.reg.Add(src)
	if bkg != nil {
		if err := obs.reg.AttachBackground(obs.src, obs.reg.Add(bkg)); err != nil {
			return nil, err
		}
	}
	if cor != nil {
		if err := obs.reg.AttachCorrection(obs.src, obs.reg.Add(cor), doc.CorrectionNorm); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("observation loaded",
		"spectrum", src.Name,
		"channels", src.Channels(),
		"noticed", src.NumNoticed(),
		"background", bkg != nil,
		"responses", len(dets))
	return obs, nil
}

func (s *session) selectChannels(d *spectrum.Data, dets []fold.Detector, f *observationFlags) error {
	if f.channels != "" {
		lo, hi, err := parseRange(f.channels)
		if err != nil {
			return fmt.Errorf("--channels: %w", err)
		}
		if err := d.SetNoticed(make([]bool, d.Channels())); err != nil {
			return err
		}
		if err := d.Notice(int(lo), int(hi)); err != nil {
			return err
		}
	}
	if f.energy != "" {
		lo, hi, err := parseRange(f.energy)
		if err != nil {
			return fmt.Errorf("--energy: %w", err)
		}
		if err := d.NoticeEnergy(lo, hi, dets[0].Matrix); err != nil {
			return err
		}
	}
	if f.ignoreBad {
		if n := d.IgnoreBad(); n > 0 {
			s.logger.Info("bad channels ignored", "spectrum", d.Name, "channels", n)
		}
	}
	return nil
}

// loadSpectrum loads the spectrum ref names relative to from. An empty ref
// yields nil.
func (s *session) loadSpectrum(from, ref string) (*spectrum.Data, error) {
	if ref == "" {
		return nil, nil
	}
	var doc product.Spectrum
	if err := archive.LoadInto(s.ctx, s.store, archive.Resolve(from, ref), &doc); err != nil {
		return nil, err
	}
	return doc.Data()
}

// loadResponse loads a response from the archive, or from the calibration
// database for caldb: references. The profile threshold is applied.
func (s *session) loadResponse(from, ref string) (*response.Matrix, error) {
	var (
		m   *response.Matrix
		err error
	)
	if rest, ok := strings.CutPrefix(ref, caldbScheme); ok {
		instrument, name, found := strings.Cut(rest, "/")
		if !found {
			return nil, fmt.Errorf("bad calibration reference %q, want caldb:<instrument>/<name>", ref)
		}
		db, err := s.calDB()
		if err != nil {
			return nil, err
		}
		if m, err = db.Response(s.ctx, instrument, name); err != nil {
			return nil, err
		}
	} else {
		var doc product.Response
		if err = archive.LoadInto(s.ctx, s.store, archive.Resolve(from, ref), &doc); err != nil {
			return nil, err
		}
		if m, err = doc.Matrix(); err != nil {
			return nil, err
		}
	}
	if t := s.profile.Threshold; t > 0 {
		m.Compress(t)
	}
	return m, nil
}

func (s *session) loadFlux(name string) (fold.Flux, error) {
	var doc product.Flux
	if err := archive.LoadInto(s.ctx, s.store, name, &doc); err != nil {
		return fold.Flux{}, err
	}
	return doc.Flux()
}

// foldModel folds flux through the observation's responses and returns the
// model rate of every channel.
func (s *session) foldModel(obs *observation, flux fold.Flux, out fold.Output) (*fold.Result, error) {
	f, err := fold.New(obs.data, obs.dets, fold.Options{
		Output: out,
		Cache:  rebin.NewCache(s.profile.Fuzz),
		Logger: s.logger,
	})
	if err != nil {
		return nil, err
	}
	res, err := f.Fold([]fold.Flux{flux})
	if err != nil {
		return nil, err
	}
	if res.Values == nil {
		res.Values = make([]float64, obs.data.Channels())
	}
	return res, nil
}

// statInputs returns the statistic inputs of the observation.
func (obs *observation) statInputs() ([]stat.Input, error) {
	return stat.Inputs(obs.reg, obs.src)
}

// parseRange parses "lo:hi".
func parseRange(s string) (lo, hi float64, err error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("range %q is not lo:hi", s)
	}
	if lo, err = strconv.ParseFloat(strings.TrimSpace(a), 64); err != nil {
		return 0, 0, err
	}
	if hi, err = strconv.ParseFloat(strings.TrimSpace(b), 64); err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}
