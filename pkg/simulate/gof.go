// Package simulate runs Monte-Carlo trials of fitted spectra.
//
// [GoodnessOfFit] draws Poisson realisations of the folded model for every
// spectrum, evaluates the fit statistic of each realisation at the same
// model, and reports how often the simulated statistic falls below the
// observed one. Trials run on a bounded worker pool; every trial owns a
// random source derived from the caller's seed and its trial number, so
// results do not depend on the number of workers.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/haivivi/xfold/pkg/stat"
)

// ErrNoTrials is returned when Options.Trials is not positive.
var ErrNoTrials = errors.New("simulate: no trials requested")

// Options configures GoodnessOfFit.
type Options struct {
	Kind   stat.Kind
	Trials int
	// Workers bounds concurrent trials; 0 uses GOMAXPROCS.
	Workers int
	// Seed makes runs reproducible. Trial i draws from a PCG source seeded
	// with (Seed, i).
	Seed   uint64
	Logger *slog.Logger
}

// DefaultOptions returns 1000 C-statistic trials.
func DefaultOptions() Options {
	return Options{Kind: stat.CStat, Trials: 1000}
}

// Target is one fitted spectrum: its data and the folded best-fit model
// rate per channel.
type Target struct {
	stat.Input
	Model []float64
}

// Result summarizes a goodness-of-fit run.
type Result struct {
	RunID    uuid.UUID `json:"run_id" yaml:"run_id"`
	Kind     stat.Kind `json:"kind" yaml:"kind"`
	Seed     uint64    `json:"seed" yaml:"seed"`
	Observed float64   `json:"observed" yaml:"observed"`
	// Trials holds the statistic of every realisation, in trial order.
	Trials []float64 `json:"trials" yaml:"trials"`
	// Fraction is the share of trials whose statistic is below Observed.
	Fraction float64       `json:"fraction" yaml:"fraction"`
	Mean     float64       `json:"mean" yaml:"mean"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
}

// GoodnessOfFit simulates opts.Trials realisations of targets. The context
// is checked between trials; a cancelled run returns ctx.Err().
func GoodnessOfFit(ctx context.Context, targets []Target, opts Options) (*Result, error) {
	if opts.Trials <= 0 {
		return nil, ErrNoTrials
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observed, err := evaluate(opts.Kind, inputs(targets), targets, logger)
	if err != nil {
		return nil, fmt.Errorf("simulate: observed statistic: %w", err)
	}

	res := &Result{
		RunID:    uuid.New(),
		Kind:     opts.Kind,
		Seed:     opts.Seed,
		Observed: observed,
		Trials:   make([]float64, opts.Trials),
	}
	logger.Info("goodness of fit started",
		"run", res.RunID, "stat", opts.Kind, "trials", opts.Trials, "workers", opts.Workers, "observed", observed)
	start := time.Now()

	quiet := slog.New(slog.DiscardHandler)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < opts.Trials; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(i)))
			in, err := realise(targets, rng)
			if err != nil {
				return err
			}
			v, err := evaluate(opts.Kind, in, targets, quiet)
			if err != nil {
				return fmt.Errorf("simulate: trial %d: %w", i, err)
			}
			res.Trials[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	below := 0
	for _, v := range res.Trials {
		if v < observed {
			below++
		}
	}
	res.Fraction = float64(below) / float64(opts.Trials)
	res.Mean = floats.Sum(res.Trials) / float64(opts.Trials)
	res.Elapsed = time.Since(start)
	logger.Info("goodness of fit done",
		"run", res.RunID, "fraction", res.Fraction, "mean", res.Mean, "elapsed", res.Elapsed)
	return res, nil
}

func inputs(targets []Target) []stat.Input {
	in := make([]stat.Input, len(targets))
	for i, t := range targets {
		in[i] = t.Input
	}
	return in
}

func evaluate(kind stat.Kind, in []stat.Input, targets []Target, logger *slog.Logger) (float64, error) {
	e, err := stat.New(kind, in, stat.Options{Logger: logger})
	if err != nil {
		return 0, err
	}
	models := make([][]float64, len(targets))
	for i, t := range targets {
		models[i] = t.Model
	}
	if err := e.Reset(models); err != nil {
		return 0, err
	}
	return e.Perform()
}

// realise draws one Poisson realisation of every target. The source
// expectation is the model plus the observed background and the scaled
// correction; backgrounds are redrawn around their observed counts,
// corrections are kept fixed. Ignored channels keep their data.
func realise(targets []Target, rng *rand.Rand) ([]stat.Input, error) {
	out := make([]stat.Input, len(targets))
	for i, t := range targets {
		d := t.Data
		if len(t.Model) != d.Channels() {
			return nil, fmt.Errorf("%w: spectrum %d model has %d channels, want %d",
				stat.ErrSizeMismatch, t.Handle, len(t.Model), d.Channels())
		}
		counts := slices.Clone(d.Counts)
		var bkgCounts []float64
		if t.Background != nil {
			bkgCounts = slices.Clone(t.Background.Counts)
		}
		for _, c := range d.Noticed() {
			mu := t.Model[c] * d.ExposureArea(c)
			if b := t.Background; b != nil {
				mu += b.Counts[c] * d.ExposureArea(c) / b.ScaledExposure(d, c)
				bkgCounts[c] = poisson(b.Counts[c], rng)
			}
			if cor := t.Correction; cor != nil && t.CorrectionNorm != 0 {
				mu += t.CorrectionNorm * cor.Counts[c] * d.ExposureArea(c) / cor.ScaledExposure(d, c)
			}
			counts[c] = poisson(mu, rng)
		}

		sim, err := d.WithCounts(counts)
		if err != nil {
			return nil, err
		}
		in := t.Input
		in.Data = sim
		if t.Background != nil {
			if in.Background, err = t.Background.WithCounts(bkgCounts); err != nil {
				return nil, err
			}
		}
		out[i] = in
	}
	return out, nil
}

func poisson(mu float64, rng *rand.Rand) float64 {
	if !(mu > 0) {
		return 0
	}
	return distuv.Poisson{Lambda: mu, Src: rng}.Rand()
}
