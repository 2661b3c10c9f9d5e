package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/cli"
	"github.com/haivivi/xfold/pkg/fold"
	"github.com/haivivi/xfold/pkg/simulate"
	"github.com/haivivi/xfold/pkg/stat"
)

var gofFlags struct {
	obs       observationFlags
	flux      string
	statistic string
	trials    int
	workers   int
	seed      uint64
	keep      bool
}

var gofCmd = &cobra.Command{
	Use:   "gof <spectrum>",
	Short: "Monte-Carlo goodness of fit",
	Long: `Simulate Poisson realisations of the folded model and report the share of
trials whose statistic falls below the observed one. A fraction near 1 means
the model is a poor description of the data.

Trials, workers and seed default to the profile's settings.

Example:
  xfold gof obs/src.yaml --flux models/pl.yaml --trials 1000 --seed 7`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if gofFlags.flux == "" {
			return fmt.Errorf("--flux is required")
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		opts, err := s.profile.GoodnessOfFit(s.logger)
		if err != nil {
			return err
		}
		if gofFlags.statistic != "" {
			if opts.Kind, err = stat.ParseKind(gofFlags.statistic); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("trials") {
			opts.Trials = gofFlags.trials
		}
		if cmd.Flags().Changed("workers") {
			opts.Workers = gofFlags.workers
		}
		if cmd.Flags().Changed("seed") {
			opts.Seed = gofFlags.seed
		}

		obs, err := s.loadObservation(args[0], &gofFlags.obs)
		if err != nil {
			return err
		}
		flux, err := s.loadFlux(gofFlags.flux)
		if err != nil {
			return err
		}
		res, err := s.foldModel(obs, flux, fold.Rate)
		if err != nil {
			return err
		}
		in, err := obs.statInputs()
		if err != nil {
			return err
		}
		targets := []simulate.Target{{Input: in[0], Model: res.Values}}

		r, err := simulate.GoodnessOfFit(s.ctx, targets, opts)
		if err != nil {
			return err
		}
		if !gofFlags.keep {
			r.Trials = nil
		}
		return outputResult((*gofOutput)(r))
	},
}

// gofOutput gives simulate.Result a table form.
type gofOutput simulate.Result

func (o *gofOutput) Table() *cli.Table {
	return &cli.Table{
		Title:   "goodness of fit " + o.RunID.String(),
		Headers: []string{"statistic", "observed", "mean", "fraction", "seed", "elapsed"},
		Rows: [][]string{{
			o.Kind.String(),
			strconv.FormatFloat(o.Observed, 'g', 6, 64),
			strconv.FormatFloat(o.Mean, 'g', 6, 64),
			strconv.FormatFloat(o.Fraction, 'f', 3, 64),
			strconv.FormatUint(o.Seed, 10),
			o.Elapsed.Round(time.Millisecond).String(),
		}},
	}
}

func init() {
	gofFlags.obs.register(gofCmd)
	gofCmd.Flags().StringVar(&gofFlags.flux, "flux", "", "best-fit model flux product")
	gofCmd.Flags().StringVar(&gofFlags.statistic, "statistic", "", "cstat or chi (default: the profile's)")
	gofCmd.Flags().IntVar(&gofFlags.trials, "trials", 0, "number of simulated spectra")
	gofCmd.Flags().IntVar(&gofFlags.workers, "workers", 0, "concurrent trials (0: GOMAXPROCS)")
	gofCmd.Flags().Uint64Var(&gofFlags.seed, "seed", 0, "random seed")
	gofCmd.Flags().BoolVar(&gofFlags.keep, "keep-trials", false, "include every trial statistic in the output")
	rootCmd.AddCommand(gofCmd)
}
