package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/cli"
	"github.com/haivivi/xfold/pkg/fold"
	"github.com/haivivi/xfold/pkg/stat"
)

var statFlags struct {
	obs       observationFlags
	flux      string
	statistic string
}

var statCmd = &cobra.Command{
	Use:   "stat <spectrum>",
	Short: "Evaluate the fit statistic of a folded model",
	Long: `Fold a model flux and compare it with the observed spectrum using the
profile's statistic (cstat or chi), or the one given by --statistic.

A spectrum with a background uses the W-statistic for cstat and the
background-subtracted variance for chi.

Example:
  xfold stat obs/src.yaml --flux models/pl.yaml --statistic chi -q .statistic`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if statFlags.flux == "" {
			return fmt.Errorf("--flux is required")
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		kind, err := statKind(s, statFlags.statistic)
		if err != nil {
			return err
		}
		obs, err := s.loadObservation(args[0], &statFlags.obs)
		if err != nil {
			return err
		}
		flux, err := s.loadFlux(statFlags.flux)
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
		eng, err := stat.New(kind, in, stat.Options{Logger: s.logger})
		if err != nil {
			return err
		}
		if err := eng.Reset([][]float64{res.Values}); err != nil {
			return err
		}
		total, err := eng.Perform()
		if err != nil {
			return err
		}

		out := &statOutput{
			Spectrum:  obs.data.Name,
			Kind:      kind,
			Statistic: total,
			DOF:       eng.DOF(),
		}
		points := eng.Points(0)
		for k, c := range obs.data.Noticed() {
			out.Channels = append(out.Channels, statChannel{
				Channel: obs.data.StartChan + c,
				Value:   points[k],
			})
		}
		return outputResult(out)
	},
}

// statKind returns the --statistic flag, or the profile's statistic.
func statKind(s *session, flag string) (stat.Kind, error) {
	if flag != "" {
		return stat.ParseKind(flag)
	}
	return s.profile.Kind()
}

type statOutput struct {
	Spectrum  string        `json:"spectrum" yaml:"spectrum"`
	Kind      stat.Kind     `json:"kind" yaml:"kind"`
	Statistic float64       `json:"statistic" yaml:"statistic"`
	DOF       int           `json:"dof" yaml:"dof"`
	Channels  []statChannel `json:"channels" yaml:"channels"`
}

type statChannel struct {
	Channel int     `json:"channel" yaml:"channel"`
	Value   float64 `json:"value" yaml:"value"`
}

func (o *statOutput) Table() *cli.Table {
	t := &cli.Table{
		Title:   fmt.Sprintf("%s: %s = %.6g, %d channels", o.Spectrum, o.Kind, o.Statistic, o.DOF),
		Headers: []string{"channel", o.Kind.String()},
	}
	for _, ch := range o.Channels {
		t.Rows = append(t.Rows, []string{strconv.Itoa(ch.Channel), strconv.FormatFloat(ch.Value, 'g', 6, 64)})
	}
	return t
}

func init() {
	statFlags.obs.register(statCmd)
	statCmd.Flags().StringVar(&statFlags.flux, "flux", "", "model flux product")
	statCmd.Flags().StringVar(&statFlags.statistic, "statistic", "", "cstat or chi (default: the profile's)")
	rootCmd.AddCommand(statCmd)
}
