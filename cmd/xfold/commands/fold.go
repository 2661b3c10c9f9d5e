package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/cli"
	"github.com/haivivi/xfold/pkg/fold"
	"github.com/haivivi/xfold/pkg/spectrum"
)

var foldFlags struct {
	obs    observationFlags
	flux   string
	counts bool
}

var foldCmd = &cobra.Command{
	Use:   "fold <spectrum>",
	Short: "Fold a model flux through a spectrum's responses",
	Long: `Fold a model photon flux through the responses of a spectrum and print
the predicted rate (or counts with --counts) of every noticed channel.

Example:
  xfold fold obs/src.yaml --flux models/pl.yaml -f table`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if foldFlags.flux == "" {
			return fmt.Errorf("--flux is required")
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		obs, err := s.loadObservation(args[0], &foldFlags.obs)
		if err != nil {
			return err
		}
		flux, err := s.loadFlux(foldFlags.flux)
		if err != nil {
			return err
		}
		mode := fold.Rate
		if foldFlags.counts {
			mode = fold.Counts
		}
		res, err := s.foldModel(obs, flux, mode)
		if err != nil {
			return err
		}
		return outputResult(newFoldOutput(obs.data, mode, res))
	},
}

// foldOutput lists the folded values of the noticed channels.
type foldOutput struct {
	Spectrum string        `json:"spectrum" yaml:"spectrum"`
	Output   string        `json:"output" yaml:"output"`
	Total    float64       `json:"total" yaml:"total"`
	Channels []foldChannel `json:"channels" yaml:"channels"`
}

type foldChannel struct {
	Channel  int     `json:"channel" yaml:"channel"`
	Observed float64 `json:"observed" yaml:"observed"`
	Model    float64 `json:"model" yaml:"model"`
	Error    float64 `json:"error,omitempty" yaml:"error,omitempty"`
}

func newFoldOutput(d *spectrum.Data, mode fold.Output, res *fold.Result) *foldOutput {
	out := &foldOutput{Spectrum: d.Name, Output: mode.String()}
	observed := d.Rate()
	if mode == fold.Counts {
		observed = d.Counts
	}
	for _, c := range d.Noticed() {
		ch := foldChannel{Channel: d.StartChan + c, Observed: observed[c], Model: res.Values[c]}
		if res.Errors != nil {
			ch.Error = res.Errors[c]
		}
		out.Total += ch.Model
		out.Channels = append(out.Channels, ch)
	}
	return out
}

func (o *foldOutput) Table() *cli.Table {
	t := &cli.Table{
		Title:   fmt.Sprintf("%s (%s, total %.6g)", o.Spectrum, o.Output, o.Total),
		Headers: []string{"channel", "observed", "model", "error"},
	}
	for _, ch := range o.Channels {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(ch.Channel),
			strconv.FormatFloat(ch.Observed, 'g', 6, 64),
			strconv.FormatFloat(ch.Model, 'g', 6, 64),
			strconv.FormatFloat(ch.Error, 'g', 6, 64),
		})
	}
	return t
}

func init() {
	foldFlags.obs.register(foldCmd)
	foldCmd.Flags().StringVar(&foldFlags.flux, "flux", "", "model flux product")
	foldCmd.Flags().BoolVar(&foldFlags.counts, "counts", false, "output counts instead of rates")
	rootCmd.AddCommand(foldCmd)
}
