package commands

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/archive"
	"github.com/haivivi/xfold/pkg/product"
	"github.com/haivivi/xfold/pkg/rebin"
)

var rebinFlags struct {
	energy string
	bins   int
	like   string
	method string
	save   string
}

var rebinCmd = &cobra.Command{
	Use:   "rebin <flux>",
	Short: "Rebin a model flux onto a new energy grid",
	Long: `Rebin a model flux onto a linear grid (--energy lo:hi --bins n) or onto the
energy grid of a response (--like).

Methods:
  sum     integrated flux per bin; partial bins take their overlap share
  interp  integral of the piecewise-linear interpolation of the flux density

Example:
  xfold rebin models/pl.yaml --energy 0.3:10 --bins 970 --save models/pl-fine.msgpack`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var doc product.Flux
		if err := archive.LoadInto(s.ctx, s.store, args[0], &doc); err != nil {
			return err
		}
		flux, err := doc.Flux()
		if err != nil {
			return err
		}
		if flux.Energy == nil {
			return fmt.Errorf("%s has no energy grid", args[0])
		}

		var dst rebin.Edges
		switch {
		case rebinFlags.like != "":
			m, err := s.loadResponse("", rebinFlags.like)
			if err != nil {
				return err
			}
			dst = m.EnergyEdges()
		case rebinFlags.energy != "" && rebinFlags.bins > 0:
			lo, hi, err := parseRange(rebinFlags.energy)
			if err != nil {
				return fmt.Errorf("--energy: %w", err)
			}
			dst = rebin.Linear(lo, hi, rebinFlags.bins)
		default:
			return fmt.Errorf("give --like or both --energy and --bins")
		}

		out := &product.Flux{Kind: product.KindFlux, Name: doc.Name, Energy: product.Array(dst)}
		switch rebinFlags.method {
		case "sum":
			m, err := rebin.NewMap(flux.Energy, dst, s.profile.Fuzz)
			if err != nil {
				return err
			}
			if out.Values, err = rebin.Rebin(flux.Values, m); err != nil {
				return err
			}
			if flux.Errors != nil {
				sq := make([]float64, len(flux.Errors))
				for i, e := range flux.Errors {
					sq[i] = e * e
				}
				v, err := rebin.Rebin(sq, m)
				if err != nil {
					return err
				}
				out.Errors = make(product.Array, len(v))
				for i := range v {
					out.Errors[i] = math.Sqrt(v[i])
				}
			}
		case "interp":
			if out.Values, err = rebin.LinInterpInteg(flux.Energy, flux.Values, dst); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown method %q, want sum or interp", rebinFlags.method)
		}
		s.logger.Debug("flux rebinned",
			"flux", doc.Name, "from", flux.Energy.Bins(), "to", dst.Bins(), "method", rebinFlags.method)

		if rebinFlags.save != "" {
			if err := archive.Save(s.ctx, s.store, rebinFlags.save, out); err != nil {
				return err
			}
		}
		return outputResult(out)
	},
}

func init() {
	rebinCmd.Flags().StringVar(&rebinFlags.energy, "energy", "", "target grid range lo:hi")
	rebinCmd.Flags().IntVar(&rebinFlags.bins, "bins", 0, "number of target bins")
	rebinCmd.Flags().StringVar(&rebinFlags.like, "like", "", "use the energy grid of this response")
	rebinCmd.Flags().StringVar(&rebinFlags.method, "method", "sum", "sum or interp")
	rebinCmd.Flags().StringVar(&rebinFlags.save, "save", "", "also save the result to the archive")
	rootCmd.AddCommand(rebinCmd)
}
