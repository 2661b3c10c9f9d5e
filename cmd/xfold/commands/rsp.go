package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/archive"
	"github.com/haivivi/xfold/pkg/cli"
	"github.com/haivivi/xfold/pkg/product"
	"github.com/haivivi/xfold/pkg/response"
)

var rspCmd = &cobra.Command{
	Use:   "rsp",
	Short: "Inspect, normalize and compress responses",
}

// rspInfo summarizes a response.
type rspInfo struct {
	Name   string `json:"name" yaml:"name"`
	Usable bool   `json:"usable" yaml:"usable"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`

	response.Stats `json:",inline" yaml:",inline"`

	// PeakArea is the largest effective area (row sum times area scaling).
	PeakArea   float64 `json:"peak_area" yaml:"peak_area"`
	PeakEnergy float64 `json:"peak_energy" yaml:"peak_energy"`
}

func (o *rspInfo) Table() *cli.Table {
	return &cli.Table{
		Title:   o.Name,
		Headers: []string{"energies", "channels", "groups", "elements", "density", "range", "peak area"},
		Rows: [][]string{{
			strconv.Itoa(o.Energies),
			strconv.Itoa(o.Channels),
			strconv.Itoa(o.Groups),
			strconv.Itoa(o.Elements),
			strconv.FormatFloat(o.Density, 'f', 4, 64),
			fmt.Sprintf("%g-%g", o.EnergyLo, o.EnergyHi),
			fmt.Sprintf("%.4g @ %g", o.PeakArea, o.PeakEnergy),
		}},
	}
}

var rspInfoCmd = &cobra.Command{
	Use:   "info <response>",
	Short: "Summarize a response",
	Long: `Summarize a response product or a caldb:<instrument>/<name> reference.

Example:
  xfold rsp info rsp/pc.yaml -f table`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := s.loadResponse("", args[0])
		if err != nil {
			return err
		}
		info := &rspInfo{Name: args[0], Usable: m.Usable(), Stats: m.Stats()}
		if err := m.Err(); err != nil {
			info.Error = err.Error()
		}
		centers := m.EnergyEdges().Centers()
		for e, a := range m.Efficiency() {
			if a > info.PeakArea {
				info.PeakArea, info.PeakEnergy = a, centers[e]
			}
		}
		return outputResult(info)
	},
}

var rspSave string

// transform loads a response, applies fn and saves the result to --save
// (default: overwrite the input).
func transform(cmd *cobra.Command, name string, fn func(*session, *response.Matrix) error) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var doc product.Response
	if err := archive.LoadInto(s.ctx, s.store, name, &doc); err != nil {
		return err
	}
	m, err := doc.Matrix()
	if err != nil {
		return err
	}
	before := m.NumElements()
	if err := fn(s, m); err != nil {
		return err
	}
	dst := rspSave
	if dst == "" {
		dst = name
	}
	if err := archive.Save(s.ctx, s.store, dst, product.FromMatrix(doc.Name, doc.Instrument, m)); err != nil {
		return err
	}
	s.logger.Info("response saved", "path", dst, "elements", m.NumElements(), "before", before)
	return outputResult(&rspInfo{Name: dst, Usable: m.Usable(), Stats: m.Stats()})
}

var rspNormalizeCmd = &cobra.Command{
	Use:   "normalize <response>",
	Short: "Scale every response row to unit sum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transform(cmd, args[0], func(s *session, m *response.Matrix) error {
			if zero := m.Normalize(); len(zero) > 0 {
				s.logger.Warn("response rows with zero sum left unchanged", "rows", len(zero))
			}
			return nil
		})
	},
}

var rspThreshold float64

var rspCompressCmd = &cobra.Command{
	Use:   "compress <response>",
	Short: "Drop response elements below a threshold",
	Long: `Drop response elements below --threshold (default: the profile's
threshold) and regroup the remaining elements.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transform(cmd, args[0], func(s *session, m *response.Matrix) error {
			t := rspThreshold
			if !cmd.Flags().Changed("threshold") {
				t = s.profile.Threshold
			}
			if t <= 0 {
				return fmt.Errorf("no threshold: set --threshold or the profile's threshold")
			}
			m.Compress(t)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{rspNormalizeCmd, rspCompressCmd} {
		c.Flags().StringVar(&rspSave, "save", "", "destination (default: overwrite the input)")
	}
	rspCompressCmd.Flags().Float64Var(&rspThreshold, "threshold", 0, "drop elements below this value")
	rspCmd.AddCommand(rspInfoCmd, rspNormalizeCmd, rspCompressCmd)
	rootCmd.AddCommand(rspCmd)
}
