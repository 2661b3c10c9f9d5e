package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/archive"
	"github.com/haivivi/xfold/pkg/caldb"
	"github.com/haivivi/xfold/pkg/cli"
)

var caldbCmd = &cobra.Command{
	Use:   "caldb",
	Short: "Calibration database",
	Long: `Store responses, spectra and fluxes by instrument and name.

Stored responses can be used anywhere a response is expected with the
reference caldb:<instrument>/<name>.

The database lives in the profile's caldb directory
(default ~/.xfold/caldb).`,
}

var caldbInstrument string

var caldbPutCmd = &cobra.Command{
	Use:   "put <product>...",
	Short: "Store products from the archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		db, err := s.calDB()
		if err != nil {
			return err
		}
		var recs []*caldb.Record
		for _, name := range args {
			doc, err := archive.Load(s.ctx, s.store, name)
			if err != nil {
				return err
			}
			rec, err := db.Put(s.ctx, caldbInstrument, doc)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			recs = append(recs, rec)
		}
		return outputResult(recordList(recs))
	},
}

var caldbSave string

var caldbGetCmd = &cobra.Command{
	Use:   "get <instrument> <kind> <name>",
	Short: "Print a stored product, or save it to the archive",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		db, err := s.calDB()
		if err != nil {
			return err
		}
		rec, err := db.Get(s.ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		doc, err := rec.Decode()
		if err != nil {
			return err
		}
		if caldbSave != "" {
			return archive.Save(s.ctx, s.store, caldbSave, doc)
		}
		return outputResult(doc)
	},
}

var caldbKind string

var caldbListCmd = &cobra.Command{
	Use:   "list [instrument]",
	Short: "List stored products",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		db, err := s.calDB()
		if err != nil {
			return err
		}
		instrument := ""
		if len(args) == 1 {
			instrument = args[0]
		}
		recs, err := db.List(s.ctx, instrument, caldbKind)
		if err != nil {
			return err
		}
		return outputResult(recordList(recs))
	},
}

var caldbDeleteCmd = &cobra.Command{
	Use:   "delete <instrument> <kind> <name>",
	Short: "Delete a stored product",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		db, err := s.calDB()
		if err != nil {
			return err
		}
		return db.Delete(s.ctx, args[0], args[1], args[2])
	},
}

type recordList []*caldb.Record

func (l recordList) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"instrument", "kind", "name", "id", "updated"}}
	for _, r := range l {
		t.Rows = append(t.Rows, []string{
			r.Instrument, r.Kind, r.Name, r.ID.String(), r.Updated.Format("2006-01-02 15:04:05"),
		})
	}
	return t
}

func init() {
	caldbPutCmd.Flags().StringVar(&caldbInstrument, "instrument", "", "instrument (default: the product's own)")
	caldbGetCmd.Flags().StringVar(&caldbSave, "save", "", "save to this archive path instead of printing")
	caldbListCmd.Flags().StringVar(&caldbKind, "kind", "", "only this product kind")
	caldbCmd.AddCommand(caldbPutCmd, caldbGetCmd, caldbListCmd, caldbDeleteCmd)
	rootCmd.AddCommand(caldbCmd)
}
