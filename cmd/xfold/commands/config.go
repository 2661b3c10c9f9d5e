package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/archive"
	"github.com/haivivi/xfold/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration profiles",
	Long: `Manage configuration profiles.

Profiles bundle the statistic, archive and calibration database settings
of a run, similar to kubectl contexts.

Configuration is stored in ~/.xfold/config.yaml`,
}

var addProfile struct {
	statistic string
	fuzz      float64
	threshold float64
	dir       string
	bucket    string
	prefix    string
	region    string
	endpoint  string
	caldb     string
	workers   int
	trials    int
	seed      uint64
}

var configAddProfileCmd = &cobra.Command{
	Use:   "add-profile <name>",
	Short: "Add or replace a profile",
	Long: `Add or replace a profile. The first profile becomes the current one.

Examples:
  xfold config add-profile lab --dir /data/products --statistic cstat
  xfold config add-profile cloud --bucket obs --prefix xrt --endpoint http://localhost:9000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		p := &cli.Profile{
			Statistic: addProfile.statistic,
			Fuzz:      addProfile.fuzz,
			Threshold: addProfile.threshold,
			Archive:   cli.Archive{Dir: addProfile.dir},
			CalDB:     addProfile.caldb,
			Workers:   addProfile.workers,
			Trials:    addProfile.trials,
			Seed:      addProfile.seed,
		}
		if addProfile.bucket != "" {
			p.Archive.S3 = &archive.S3Config{
				Bucket:   addProfile.bucket,
				Prefix:   addProfile.prefix,
				Region:   addProfile.region,
				Endpoint: addProfile.endpoint,
			}
		}
		if err := cfg.AddProfile(args[0], p); err != nil {
			return err
		}
		cli.PrintSuccess("Profile %q saved to %s", args[0], cfg.Path())
		return nil
	},
}

var configUseProfileCmd = &cobra.Command{
	Use:   "use-profile <name>",
	Short: "Set the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseProfile(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to profile %q", args[0])
		return nil
	},
}

var configDeleteProfileCmd = &cobra.Command{
	Use:   "delete-profile <name>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteProfile(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Profile %q deleted", args[0])
		return nil
	},
}

// profileList is the output of config list.
type profileList struct {
	Current  string         `json:"current" yaml:"current"`
	Profiles []*cli.Profile `json:"profiles" yaml:"profiles"`
}

func (l *profileList) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"", "name", "statistic", "archive", "workers"}}
	for _, p := range l.Profiles {
		mark := ""
		if p.Name == l.Current {
			mark = "*"
		}
		where := p.Archive.Dir
		if s3 := p.Archive.S3; s3 != nil {
			where = "s3://" + s3.Bucket + "/" + s3.Prefix
		}
		t.Rows = append(t.Rows, []string{mark, p.Name, p.Statistic, where, strconv.Itoa(p.Workers)})
	}
	return t
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		out := &profileList{Current: cfg.CurrentProfile}
		for _, name := range cfg.ListProfiles() {
			out.Profiles = append(out.Profiles, cfg.Profiles[name])
		}
		return outputResult(out)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show the resolved settings of a profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			profileName = args[0]
		}
		p, err := getProfile()
		if err != nil {
			return err
		}
		return outputResult(p)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		fmt.Println(cfg.Path())
		return nil
	},
}

func init() {
	f := configAddProfileCmd.Flags()
	f.StringVar(&addProfile.statistic, "statistic", "", "cstat or chi")
	f.Float64Var(&addProfile.fuzz, "fuzz", 0, "relative grid tolerance")
	f.Float64Var(&addProfile.threshold, "threshold", 0, "response element threshold")
	f.StringVar(&addProfile.dir, "dir", "", "local archive directory")
	f.StringVar(&addProfile.bucket, "bucket", "", "S3 archive bucket")
	f.StringVar(&addProfile.prefix, "prefix", "", "S3 key prefix")
	f.StringVar(&addProfile.region, "region", "", "S3 region")
	f.StringVar(&addProfile.endpoint, "endpoint", "", "S3-compatible endpoint URL")
	f.StringVar(&addProfile.caldb, "caldb", "", "calibration database directory")
	f.IntVar(&addProfile.workers, "workers", 0, "goodness-of-fit workers")
	f.IntVar(&addProfile.trials, "trials", 0, "goodness-of-fit trials")
	f.Uint64Var(&addProfile.seed, "seed", 0, "goodness-of-fit seed")

	configCmd.AddCommand(configAddProfileCmd)
	configCmd.AddCommand(configUseProfileCmd)
	configCmd.AddCommand(configDeleteProfileCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
