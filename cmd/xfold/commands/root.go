package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/archive"
	"github.com/haivivi/xfold/pkg/caldb"
	"github.com/haivivi/xfold/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	profileName  string
	formatOutput string
	query        string
	outputFile   string
	verbose      bool

	// Global configuration (loaded at init time)
	globalConfig  *cli.Config
	configLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "xfold",
	Short: "Fold model spectra through instrument responses",
	Long: `xfold - fold model photon spectra through X-ray instrument responses and
compare them with observed counts.

Products (responses, spectra and model fluxes) are YAML, JSON or msgpack
documents read from the profile's archive: a local directory or an S3
bucket. Responses may also come from the calibration database using a
"caldb:<instrument>/<name>" reference.

Configuration is stored in ~/.xfold/config.yaml as named profiles.

Examples:
  # Fold a power law through the spectrum's response
  xfold fold obs/src.yaml --flux models/pl.yaml

  # C-statistic of the folded model, channels 30-500 only
  xfold stat obs/src.yaml --flux models/pl.yaml --channels 30:500

  # 500 simulated spectra, 8 workers
  xfold gof obs/src.yaml --flux models/pl.yaml --trials 500 --workers 8 -q .fraction`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.xfold/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "profile to use (default is the current profile)")
	rootCmd.PersistentFlags().StringVarP(&formatOutput, "format", "f", "yaml", "output format: yaml, json or table")
	rootCmd.PersistentFlags().StringVarP(&query, "query", "q", "", "jq expression applied to the output")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	globalConfig, configLoadErr = cli.LoadConfig(cfgFile)
}

// getConfig returns the loaded configuration.
func getConfig() (*cli.Config, error) {
	if configLoadErr != nil {
		return nil, configLoadErr
	}
	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return globalConfig, nil
}

// getProfile resolves the --profile flag. A profile without a caldb
// directory uses <config dir>/caldb.
func getProfile() (*cli.Profile, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	p, err := cfg.ResolveProfile(profileName)
	if err != nil {
		return nil, err
	}
	if p.CalDB == "" {
		p.CalDB = filepath.Join(cfg.Dir(), "caldb")
	}
	return p, nil
}

// session bundles what a command needs from its profile.
type session struct {
	ctx     context.Context
	profile *cli.Profile
	store   archive.Store
	logger  *slog.Logger

	db *caldb.DB
}

func newSession(cmd *cobra.Command) (*session, error) {
	p, err := getProfile()
	if err != nil {
		return nil, err
	}
	store, err := p.OpenArchive()
	if err != nil {
		return nil, err
	}
	return &session{
		ctx:     cmd.Context(),
		profile: p,
		store:   store,
		logger:  slog.Default().With("profile", p.Name),
	}, nil
}

// calDB opens the calibration database on first use.
func (s *session) calDB() (*caldb.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := s.profile.OpenCalDB(s.logger)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *session) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// outputResult writes result with the global output flags.
func outputResult(result any) error {
	f, err := cli.ParseOutputFormat(formatOutput)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{
		Format: f,
		Query:  query,
		File:   outputFile,
	})
}
