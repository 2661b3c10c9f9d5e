package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/xfold/pkg/archive"
	"github.com/haivivi/xfold/pkg/caldb"
	"github.com/haivivi/xfold/pkg/rebin"
	"github.com/haivivi/xfold/pkg/simulate"
	"github.com/haivivi/xfold/pkg/stat"
)

const (
	// DefaultBaseDir is the configuration directory under the home directory.
	DefaultBaseDir = ".xfold"
	// DefaultConfigFile is the configuration filename.
	DefaultConfigFile = "config.yaml"
)

// ErrNoProfile is returned when a named profile does not exist.
var ErrNoProfile = errors.New("cli: no such profile")

// Config is the on-disk CLI configuration.
type Config struct {
	// CurrentProfile is used when no profile is named on the command line.
	CurrentProfile string `yaml:"current_profile,omitempty"`

	Profiles map[string]*Profile `yaml:"profiles,omitempty"`

	path string
}

// Profile is a named set of run settings.
type Profile struct {
	Name string `yaml:"name"`

	// Statistic is a stat.ParseKind name: cstat or chi.
	Statistic string `yaml:"statistic,omitempty"`

	// Fuzz is the relative tolerance for grid comparisons.
	Fuzz float64 `yaml:"fuzz,omitempty"`

	// Threshold drops response elements below it when matrices are loaded
	// or compressed.
	Threshold float64 `yaml:"threshold,omitempty"`

	Archive Archive `yaml:"archive,omitempty"`

	// CalDB is the calibration database directory. Empty runs in memory.
	CalDB string `yaml:"caldb,omitempty"`

	// Workers bounds goodness-of-fit concurrency; zero means GOMAXPROCS.
	Workers int `yaml:"workers,omitempty"`

	Trials int    `yaml:"trials,omitempty"`
	Seed   uint64 `yaml:"seed,omitempty"`
}

// Archive selects a product store: an S3 bucket when S3 is set, otherwise
// the local directory Dir (default ".").
type Archive struct {
	Dir string            `yaml:"dir,omitempty"`
	S3  *archive.S3Config `yaml:"s3,omitempty"`
}

// DefaultProfile returns the settings used without a configured profile.
func DefaultProfile() *Profile {
	gof := simulate.DefaultOptions()
	return &Profile{
		Name:      "default",
		Statistic: stat.CStat.String(),
		Fuzz:      rebin.Fuzzy,
		Trials:    gof.Trials,
	}
}

// LoadConfig reads the configuration at path, or ~/.xfold/config.yaml when
// path is empty. A missing file yields an empty configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cli: home directory: %w", err)
		}
		path = filepath.Join(home, DefaultBaseDir, DefaultConfigFile)
	}
	cfg := &Config{Profiles: make(map[string]*Profile), path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cli: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cli: parse config %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	for name, p := range cfg.Profiles {
		p.Name = name
	}
	cfg.path = path
	return cfg, nil
}

// Save writes the configuration, creating its directory.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cli: marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("cli: config directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("cli: write config: %w", err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string { return c.path }

// Dir returns the directory holding the config file.
func (c *Config) Dir() string { return filepath.Dir(c.path) }

// AddProfile validates p, stores it under name and saves.
func (c *Config) AddProfile(name string, p *Profile) error {
	if name == "" {
		return errors.New("cli: profile name is empty")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.Name = name
	c.Profiles[name] = p
	if c.CurrentProfile == "" {
		c.CurrentProfile = name
	}
	return c.Save()
}

// DeleteProfile removes a profile and saves.
func (c *Config) DeleteProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoProfile, name)
	}
	delete(c.Profiles, name)
	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}
	return c.Save()
}

// UseProfile makes name the current profile and saves.
func (c *Config) UseProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoProfile, name)
	}
	c.CurrentProfile = name
	return c.Save()
}

// ResolveProfile returns the named profile, the current profile when name
// is empty, or DefaultProfile when neither is set. Unset fields of a stored
// profile take their defaults.
func (c *Config) ResolveProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}
	if name == "" {
		return DefaultProfile(), nil
	}
	p, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProfile, name)
	}
	out := *p
	def := DefaultProfile()
	if out.Statistic == "" {
		out.Statistic = def.Statistic
	}
	if out.Fuzz == 0 {
		out.Fuzz = def.Fuzz
	}
	if out.Trials == 0 {
		out.Trials = def.Trials
	}
	return &out, nil
}

// ListProfiles returns the profile names in sorted order.
func (c *Config) ListProfiles() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks the profile's settings.
func (p *Profile) Validate() error {
	if p.Statistic != "" {
		if _, err := stat.ParseKind(p.Statistic); err != nil {
			return err
		}
	}
	if p.Fuzz < 0 || p.Threshold < 0 || p.Workers < 0 || p.Trials < 0 {
		return fmt.Errorf("cli: profile %s: negative setting", p.Name)
	}
	if p.Archive.S3 != nil && p.Archive.S3.Bucket == "" {
		return fmt.Errorf("cli: profile %s: s3 archive without a bucket", p.Name)
	}
	return nil
}

// Kind returns the profile's statistic.
func (p *Profile) Kind() (stat.Kind, error) {
	if p.Statistic == "" {
		return stat.CStat, nil
	}
	return stat.ParseKind(p.Statistic)
}

// OpenArchive opens the profile's product store.
func (p *Profile) OpenArchive() (archive.Store, error) {
	if p.Archive.S3 != nil {
		return archive.OpenS3(*p.Archive.S3)
	}
	dir := p.Archive.Dir
	if dir == "" {
		dir = "."
	}
	return archive.NewLocal(dir)
}

// OpenCalDB opens the profile's calibration database.
func (p *Profile) OpenCalDB(logger *slog.Logger) (*caldb.DB, error) {
	return caldb.Open(caldb.Options{Dir: p.CalDB, Logger: logger})
}

// GoodnessOfFit returns simulation options from the profile.
func (p *Profile) GoodnessOfFit(logger *slog.Logger) (simulate.Options, error) {
	kind, err := p.Kind()
	if err != nil {
		return simulate.Options{}, err
	}
	opts := simulate.DefaultOptions()
	opts.Kind = kind
	opts.Workers = p.Workers
	opts.Seed = p.Seed
	opts.Logger = logger
	if p.Trials > 0 {
		opts.Trials = p.Trials
	}
	return opts, nil
}
