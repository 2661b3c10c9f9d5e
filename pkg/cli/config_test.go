package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haivivi/xfold/pkg/archive"
	"github.com/haivivi/xfold/pkg/rebin"
	"github.com/haivivi/xfold/pkg/stat"
)

func TestLoadMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path() != path {
		t.Errorf("Path = %q, want %q", cfg.Path(), path)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("loading should not create the file")
	}
	p, err := cfg.ResolveProfile("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultProfile(), p); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}
}

func TestProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddProfile("local", &Profile{Statistic: "chi", Archive: Archive{Dir: "/data"}}); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddProfile("cloud", &Profile{
		Threshold: 1e-6,
		Workers:   4,
		Seed:      42,
		Archive:   Archive{S3: &archive.S3Config{Bucket: "obs", Prefix: "xrt"}},
	}); err != nil {
		t.Fatal(err)
	}
	if cfg.CurrentProfile != "local" {
		t.Errorf("first profile should become current, got %q", cfg.CurrentProfile)
	}
	if err := cfg.UseProfile("cloud"); err != nil {
		t.Fatal(err)
	}

	again, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"cloud", "local"}, again.ListProfiles()); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}
	p, err := again.ResolveProfile("")
	if err != nil {
		t.Fatal(err)
	}
	want := &Profile{
		Name:      "cloud",
		Statistic: "cstat",
		Fuzz:      rebin.Fuzzy,
		Threshold: 1e-6,
		Workers:   4,
		Trials:    1000,
		Seed:      42,
		Archive:   Archive{S3: &archive.S3Config{Bucket: "obs", Prefix: "xrt"}},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("resolved profile mismatch (-want +got):\n%s", diff)
	}

	local, err := again.ResolveProfile("local")
	if err != nil {
		t.Fatal(err)
	}
	if k, err := local.Kind(); err != nil || k != stat.Chi {
		t.Errorf("Kind = %v, %v; want chi", k, err)
	}
	opts, err := local.GoodnessOfFit(nil)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Kind != stat.Chi || opts.Trials != 1000 {
		t.Errorf("GoodnessOfFit options = %+v", opts)
	}

	if err := again.DeleteProfile("cloud"); err != nil {
		t.Fatal(err)
	}
	if again.CurrentProfile != "" {
		t.Errorf("deleting the current profile should clear it")
	}
	if _, err := again.ResolveProfile("cloud"); !errors.Is(err, ErrNoProfile) {
		t.Errorf("expected ErrNoProfile, got %v", err)
	}
	if err := again.UseProfile("nope"); !errors.Is(err, ErrNoProfile) {
		t.Errorf("expected ErrNoProfile, got %v", err)
	}
}

func TestProfileValidate(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []*Profile{
		{Statistic: "likelihood"},
		{Fuzz: -1},
		{Archive: Archive{S3: &archive.S3Config{}}},
	} {
		if err := cfg.AddProfile("bad", p); err == nil {
			t.Errorf("AddProfile(%+v) should fail", p)
		}
	}
	if err := cfg.AddProfile("", &Profile{}); err == nil {
		t.Errorf("empty profile name should fail")
	}
	if len(cfg.Profiles) != 0 {
		t.Errorf("invalid profiles were stored: %v", cfg.ListProfiles())
	}
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	const doc = `current_profile: lab
profiles:
  lab:
    statistic: wstat
    archive:
      dir: /srv/products
    caldb: /srv/caldb
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	p, err := cfg.ResolveProfile("")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "lab" || p.CalDB != "/srv/caldb" || p.Archive.Dir != "/srv/products" {
		t.Errorf("profile = %+v", p)
	}
	if k, _ := p.Kind(); k != stat.CStat {
		t.Errorf("wstat should parse as cstat, got %v", k)
	}
}

func TestOpenArchive(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Archive: Archive{Dir: dir}}
	s, err := p.OpenArchive()
	if err != nil {
		t.Fatal(err)
	}
	local, ok := s.(*archive.Local)
	if !ok {
		t.Fatalf("OpenArchive returned %T, want *archive.Local", s)
	}
	if local.Root() != dir {
		t.Errorf("Root = %q, want %q", local.Root(), dir)
	}
}
