package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haivivi/xfold/cmd/xfold/internal/build"
	"github.com/haivivi/xfold/pkg/simulate"
)

const testResponse = `kind: response
name: rsp
instrument: xrt
num_channels: 3
first_channel: 1
energy_low: [1, 2, 3]
energy_high: [2, 3, 4]
rows:
  - {f_chan: [1], n_chan: [1], matrix: [2]}
  - {f_chan: [2], n_chan: [1], matrix: [2]}
  - {f_chan: [3], n_chan: [1], matrix: [2]}
`

const testSpectrum = `kind: spectrum
name: src
instrument: xrt
start_chan: 1
exposure: 10
counts: [10, 20, 30]
response: rsp.yaml
`

// On the response grid; folds to rates 1, 2, 3.
const testFlux = `kind: flux
name: pl
values: [0.5, 1, 1.5]
`

// The same flux on a grid twice as fine.
const testFineFlux = `kind: flux
name: pl-fine
energy: [1, 1.5, 2, 2.5, 3, 3.5, 4]
values: [0.25, 0.25, 0.5, 0.5, 0.75, 0.75]
`

// setupTestEnv writes a config with one profile whose archive is a fresh
// directory holding the test products, and points --config at it.
func setupTestEnv(t *testing.T) (archiveDir string) {
	t.Helper()
	dir := t.TempDir()
	archiveDir = filepath.Join(dir, "archive")
	for name, content := range map[string]string{
		"rsp.yaml":       testResponse,
		"obs/src.yaml":   testSpectrum,
		"obs/rsp.yaml":   testResponse,
		"flux.yaml":      testFlux,
		"flux-fine.yaml": testFineFlux,
	} {
		writeFile(t, filepath.Join(archiveDir, name), content)
	}

	cfg := filepath.Join(dir, "config.yaml")
	writeFile(t, cfg, `current_profile: test
profiles:
  test:
    statistic: cstat
    archive:
      dir: `+archiveDir+`
    caldb: `+filepath.Join(dir, "caldb")+`
`)
	defaultConfig = cfg
	t.Cleanup(func() { defaultConfig = "" })
	return archiveDir
}

// defaultConfig is passed as --config to every runCmd call when set.
var defaultConfig string

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	if defaultConfig != "" {
		args = append([]string{"--config", defaultConfig}, args...)
	}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var outBuf, errBuf bytes.Buffer
	outBuf.ReadFrom(rOut)
	errBuf.ReadFrom(rErr)

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		stderr = err.Error()
	}

	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
			return
		}
		f.Value.Set(f.DefValue)
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// runJSON runs a command with JSON output and decodes stdout into v.
func runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	stdout, stderr, code := runCmd(t, append(args, "-f", "json")...)
	if code != 0 {
		t.Fatalf("%v: exit %d: %s", args, code, stderr)
	}
	if err := json.Unmarshal([]byte(stdout), v); err != nil {
		t.Fatalf("%v: invalid JSON %q: %v", args, stdout, err)
	}
}

func channelValues(out *foldOutput) (observed, model []float64) {
	for _, ch := range out.Channels {
		observed = append(observed, ch.Observed)
		model = append(model, ch.Model)
	}
	return observed, model
}

var approx = cmpopts.EquateApprox(0, 1e-12)

func TestFold(t *testing.T) {
	setupTestEnv(t)

	var out foldOutput
	runJSON(t, &out, "fold", "obs/src.yaml", "--flux", "flux.yaml")
	observed, model := channelValues(&out)
	if diff := cmp.Diff([]float64{1, 2, 3}, model, approx); diff != "" {
		t.Errorf("model rate (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, observed, approx); diff != "" {
		t.Errorf("observed rate (-want +got):\n%s", diff)
	}
	if out.Spectrum != "src" || out.Output != "rate" || out.Total != 6 {
		t.Errorf("got %s %s total %g", out.Spectrum, out.Output, out.Total)
	}
}

func TestFoldCountsAndChannels(t *testing.T) {
	setupTestEnv(t)

	var out foldOutput
	runJSON(t, &out, "fold", "obs/src.yaml", "--flux", "flux.yaml", "--counts", "--channels", "2:3")
	_, model := channelValues(&out)
	if diff := cmp.Diff([]float64{20, 30}, model, approx); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
	if out.Channels[0].Channel != 2 {
		t.Errorf("first channel = %d, want 2", out.Channels[0].Channel)
	}
}

func TestFoldFineGrid(t *testing.T) {
	setupTestEnv(t)

	var out foldOutput
	runJSON(t, &out, "fold", "obs/src.yaml", "--flux", "flux-fine.yaml")
	_, model := channelValues(&out)
	if diff := cmp.Diff([]float64{1, 2, 3}, model, approx); diff != "" {
		t.Errorf("model rate (-want +got):\n%s", diff)
	}
}

func TestFoldErrors(t *testing.T) {
	setupTestEnv(t)

	if _, stderr, code := runCmd(t, "fold", "obs/src.yaml"); code == 0 || !strings.Contains(stderr, "--flux") {
		t.Errorf("missing --flux: exit %d, %s", code, stderr)
	}
	if _, _, code := runCmd(t, "fold", "obs/missing.yaml", "--flux", "flux.yaml"); code == 0 {
		t.Error("missing spectrum should fail")
	}
	if _, stderr, code := runCmd(t, "fold", "obs/src.yaml", "--flux", "flux.yaml", "--channels", "2-3"); code == 0 || !strings.Contains(stderr, "--channels") {
		t.Errorf("bad range: exit %d, %s", code, stderr)
	}
}

func TestTableOutput(t *testing.T) {
	setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "fold", "obs/src.yaml", "--flux", "flux.yaml", "-f", "table")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{"src", "channel", "model"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("table missing %q:\n%s", want, stdout)
		}
	}
	if _, _, code := runCmd(t, "fold", "obs/src.yaml", "--flux", "flux.yaml", "-f", "table", "-q", ".total"); code == 0 {
		t.Error("query with table output should fail")
	}
}

func TestStat(t *testing.T) {
	setupTestEnv(t)

	for _, kind := range []string{"cstat", "chi"} {
		var out struct {
			Kind      string  `json:"kind"`
			Statistic float64 `json:"statistic"`
			DOF       int     `json:"dof"`
			Channels  []struct {
				Channel int     `json:"channel"`
				Value   float64 `json:"value"`
			} `json:"channels"`
		}
		runJSON(t, &out, "stat", "obs/src.yaml", "--flux", "flux.yaml", "--statistic", kind)
		if out.Kind != kind || out.DOF != 3 || len(out.Channels) != 3 {
			t.Errorf("%s: got kind %s, dof %d, %d channels", kind, out.Kind, out.DOF, len(out.Channels))
		}
		if out.Statistic != 0 {
			t.Errorf("%s of the exact model = %g, want 0", kind, out.Statistic)
		}
	}

	stdout, stderr, code := runCmd(t, "stat", "obs/src.yaml", "--flux", "flux.yaml", "-r", "rsp.yaml", "--channels", "1:1", "-q", ".statistic", "-f", "json")
	if code != 0 || strings.TrimSpace(stdout) != "0" {
		t.Errorf("channel 1 alone: exit %d, %q, %s", code, stdout, stderr)
	}
}

func TestGoodnessOfFit(t *testing.T) {
	setupTestEnv(t)

	var r simulate.Result
	runJSON(t, &r, "gof", "obs/src.yaml", "--flux", "flux.yaml", "--trials", "20", "--workers", "2", "--seed", "7")
	if r.Kind.String() != "cstat" || r.Seed != 7 || r.Trials != nil {
		t.Errorf("got %+v", r)
	}
	// The exact model has statistic 0 and no trial can fall below it.
	if r.Observed != 0 || r.Fraction != 0 {
		t.Errorf("observed %g fraction %g, want 0 and 0", r.Observed, r.Fraction)
	}

	var again simulate.Result
	runJSON(t, &again, "gof", "obs/src.yaml", "--flux", "flux.yaml", "--trials", "20", "--workers", "5", "--seed", "7", "--keep-trials")
	if len(again.Trials) != 20 {
		t.Fatalf("kept %d trials, want 20", len(again.Trials))
	}
	if again.Mean != r.Mean {
		t.Errorf("mean depends on workers: %g vs %g", again.Mean, r.Mean)
	}
}

func TestRebin(t *testing.T) {
	archiveDir := setupTestEnv(t)

	var out struct {
		Energy []float64 `json:"energy"`
		Values []float64 `json:"values"`
	}
	runJSON(t, &out, "rebin", "flux-fine.yaml", "--like", "rsp.yaml", "--save", "flux-coarse.json")
	if diff := cmp.Diff([]float64{0.5, 1, 1.5}, out.Values, approx); diff != "" {
		t.Errorf("rebinned (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(archiveDir, "flux-coarse.json")); err != nil {
		t.Errorf("saved flux: %v", err)
	}

	runJSON(t, &out, "rebin", "flux-fine.yaml", "--energy", "1:4", "--bins", "1", "--method", "interp")
	if diff := cmp.Diff([]float64{1, 4}, out.Energy, approx); diff != "" {
		t.Errorf("energy (-want +got):\n%s", diff)
	}
	if len(out.Values) != 1 {
		t.Errorf("values = %v, want one bin", out.Values)
	}

	if _, stderr, code := runCmd(t, "rebin", "flux.yaml", "--like", "rsp.yaml"); code == 0 || !strings.Contains(stderr, "no energy grid") {
		t.Errorf("flux without grid: exit %d, %s", code, stderr)
	}
	if _, _, code := runCmd(t, "rebin", "flux-fine.yaml", "--like", "rsp.yaml", "--method", "spline"); code == 0 {
		t.Error("unknown method should fail")
	}
}

func TestRspInfoAndNormalize(t *testing.T) {
	setupTestEnv(t)

	var info rspInfo
	runJSON(t, &info, "rsp", "info", "rsp.yaml")
	if !info.Usable || info.Elements != 3 || info.Channels != 3 || info.PeakArea != 2 || info.PeakEnergy != 1.5 {
		t.Errorf("got %+v", info)
	}

	if _, stderr, code := runCmd(t, "rsp", "normalize", "rsp.yaml", "--save", "rsp-unit.yaml"); code != 0 {
		t.Fatalf("normalize: %s", stderr)
	}
	var out foldOutput
	runJSON(t, &out, "fold", "obs/src.yaml", "--flux", "flux.yaml", "-r", "rsp-unit.yaml")
	_, model := channelValues(&out)
	if diff := cmp.Diff([]float64{0.5, 1, 1.5}, model, approx); diff != "" {
		t.Errorf("normalized fold (-want +got):\n%s", diff)
	}

	if _, stderr, code := runCmd(t, "rsp", "compress", "rsp.yaml"); code == 0 || !strings.Contains(stderr, "threshold") {
		t.Errorf("compress without threshold: exit %d, %s", code, stderr)
	}
	runJSON(t, &info, "rsp", "compress", "rsp.yaml", "--threshold", "5", "--save", "rsp-empty.yaml")
	if info.Elements != 0 {
		t.Errorf("compressed elements = %d, want 0", info.Elements)
	}
}

func TestCalDB(t *testing.T) {
	setupTestEnv(t)

	var recs []struct {
		Instrument string `json:"instrument"`
		Kind       string `json:"kind"`
		Name       string `json:"name"`
		ID         string `json:"id"`
	}
	runJSON(t, &recs, "caldb", "put", "rsp.yaml", "flux.yaml", "--instrument", "xrt")
	if len(recs) != 2 || recs[0].Kind != "response" || recs[1].Kind != "flux" || recs[0].ID == "" {
		t.Fatalf("put: %+v", recs)
	}

	runJSON(t, &recs, "caldb", "list", "xrt", "--kind", "response")
	if len(recs) != 1 || recs[0].Name != "rsp" {
		t.Errorf("list: %+v", recs)
	}

	var out foldOutput
	runJSON(t, &out, "fold", "obs/src.yaml", "--flux", "flux.yaml", "-r", "caldb:xrt/rsp")
	_, model := channelValues(&out)
	if diff := cmp.Diff([]float64{1, 2, 3}, model, approx); diff != "" {
		t.Errorf("fold with stored response (-want +got):\n%s", diff)
	}

	if _, stderr, code := runCmd(t, "caldb", "get", "xrt", "response", "rsp", "--save", "copy.msgpack"); code != 0 {
		t.Fatalf("get --save: %s", stderr)
	}
	var info rspInfo
	runJSON(t, &info, "rsp", "info", "copy.msgpack")
	if info.Elements != 3 {
		t.Errorf("copied response has %d elements", info.Elements)
	}

	if _, stderr, code := runCmd(t, "caldb", "delete", "xrt", "response", "rsp"); code != 0 {
		t.Fatalf("delete: %s", stderr)
	}
	if _, _, code := runCmd(t, "caldb", "get", "xrt", "response", "rsp"); code == 0 {
		t.Error("get after delete should fail")
	}
	if _, stderr, code := runCmd(t, "fold", "obs/src.yaml", "--flux", "flux.yaml", "-r", "caldb:xrt"); code == 0 || !strings.Contains(stderr, "caldb:<instrument>/<name>") {
		t.Errorf("bad reference: exit %d, %s", code, stderr)
	}
}

func TestConfigProfiles(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "xfold", "config.yaml")
	defaultConfig = cfg
	t.Cleanup(func() { defaultConfig = "" })

	if _, stderr, code := runCmd(t, "config", "add-profile", "lab", "--dir", "/data", "--statistic", "chi", "--workers", "4"); code != 0 {
		t.Fatalf("add lab: %s", stderr)
	}
	if _, stderr, code := runCmd(t, "config", "add-profile", "cloud", "--bucket", "obs", "--prefix", "xrt"); code != 0 {
		t.Fatalf("add cloud: %s", stderr)
	}
	if _, _, code := runCmd(t, "config", "add-profile", "bad", "--statistic", "likelihood"); code == 0 {
		t.Error("unknown statistic should be rejected")
	}

	stdout, stderr, code := runCmd(t, "config", "list", "-f", "json", "-q", "[.current, (.profiles | length)]")
	if code != 0 {
		t.Fatalf("list: %s", stderr)
	}
	var got []any
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{"lab", float64(2)}, got); diff != "" {
		t.Errorf("list (-want +got):\n%s", diff)
	}

	if _, stderr, code := runCmd(t, "config", "use-profile", "cloud"); code != 0 {
		t.Fatalf("use: %s", stderr)
	}
	stdout, _, _ = runCmd(t, "config", "show")
	if !strings.Contains(stdout, "bucket: obs") || !strings.Contains(stdout, "statistic: cstat") {
		t.Errorf("show cloud:\n%s", stdout)
	}
	stdout, _, _ = runCmd(t, "config", "show", "lab")
	if !strings.Contains(stdout, "statistic: chi") || !strings.Contains(stdout, "workers: 4") {
		t.Errorf("show lab:\n%s", stdout)
	}

	if _, stderr, code := runCmd(t, "config", "delete-profile", "lab"); code != 0 {
		t.Fatalf("delete: %s", stderr)
	}
	if _, _, code := runCmd(t, "config", "use-profile", "lab"); code == 0 {
		t.Error("deleted profile should not be selectable")
	}
	stdout, _, _ = runCmd(t, "config", "path")
	if strings.TrimSpace(stdout) != cfg {
		t.Errorf("path = %q, want %q", stdout, cfg)
	}
}

func TestSchema(t *testing.T) {
	setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "schema", "spectrum", "-f", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"counts"`) || !strings.Contains(stdout, `"exposure"`) {
		t.Errorf("schema:\n%s", stdout)
	}
	if _, _, code := runCmd(t, "schema", "arf"); code == 0 {
		t.Error("unknown kind should fail")
	}
}

func TestVersion(t *testing.T) {
	stdout, _, code := runCmd(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "xfold dev") {
		t.Fatalf("expected 'xfold dev', got: %s", stdout)
	}

	var info build.Info
	runJSON(t, &info, "version")
	if info.Version != build.Version || info.Go == "" {
		t.Errorf("got %+v", info)
	}
}
