package spectrum_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/haivivi/xfold/pkg/response"
	"github.com/haivivi/xfold/pkg/spectrum"
)

func newData(t *testing.T, counts []float64) *spectrum.Data {
	t.Helper()
	d, err := spectrum.New(spectrum.Options{
		Name:      "src",
		Counts:    counts,
		StartChan: 1,
		Exposure:  100,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNewDefaults(t *testing.T) {
	d := newData(t, []float64{10, 0, 5, 2})
	if !d.Poisson {
		t.Errorf("integer counts without errors should be Poisson")
	}
	if diff := cmp.Diff([]float64{1, 1, 1, 1}, d.AreaScale); diff != "" {
		t.Errorf("AreaScale mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 1, 1, 1}, d.Grouping); diff != "" {
		t.Errorf("Grouping mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{10, 0, 5, 2}, d.Variance); diff != "" {
		t.Errorf("Variance mismatch (-want +got):\n%s", diff)
	}
	if d.NumNoticed() != 4 {
		t.Errorf("NumNoticed = %d, want 4", d.NumNoticed())
	}
	if d.EndChan() != 4 {
		t.Errorf("EndChan = %d, want 4", d.EndChan())
	}
	if got := d.TotalCounts(); got != 17 {
		t.Errorf("TotalCounts = %g, want 17", got)
	}
}

func TestNewWithErrors(t *testing.T) {
	d, err := spectrum.New(spectrum.Options{
		Counts:   []float64{1.5, 2},
		StatErr:  []float64{0.5, 2},
		Exposure: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Poisson {
		t.Errorf("spectrum with errors should not be Poisson")
	}
	if diff := cmp.Diff([]float64{0.25, 4}, d.Variance); diff != "" {
		t.Errorf("Variance mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.0025, 0.04}, d.RateVariance(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("RateVariance mismatch (-want +got):\n%s", diff)
	}
}

func TestRateUsesAreaScale(t *testing.T) {
	d, err := spectrum.New(spectrum.Options{
		Counts:    []float64{10, 20, 30},
		Exposure:  10,
		AreaScale: []float64{1, 2, 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	approx := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff([]float64{1, 1, 6}, d.Rate(), approx); diff != "" {
		t.Errorf("Rate mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.1, 0.05, 1.2}, d.RateVariance(), approx); diff != "" {
		t.Errorf("RateVariance mismatch (-want +got):\n%s", diff)
	}
	if d.Counts[0] != 10 || d.AreaScale[1] != 2 {
		t.Errorf("inputs modified: %v %v", d.Counts, d.AreaScale)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		opts spectrum.Options
		want error
	}{
		"no channels":   {spectrum.Options{Exposure: 1}, spectrum.ErrInvalid},
		"zero exposure": {spectrum.Options{Counts: []float64{1}}, spectrum.ErrInvalid},
		"short quality": {spectrum.Options{Counts: []float64{1, 2}, Exposure: 1, Quality: []int{0}}, spectrum.ErrSizeMismatch},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := spectrum.New(tc.opts); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNoticeIgnore(t *testing.T) {
	d := newData(t, []float64{1, 2, 3, 4, 5})
	gen := d.Generation()

	if err := d.Ignore(2, 3); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 3, 4}, d.Noticed()); diff != "" {
		t.Errorf("Noticed mismatch (-want +got):\n%s", diff)
	}
	if d.Generation() == gen {
		t.Errorf("Generation did not change")
	}
	if d.IsNoticed(1) {
		t.Errorf("channel index 1 should be ignored")
	}

	if err := d.Notice(3, 99); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 2, 3, 4}, d.Noticed()); diff != "" {
		t.Errorf("Noticed mismatch (-want +got):\n%s", diff)
	}
	if err := d.Notice(10, 20); !errors.Is(err, spectrum.ErrInvalid) {
		t.Errorf("expected ErrInvalid for a range outside the spectrum, got %v", err)
	}
}

func TestIgnoreBad(t *testing.T) {
	d, err := spectrum.New(spectrum.Options{
		Counts:   []float64{1, 2, 3},
		Exposure: 1,
		Quality:  []int{0, 5, 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := d.IgnoreBad(); n != 2 {
		t.Errorf("IgnoreBad = %d, want 2", n)
	}
	if n := d.IgnoreBad(); n != 0 {
		t.Errorf("second IgnoreBad = %d, want 0", n)
	}
	if diff := cmp.Diff([]int{0}, d.Noticed()); diff != "" {
		t.Errorf("Noticed mismatch (-want +got):\n%s", diff)
	}
}

func TestNoticeEnergy(t *testing.T) {
	rows := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	m, err := response.NewFromRows([]float64{0, 1, 2}, []float64{1, 2, 3}, rows, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := newData(t, []float64{1, 2, 3})
	if err := d.NoticeEnergy(1.2, 1.8, m); !errors.Is(err, response.ErrNoChannelBounds) {
		t.Fatalf("expected ErrNoChannelBounds, got %v", err)
	}
	if err := m.SetChannelBounds([]float64{0, 1, 2}, []float64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := d.NoticeEnergy(1.2, 2.5, m); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2}, d.Noticed()); diff != "" {
		t.Errorf("Noticed mismatch (-want +got):\n%s", diff)
	}
}

func TestGroup(t *testing.T) {
	d, err := spectrum.New(spectrum.Options{
		Counts:    []float64{1, 2, 3, 4, 5},
		Exposure:  10,
		AreaScale: []float64{1, 3, 1, 1, 1},
		Quality:   []int{0, 0, 0, 2, 0},
		Grouping:  []int{1, -1, 1, -1, -1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Ignore(4, 4); err != nil {
		t.Fatal(err)
	}
	g, m, err := d.Group()
	if err != nil {
		t.Fatal(err)
	}
	if m.Dst.Bins() != 2 {
		t.Fatalf("grouped channels = %d, want 2", m.Dst.Bins())
	}
	if diff := cmp.Diff([]float64{3, 12}, g.Counts); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{2, 1}, g.AreaScale, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("AreaScale mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 2}, g.Quality); diff != "" {
		t.Errorf("Quality mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0}, g.Noticed()); diff != "" {
		t.Errorf("Noticed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 2, 3, 4, 5}, d.Counts); diff != "" {
		t.Errorf("original counts changed (-want +got):\n%s", diff)
	}
}

func TestWithCounts(t *testing.T) {
	d, err := spectrum.New(spectrum.Options{
		Counts:   []float64{1.5, 2},
		StatErr:  []float64{1, 1},
		Exposure: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Ignore(0, 0); err != nil {
		t.Fatal(err)
	}
	s, err := d.WithCounts([]float64{4, 7})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Poisson || s.RawVariance != nil {
		t.Errorf("simulated copy should be Poisson without file errors")
	}
	if diff := cmp.Diff([]float64{4, 7}, s.Variance); diff != "" {
		t.Errorf("Variance mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1}, s.Noticed()); diff != "" {
		t.Errorf("notice state not kept (-want +got):\n%s", diff)
	}
	if _, err := d.WithCounts([]float64{1}); !errors.Is(err, spectrum.ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := spectrum.NewRegistry()
	src := r.Add(newData(t, []float64{1, 2, 3}))
	bkg := r.Add(newData(t, []float64{0, 1, 0}))
	cor := r.Add(newData(t, []float64{1, 1, 1}))
	short := r.Add(newData(t, []float64{1}))

	if err := r.AttachBackground(src, bkg); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachCorrection(src, cor, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachBackground(src, short); !errors.Is(err, spectrum.ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
	if err := r.AttachBackground(src, src); !errors.Is(err, spectrum.ErrBadHandle) {
		t.Errorf("expected ErrBadHandle for self reference, got %v", err)
	}

	b, err := r.Background(src)
	if err != nil || b == nil {
		t.Fatalf("Background = %v, %v", b, err)
	}
	if b.Counts[1] != 1 {
		t.Errorf("wrong background record")
	}

	if err := r.Remove(bkg); err != nil {
		t.Fatal(err)
	}
	if b, err := r.Background(src); err != nil || b != nil {
		t.Errorf("Background after Remove = %v, %v; want nil, nil", b, err)
	}
	if _, err := r.Get(bkg); !errors.Is(err, spectrum.ErrBadHandle) {
		t.Errorf("expected ErrBadHandle for removed record, got %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}

	if err := r.DetachCorrection(src); err != nil {
		t.Fatal(err)
	}
	s, _ := r.Get(src)
	if s.Correction != spectrum.None || s.CorrectionNorm != 0 {
		t.Errorf("correction not detached: %v %g", s.Correction, s.CorrectionNorm)
	}

	var handles []spectrum.Handle
	for h := range r.All() {
		handles = append(handles, h)
	}
	if diff := cmp.Diff([]spectrum.Handle{src, cor, short}, handles); diff != "" {
		t.Errorf("handles mismatch (-want +got):\n%s", diff)
	}
}
