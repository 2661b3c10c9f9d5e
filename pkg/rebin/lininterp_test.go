package rebin

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLinInterpConstantDensity(t *testing.T) {
	got, err := LinInterpInteg(Edges{0, 2, 4}, []float64{2, 2}, Linear(0, 4, 8))
	if err != nil {
		t.Fatal(err)
	}
	for j, v := range got {
		if math.Abs(v-0.5) > 1e-12 {
			t.Errorf("bin %d = %g, want 0.5", j, v)
		}
	}

	got, err = LinInterpInteg(Edges{0, 2, 4}, []float64{2, 2}, Edges{-1, 0, 4, 5})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0, 4, 0}, got, approx); diff != "" {
		t.Errorf("clipped integral mismatch (-want +got):\n%s", diff)
	}
}

func TestLinInterpLinearDensity(t *testing.T) {
	// Densities 1, 2, 3 at centres 0.5, 1.5, 2.5: d(x) = x + 0.5.
	got, err := LinInterpInteg(Edges{0, 1, 2, 3}, []float64{1, 2, 3}, Edges{0.5, 2.5})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got[0]-4) > 1e-12 {
		t.Errorf("integral = %g, want 4", got[0])
	}
}

func TestLinInterpStreamingMatchesOneShot(t *testing.T) {
	src := Edges{0, 1, 3, 4, 8}
	values := []float64{1, 5, 2, 4}
	dst := Linear(0, 8, 16)

	want, err := LinInterpInteg(src, values, dst)
	if err != nil {
		t.Fatal(err)
	}

	var l LinInterp
	l.Reset()
	got := make([]float64, dst.Bins())
	for _, r := range [][2]int{{0, 5}, {5, 11}, {11, 16}} {
		if err := l.Integ(src, values, dst, got, r[0], r[1]); err != nil {
			t.Fatal(err)
		}
		if _, out := l.Cursors(); out != r[1] {
			t.Errorf("output cursor = %d, want %d", out, r[1])
		}
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("streamed integral mismatch (-want +got):\n%s", diff)
	}

	// A rewinding call restarts from the beginning and still agrees.
	if err := l.Integ(src, values, dst, got, 0, 3); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[:3], got[:3], approx); diff != "" {
		t.Errorf("rewound integral mismatch (-want +got):\n%s", diff)
	}
}

func TestLinInterpConservesTotalOnFineGrid(t *testing.T) {
	src := Edges{0, 1, 2, 3}
	values := []float64{3, 3, 3}
	got, err := LinInterpInteg(src, values, Linear(0, 3, 300))
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, v := range got {
		sum += v
	}
	if math.Abs(sum-9) > 1e-9 {
		t.Errorf("total = %g, want 9", sum)
	}
}
