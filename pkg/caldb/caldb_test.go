package caldb

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/haivivi/xfold/pkg/product"
	"github.com/haivivi/xfold/pkg/response"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	b, err := NewBadger(BadgerOptions{InMemory: true, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]Backend{"badger": b, "memory": NewMemory()}
}

func testResponse(t *testing.T) *product.Response {
	t.Helper()
	m, err := response.NewFromRows([]float64{1, 2}, []float64{2, 3}, [][]float64{{0.9, 0.1}, {0, 1}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return product.FromMatrix("pc", "xrt", m)
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	for name, be := range backends(t) {
		t.Run(name, func(t *testing.T) {
			db := New(be, nil)
			clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			db.now = func() time.Time { return clock }

			rec, err := db.Put(ctx, "", testResponse(t))
			if err != nil {
				t.Fatal(err)
			}
			if rec.Instrument != "xrt" || rec.Kind != product.KindResponse || rec.Name != "pc" {
				t.Fatalf("record key = %s, want xrt:response:pc", rec.Key())
			}

			m, err := db.Response(ctx, "xrt", "pc")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]float64{0.9, 0.1}, m.Row(0)); diff != "" {
				t.Errorf("row 0 mismatch (-want +got):\n%s", diff)
			}

			clock = clock.Add(time.Hour)
			again, err := db.Put(ctx, "xrt", testResponse(t))
			if err != nil {
				t.Fatal(err)
			}
			if again.ID != rec.ID {
				t.Errorf("replacing changed the ID: %v -> %v", rec.ID, again.ID)
			}
			got, err := db.Get(ctx, "xrt", product.KindResponse, "pc")
			if err != nil {
				t.Fatal(err)
			}
			if !got.Created.Equal(rec.Created) || !got.Updated.Equal(clock) {
				t.Errorf("Created/Updated = %v/%v, want %v/%v", got.Created, got.Updated, rec.Created, clock)
			}
		})
	}
}

func TestKindFilledIn(t *testing.T) {
	db := New(NewMemory(), nil)
	ctx := context.Background()
	flux := &product.Flux{Name: "pl", Values: product.Array{1, 2}}
	if _, err := db.Put(ctx, "xrt", flux); err != nil {
		t.Fatal(err)
	}
	if flux.Kind != "" {
		t.Errorf("Put modified the caller's document")
	}
	rec, err := db.Get(ctx, "xrt", product.KindFlux, "pl")
	if err != nil {
		t.Fatal(err)
	}
	v, err := rec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	f, ok := v.(*product.Flux)
	if !ok {
		t.Fatalf("Decode returned %T, want *product.Flux", v)
	}
	if diff := cmp.Diff(product.Array{1, 2}, f.Values); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	for name, be := range backends(t) {
		t.Run(name, func(t *testing.T) {
			db := New(be, nil)
			docs := []struct {
				instrument string
				doc        any
			}{
				{"xrt", testResponse(t)},
				{"xrt", &product.Spectrum{Name: "obs1", Exposure: 10, Counts: product.Array{1, 2}}},
				{"xrt", &product.Spectrum{Name: "obs2", Exposure: 10, Counts: product.Array{3, 4}}},
				{"xrtb", &product.Spectrum{Name: "obs1", Exposure: 10, Counts: product.Array{5}}},
			}
			for _, d := range docs {
				if _, err := db.Put(ctx, d.instrument, d.doc); err != nil {
					t.Fatal(err)
				}
			}

			keys := func(recs []*Record) []string {
				var out []string
				for _, r := range recs {
					out = append(out, r.Key().String())
				}
				return out
			}
			for _, tt := range []struct {
				instrument, kind string
				want             []string
			}{
				{"xrt", "", []string{"xrt:response:pc", "xrt:spectrum:obs1", "xrt:spectrum:obs2"}},
				{"xrt", product.KindSpectrum, []string{"xrt:spectrum:obs1", "xrt:spectrum:obs2"}},
				{"", product.KindSpectrum, []string{"xrt:spectrum:obs1", "xrt:spectrum:obs2", "xrtb:spectrum:obs1"}},
				{"", "", []string{"xrt:response:pc", "xrt:spectrum:obs1", "xrt:spectrum:obs2", "xrtb:spectrum:obs1"}},
				{"nustar", "", nil},
			} {
				recs, err := db.List(ctx, tt.instrument, tt.kind)
				if err != nil {
					t.Fatal(err)
				}
				if diff := cmp.Diff(tt.want, keys(recs)); diff != "" {
					t.Errorf("List(%q, %q) mismatch (-want +got):\n%s", tt.instrument, tt.kind, diff)
				}
			}

			if err := db.Delete(ctx, "xrt", product.KindSpectrum, "obs1"); err != nil {
				t.Fatal(err)
			}
			if err := db.Delete(ctx, "xrt", product.KindSpectrum, "obs1"); err != nil {
				t.Errorf("second Delete: %v", err)
			}
			if _, err := db.Get(ctx, "xrt", product.KindSpectrum, "obs1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestBadKeys(t *testing.T) {
	db := New(NewMemory(), nil)
	ctx := context.Background()
	if _, err := db.Put(ctx, "", &product.Flux{Name: "pl"}); !errors.Is(err, ErrBadKey) {
		t.Errorf("empty instrument: expected ErrBadKey, got %v", err)
	}
	if _, err := db.Put(ctx, "a:b", &product.Flux{Name: "pl"}); !errors.Is(err, ErrBadKey) {
		t.Errorf("separator in instrument: expected ErrBadKey, got %v", err)
	}
	if _, err := db.Put(ctx, "xrt", "not a document"); !errors.Is(err, product.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := db.Get(ctx, "xrt", "", "pl"); !errors.Is(err, ErrBadKey) {
		t.Errorf("Get with empty kind: expected ErrBadKey, got %v", err)
	}
}

func TestBadgerOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	quiet := slog.New(slog.DiscardHandler)

	db, err := Open(Options{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Put(ctx, "", testResponse(t)); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = Open(Options{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Response(ctx, "xrt", "pc"); err != nil {
		t.Errorf("response not persisted: %v", err)
	}
}

func TestListStopsEarly(t *testing.T) {
	ctx := context.Background()
	for name, be := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "b", "c"} {
				if err := be.Set(ctx, Key{"x", k}, []byte(k)); err != nil {
					t.Fatal(err)
				}
			}
			n := 0
			for _, err := range be.List(ctx, Key{"x"}) {
				if err != nil {
					t.Fatal(err)
				}
				n++
				if n == 2 {
					break
				}
			}
			if n != 2 {
				t.Errorf("iterated %d entries, want 2", n)
			}
		})
	}
}
