package spectrum

import (
	"fmt"
	"iter"
)

// Handle names a record in a Registry. The zero Handle names nothing.
type Handle int

// None is the zero Handle.
const None Handle = 0

// Registry is an indexed arena of spectra. Handles stay valid until the
// record is removed and are never reused within one Registry.
//
// A Registry is not safe for concurrent mutation; concurrent readers are
// fine once loading is complete.
type Registry struct {
	items []*Data
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add stores d and returns its handle.
func (r *Registry) Add(d *Data) Handle {
	r.items = append(r.items, d)
	return Handle(len(r.items))
}

// Get returns the record for h.
func (r *Registry) Get(h Handle) (*Data, error) {
	if h <= 0 || int(h) > len(r.items) || r.items[h-1] == nil {
		return nil, fmt.Errorf("%w: %d", ErrBadHandle, h)
	}
	return r.items[h-1], nil
}

// Remove deletes the record for h and detaches it from every record that
// used it as background or correction.
func (r *Registry) Remove(h Handle) error {
	if _, err := r.Get(h); err != nil {
		return err
	}
	r.items[h-1] = nil
	for _, d := range r.items {
		if d == nil {
			continue
		}
		if d.Background == h {
			d.Background = None
		}
		if d.Correction == h {
			d.Correction = None
			d.CorrectionNorm = 0
		}
	}
	return nil
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	n := 0
	for _, d := range r.items {
		if d != nil {
			n++
		}
	}
	return n
}

// All iterates over live records in handle order.
func (r *Registry) All() iter.Seq2[Handle, *Data] {
	return func(yield func(Handle, *Data) bool) {
		for i, d := range r.items {
			if d == nil {
				continue
			}
			if !yield(Handle(i+1), d) {
				return
			}
		}
	}
}

// AttachBackground makes bkg the background of src. Both must have the same
// number of channels.
func (r *Registry) AttachBackground(src, bkg Handle) error {
	s, b, err := r.pair(src, bkg)
	if err != nil {
		return err
	}
	if b.Channels() != s.Channels() {
		return fmt.Errorf("%w: background has %d channels, source %d", ErrSizeMismatch, b.Channels(), s.Channels())
	}
	s.Background = bkg
	return nil
}

// DetachBackground clears the background of src.
func (r *Registry) DetachBackground(src Handle) error {
	s, err := r.Get(src)
	if err != nil {
		return err
	}
	s.Background = None
	return nil
}

// AttachCorrection makes cor the correction spectrum of src, scaled by norm.
func (r *Registry) AttachCorrection(src, cor Handle, norm float64) error {
	s, c, err := r.pair(src, cor)
	if err != nil {
		return err
	}
	if c.Channels() != s.Channels() {
		return fmt.Errorf("%w: correction has %d channels, source %d", ErrSizeMismatch, c.Channels(), s.Channels())
	}
	s.Correction = cor
	s.CorrectionNorm = norm
	return nil
}

// DetachCorrection clears the correction of src.
func (r *Registry) DetachCorrection(src Handle) error {
	s, err := r.Get(src)
	if err != nil {
		return err
	}
	s.Correction = None
	s.CorrectionNorm = 0
	return nil
}

// Background returns the background of src, or nil if it has none.
func (r *Registry) Background(src Handle) (*Data, error) {
	s, err := r.Get(src)
	if err != nil {
		return nil, err
	}
	if s.Background == None {
		return nil, nil
	}
	return r.Get(s.Background)
}

// Correction returns the correction spectrum of src, or nil if it has none.
func (r *Registry) Correction(src Handle) (*Data, error) {
	s, err := r.Get(src)
	if err != nil {
		return nil, err
	}
	if s.Correction == None {
		return nil, nil
	}
	return r.Get(s.Correction)
}

func (r *Registry) pair(a, b Handle) (*Data, *Data, error) {
	if a == b {
		return nil, nil, fmt.Errorf("%w: record %d cannot refer to itself", ErrBadHandle, a)
	}
	da, err := r.Get(a)
	if err != nil {
		return nil, nil, err
	}
	db, err := r.Get(b)
	if err != nil {
		return nil, nil, err
	}
	return da, db, nil
}
